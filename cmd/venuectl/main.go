// Command venuectl operates a venuepass deployment: schema migrations,
// catalog seeding, token issuance, check-ins, reviews, gamification events
// and the notification relay.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:     "venuectl",
		Usage:    "operate venuepass check-ins, points and rewards",
		Commands: allCommands(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func allCommands() []*cli.Command {
	return []*cli.Command{
		commandMigrate(),
		commandSeed(),
		commandPutVenue(),
		commandIssueToken(),
		commandRevokeToken(),
		commandCheckin(),
		commandReview(),
		commandListVisits(),
		commandEvent(),
		commandProgress(),
		commandRedeemPromotion(),
		commandRedeemReward(),
		commandRelayOutbox(),
	}
}
