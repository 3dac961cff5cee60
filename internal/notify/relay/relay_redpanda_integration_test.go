//go:build integration

package relay_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"venuepass/internal/notify"
	"venuepass/internal/notify/relay"
	"venuepass/internal/storage"
	"venuepass/internal/storage/memory"
	id "venuepass/pkg/domain"
	"venuepass/pkg/testutil/containers"
)

type RedpandaRelaySuite struct {
	suite.Suite
	redpanda *containers.RedpandaContainer
	client   *kgo.Client
	admin    *kadm.Client
	ctx      context.Context
}

func TestRedpandaRelaySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedpandaRelaySuite))
}

func (s *RedpandaRelaySuite) SetupSuite() {
	s.ctx = context.Background()
	s.redpanda = containers.GetManager().GetRedpanda(s.T())
	client, err := kgo.NewClient(kgo.SeedBrokers(s.redpanda.Broker))
	s.Require().NoError(err)
	s.client = client
	s.admin = kadm.NewClient(client)
}

func (s *RedpandaRelaySuite) TearDownSuite() {
	s.client.Close()
}

func (s *RedpandaRelaySuite) TestEnsureTopic_Idempotent() {
	topic := "venuepass.test." + uuid.NewString()
	s.Require().NoError(relay.EnsureTopic(s.ctx, s.admin, topic, 1, 1))
	s.Require().NoError(relay.EnsureTopic(s.ctx, s.admin, topic, 1, 1))

	topics, err := s.admin.ListTopics(s.ctx, topic)
	s.Require().NoError(err)
	s.True(topics.Has(topic))
}

func (s *RedpandaRelaySuite) TestDrain_DeliversToTopic() {
	topic := "venuepass.notifications." + uuid.NewString()
	s.Require().NoError(relay.EnsureTopic(s.ctx, s.admin, topic, 1, 1))

	db := memory.New()
	user := id.UserID(uuid.New())
	s.Require().NoError(db.RunInTx(s.ctx, func(st storage.Stores) error {
		for _, kind := range []notify.Kind{notify.KindCheckinConfirmed, notify.KindChallengeCompleted} {
			if err := st.Outbox.Append(s.ctx, notify.New(user, kind, string(kind), "", nil, time.Now())); err != nil {
				return err
			}
		}
		return nil
	}))

	n, err := relay.New(db, s.client, topic).Drain(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, n)

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()
	var kinds []string
	for len(kinds) < 2 {
		fetches := consumer.PollFetches(ctx)
		s.Require().NoError(ctx.Err())
		fetches.EachRecord(func(r *kgo.Record) {
			s.Equal(user.String(), string(r.Key))
			var body struct {
				Kind string `json:"kind"`
			}
			s.Require().NoError(json.Unmarshal(r.Value, &body))
			kinds = append(kinds, body.Kind)
		})
	}
	s.Equal([]string{string(notify.KindCheckinConfirmed), string(notify.KindChallengeCompleted)}, kinds)
}
