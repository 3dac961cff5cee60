package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config gap kinds reported through venuepass_config_gaps_total.
const (
	GapEventDefinition = "event_definition"
	GapLevelTable      = "level_table"
	GapBadge           = "badge"
	GapPromotion       = "promotion"
)

// Metrics holds the Prometheus collectors for venuepass. All methods are safe
// to call on a nil *Metrics so services can run without instrumentation.
type Metrics struct {
	TokensIssued         *prometheus.CounterVec
	TokensRevoked        prometheus.Counter
	Checkins             *prometheus.CounterVec
	CheckinDuration      prometheus.Histogram
	Reviews              *prometheus.CounterVec
	PointsAwarded        *prometheus.CounterVec
	LevelPromotions      prometheus.Counter
	ChallengeCompletions prometheus.Counter
	ChallengeFailures    prometheus.Counter
	ConfigGaps           *prometheus.CounterVec
	RewardsMinted        *prometheus.CounterVec
	RewardsRedeemed      prometheus.Counter
	NotificationsRelayed prometheus.Counter
}

// New registers every collector on reg. Tests pass prometheus.NewRegistry()
// so repeated construction does not collide with the default registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TokensIssued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "venuepass_tokens_issued_total",
			Help: "Proximity tokens issued, by kind",
		}, []string{"kind"}),
		TokensRevoked: f.NewCounter(prometheus.CounterOpts{
			Name: "venuepass_tokens_revoked_total",
			Help: "Proximity tokens revoked by an operator",
		}),
		Checkins: f.NewCounterVec(prometheus.CounterOpts{
			Name: "venuepass_checkins_total",
			Help: "Check-in submissions, by outcome",
		}, []string{"outcome"}),
		CheckinDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "venuepass_checkin_duration_seconds",
			Help:    "Duration of check-in processing",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		Reviews: f.NewCounterVec(prometheus.CounterOpts{
			Name: "venuepass_checkin_reviews_total",
			Help: "Check-in reviews, by resulting status",
		}, []string{"status"}),
		PointsAwarded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "venuepass_points_awarded_total",
			Help: "Points credited through the ledger, by subject kind",
		}, []string{"subject"}),
		LevelPromotions: f.NewCounter(prometheus.CounterOpts{
			Name: "venuepass_level_promotions_total",
			Help: "Users promoted to a higher level",
		}),
		ChallengeCompletions: f.NewCounter(prometheus.CounterOpts{
			Name: "venuepass_challenge_completions_total",
			Help: "Challenges completed",
		}),
		ChallengeFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "venuepass_challenge_failures_total",
			Help: "Challenge evaluations rolled back to their savepoint",
		}),
		ConfigGaps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "venuepass_config_gaps_total",
			Help: "Lookups that found missing or inactive catalog data, by kind",
		}, []string{"kind"}),
		RewardsMinted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "venuepass_rewards_minted_total",
			Help: "Reward units minted, by source",
		}, []string{"source"}),
		RewardsRedeemed: f.NewCounter(prometheus.CounterOpts{
			Name: "venuepass_rewards_redeemed_total",
			Help: "Reward units consumed at a venue",
		}),
		NotificationsRelayed: f.NewCounter(prometheus.CounterOpts{
			Name: "venuepass_notifications_relayed_total",
			Help: "Outbox notifications published to Kafka",
		}),
	}
}

func (m *Metrics) IncTokenIssued(kind string) {
	if m == nil {
		return
	}
	m.TokensIssued.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncTokenRevoked() {
	if m == nil {
		return
	}
	m.TokensRevoked.Inc()
}

// ObserveCheckin records the outcome and duration of a check-in.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveCheckin(outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.Checkins.WithLabelValues(outcome).Inc()
	m.CheckinDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncReview(status string) {
	if m == nil {
		return
	}
	m.Reviews.WithLabelValues(status).Inc()
}

func (m *Metrics) AddPoints(subject string, points int64) {
	if m == nil || points <= 0 {
		return
	}
	m.PointsAwarded.WithLabelValues(subject).Add(float64(points))
}

func (m *Metrics) IncLevelPromotion() {
	if m == nil {
		return
	}
	m.LevelPromotions.Inc()
}

func (m *Metrics) IncChallengeCompleted() {
	if m == nil {
		return
	}
	m.ChallengeCompletions.Inc()
}

func (m *Metrics) IncChallengeFailure() {
	if m == nil {
		return
	}
	m.ChallengeFailures.Inc()
}

// IncConfigGap records a missing catalog entry of the given Gap* kind.
func (m *Metrics) IncConfigGap(kind string) {
	if m == nil {
		return
	}
	m.ConfigGaps.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncRewardMinted(source string) {
	if m == nil {
		return
	}
	m.RewardsMinted.WithLabelValues(source).Inc()
}

func (m *Metrics) IncRewardRedeemed() {
	if m == nil {
		return
	}
	m.RewardsRedeemed.Inc()
}

func (m *Metrics) AddNotificationsRelayed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.NotificationsRelayed.Add(float64(n))
}
