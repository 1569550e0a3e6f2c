package engine

import (
	"net/http"

	"github.com/kasboard/kasboard/src/model"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var votesAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kasboard_votes_accepted",
	Help: "accepted votes, by kind",
}, []string{"kind"})

var votesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kasboard_votes_rejected",
	Help: "rejected vote requests, by reason",
}, []string{"reason"})

var burnedSompi = promauto.NewCounter(prometheus.CounterOpts{
	Name: "kasboard_burned_sompi",
	Help: "total burn weight admitted, in sompi",
})

var detectorFlags = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kasboard_detector_flags",
	Help: "manipulation detector flags raised, by flag",
}, []string{"flag"})

var suspiciousVoters = promauto.NewCounter(prometheus.CounterOpts{
	Name: "kasboard_suspicious_voters",
	Help: "voters flagged suspicious by the detector",
})

var periodsSettled = promauto.NewCounter(prometheus.CounterOpts{
	Name: "kasboard_periods_settled",
	Help: "voting periods settled",
})

var rewardsDistributed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "kasboard_rewards_distributed_sompi",
	Help: "total reward shares distributed, in sompi",
})

var taintedDays = promauto.NewCounter(prometheus.CounterOpts{
	Name: "kasboard_tainted_voter_days",
	Help: "voter days marked tainted by failed compensation",
})

func RecordVoteAccepted(event *model.VoteEvent) {
	votesAccepted.WithLabelValues(string(event.Kind)).Inc()
	if event.Kind == model.VoteKindBurn {
		burnedSompi.Add(float64(event.BurnAmount))
	}
}

func RecordVoteRejected(err error) {
	votesRejected.WithLabelValues(rejectReason(err)).Inc()
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, model.ErrContentNotVotable):
		return "content_not_votable"
	case errors.Is(err, model.ErrNoOpenPeriod):
		return "no_open_period"
	case errors.Is(err, model.ErrDuplicateBaseVote):
		return "duplicate_base_vote"
	case errors.Is(err, model.ErrBaseBudgetExhausted):
		return "base_budget_exhausted"
	case errors.Is(err, model.ErrInvalidBurnAmount):
		return "invalid_burn_amount"
	case errors.Is(err, model.ErrBurnBudgetExhausted):
		return "burn_budget_exhausted"
	case errors.Is(err, model.ErrReceiptMismatch):
		return "receipt_mismatch"
	case errors.Is(err, model.ErrReceiptUnconfirmed):
		return "receipt_unconfirmed"
	case errors.Is(err, model.ErrLedgerTransient):
		return "ledger_transient"
	default:
		return "other"
	}
}

func RecordDetectorFlag(flag string) {
	detectorFlags.WithLabelValues(flag).Inc()
}

func RecordSuspiciousVoter() {
	suspiciousVoters.Inc()
}

func RecordSettlement(distributed uint64) {
	periodsSettled.Inc()
	rewardsDistributed.Add(float64(distributed))
}

func RecordTaintedDay() {
	taintedDays.Inc()
}

// StartPromServer exposes /metrics on its own listener.
func StartPromServer(logger *zap.Logger, port string) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("serving prom stats on " + port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("prom server stopped", zap.Error(err))
		}
	}()
}
