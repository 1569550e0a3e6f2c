package engine

import (
	"context"

	"github.com/kasboard/kasboard/src/model"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// AuditReport is the full-ledger consistency check. Duplicates and invalid
// burns should be zero when admission is working; nonzero values mean the
// store's uniqueness constraints were bypassed or a claim/append pair was
// left half-done.
type AuditReport struct {
	TotalVotes         int
	DuplicateBaseVotes int
	InvalidBurns       int
	SuspiciousVoters   int
	TaintedDays        []*model.DayTaint
	IntegrityScore     int
}

// AuditIntegrity scans the vote ledger and receipt registry for the current
// day and reports violations plus an aggregate score on [0, 100]. Votes and
// receipts are both bound to the audited day so the score compares like with
// like; taints are surfaced regardless of age.
func (e *Engine) AuditIntegrity(ctx context.Context) (*AuditReport, error) {
	report := &AuditReport{}
	day := e.clock.DayKey(e.clock.Now())

	dayEvents, err := e.store.EventsByDay(ctx, day)
	if err != nil {
		return nil, errors.Wrap(err, "failed scanning day events")
	}
	report.TotalVotes = len(dayEvents)

	baseKeys := map[string]int{}
	voters := map[model.VoterId]struct{}{}
	for _, ev := range dayEvents {
		voters[ev.Voter] = struct{}{}
		if ev.Kind == model.VoteKindBase {
			baseKeys[string(ev.Voter)+"|"+string(ev.Content)]++
		}
	}
	for _, n := range baseKeys {
		if n > 1 {
			report.DuplicateBaseVotes += n - 1
		}
	}

	receipts, err := e.store.AllReceipts(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed scanning receipts")
	}
	for _, r := range receipts {
		if e.clock.DayKey(r.ObservedAt) != day {
			continue
		}
		if r.Amount == 0 || (r.ClaimedBy != nil && !r.Confirmed) {
			report.InvalidBurns++
		}
	}

	for v := range voters {
		dr, err := e.detector.Detect(ctx, v)
		if err != nil {
			e.logger.Warn("detector failed during audit, skipping voter",
				zap.String("voter", string(v)), zap.Error(err))
			continue
		}
		if dr.Suspicious {
			report.SuspiciousVoters++
		}
	}

	taints, err := e.store.Taints(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed scanning taints")
	}
	report.TaintedDays = taints

	violations := report.DuplicateBaseVotes + report.InvalidBurns + report.SuspiciousVoters
	denom := report.TotalVotes
	if denom < 1 {
		denom = 1
	}
	score := 100 - 100*violations/denom
	if score < 0 {
		score = 0
	}
	report.IntegrityScore = score
	return report, nil
}
