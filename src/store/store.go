package store

import (
	"context"
	"time"

	"github.com/kasboard/kasboard/src/model"
)

// EventFilter narrows period scans. Zero values match everything.
type EventFilter struct {
	Voter   model.VoterId
	Content model.ContentId
	Kind    model.VoteKind
}

func (f *EventFilter) Matches(e *model.VoteEvent) bool {
	if f.Voter != "" && e.Voter != f.Voter {
		return false
	}
	if f.Content != "" && e.Content != f.Content {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	return true
}

// Store is the persistence capability set the engine relies on. Exactly-once
// admission leans on the store's uniqueness constraints: event id is the
// primary key, base votes are unique per (voter, content, day), and a receipt
// is referenced by at most one event. Implementations may be retried by the
// engine, so every write must be idempotent on its natural key.
type Store interface {
	// Vote ledger. AppendEvent fails with model.ErrDuplicateEvent when the
	// event id exists and model.ErrDuplicateBaseVote when the (voter,
	// content, day) base-vote constraint is violated.
	AppendEvent(ctx context.Context, event *model.VoteEvent) error
	GetEvent(ctx context.Context, id model.EventId) (*model.VoteEvent, error)
	DailyCounts(ctx context.Context, voter model.VoterId, day model.DayKey) (baseUsed, burnUsed uint64, err error)
	EventsByVoterDay(ctx context.Context, voter model.VoterId, day model.DayKey, limit int) ([]*model.VoteEvent, error)
	EventsByDay(ctx context.Context, day model.DayKey) ([]*model.VoteEvent, error)
	EventsByContentWindow(ctx context.Context, content model.ContentId, from, to time.Time) ([]*model.VoteEvent, error)
	EventsByPeriod(ctx context.Context, period model.PeriodId, filter EventFilter, fn func(*model.VoteEvent) error) error

	// Candidate aggregates, scoped to a period.
	CandidateCounts(ctx context.Context, period model.PeriodId, content model.ContentId) (*model.Candidate, error)
	Candidates(ctx context.Context, period model.PeriodId) ([]*model.Candidate, error)

	// Content registry. PutContent is idempotent on content id.
	PutContent(ctx context.Context, content *model.Content) error
	GetContent(ctx context.Context, id model.ContentId) (*model.Content, error)
	SetModeration(ctx context.Context, id model.ContentId, state model.ModerationState) error

	// Burn receipts. PutReceipt is insert-if-new. ClaimReceipt marks the
	// receipt consumed by the given event; a repeated claim by the same
	// event returns the receipt again rather than an error. ReleaseReceipt
	// is the compensating action when an append fails after a claim.
	PutReceipt(ctx context.Context, receipt *model.BurnReceipt) error
	GetReceipt(ctx context.Context, id model.ReceiptId) (*model.BurnReceipt, error)
	ConfirmReceipt(ctx context.Context, id model.ReceiptId, blockRef string, at time.Time) error
	ClaimReceipt(ctx context.Context, id model.ReceiptId, voter model.VoterId, event model.EventId) (*model.BurnReceipt, error)
	ReleaseReceipt(ctx context.Context, id model.ReceiptId, event model.EventId) error
	ReceiptsByVoterDay(ctx context.Context, voter model.VoterId, from, to time.Time) ([]*model.BurnReceipt, error)
	AllReceipts(ctx context.Context) ([]*model.BurnReceipt, error)
	PruneReceipts(ctx context.Context, before time.Time) (int64, error)

	// Periods and reward shares.
	PutPeriod(ctx context.Context, period *model.VotingPeriod) error
	GetPeriod(ctx context.Context, id model.PeriodId) (*model.VotingPeriod, error)
	OpenPeriodAt(ctx context.Context, t time.Time) (*model.VotingPeriod, error)
	ListPeriods(ctx context.Context) ([]*model.VotingPeriod, error)
	AdvancePeriodState(ctx context.Context, id model.PeriodId, from, to model.PeriodState) error
	PutRewardShares(ctx context.Context, shares []*model.RewardShare) error
	SharesByPeriod(ctx context.Context, period model.PeriodId) ([]*model.RewardShare, error)

	// Indexed burn transactions, fed by the chain watcher and read by the
	// ledger oracle for receipt confirmation.
	PutBurnTx(ctx context.Context, tx *model.BurnTx) error
	GetBurnTx(ctx context.Context, id model.ReceiptId) (*model.BurnTx, error)

	// Taints mark (voter, day) pairs with unresolved inconsistencies.
	TaintDay(ctx context.Context, taint *model.DayTaint) error
	Taints(ctx context.Context) ([]*model.DayTaint, error)
}
