package model

import (
	"time"
)

// VoterId is an opaque voter identifier, typically a kaspa wallet address.
// The engine never parses it.
type VoterId string

// ContentId is an opaque content identifier assigned by the outer application.
type ContentId string

type EventId string
type ReceiptId string
type PeriodId string

// DayKey scopes daily vote budgets, derived from UTC wall time by the clock.
type DayKey string

const KasSompiMultiplier = 100000000 // multiplier from kas to sompi, the unit used in the db

type VoteKind string

const ( // needs to match `vote_kind` in pg
	VoteKindBase VoteKind = "base"
	VoteKindBurn VoteKind = "burn"
)

type ModerationState string

const ( // needs to match `moderation_state` in pg
	ModerationPending  ModerationState = "pending"
	ModerationApproved ModerationState = "approved"
	ModerationRemoved  ModerationState = "removed"
)

type PeriodState string

const ( // needs to match `period_state` in pg
	PeriodOpen    PeriodState = "open"
	PeriodClosed  PeriodState = "closed"
	PeriodSettled PeriodState = "settled"
)

type Content struct {
	Id         ContentId
	Submitter  VoterId
	CreatedAt  time.Time
	Moderation ModerationState
}

func (c *Content) Votable() bool {
	return c.Moderation == ModerationApproved
}

// VoteEvent is one accepted vote, immutable once appended to the ledger.
type VoteEvent struct {
	EventId    EventId
	Voter      VoterId
	Content    ContentId
	Kind       VoteKind
	BurnAmount uint64 // 0 for base votes
	Day        DayKey
	Timestamp  time.Time
	ReceiptRef *ReceiptId // nil for base votes
}

// Weight is the vote's contribution to rewards: 1 for base, burn amount for burns.
func (e *VoteEvent) Weight() uint64 {
	if e.Kind == VoteKindBurn {
		return e.BurnAmount
	}
	return 1
}

// BurnReceipt is the engine's record of a burn transaction. A receipt is
// consumed by at most one vote event. Receipts ingested from the chain
// watcher arrive confirmed; self-submitted receipts start unconfirmed and are
// verified against the ledger oracle at admission time.
type BurnReceipt struct {
	Id         ReceiptId // equal to the burn transaction id on the ledger
	Voter      VoterId
	Amount     uint64
	ObservedAt time.Time
	Confirmed  bool
	BlockRef   string
	ClaimedBy  *EventId
}

// BurnTx is one burn transaction indexed from the chain, the oracle's source
// for receipt confirmation.
type BurnTx struct {
	TxId      ReceiptId
	Voter     VoterId
	Amount    uint64
	BlockHash string
	Timestamp time.Time
}

// Candidate is the runtime view of a piece of content accumulating votes.
type Candidate struct {
	Content        ContentId
	Submitter      VoterId
	CreatedAt      time.Time
	BaseVotes      uint64
	BurnWeight     uint64
	DistinctVoters int
	LastVoteAt     time.Time
}

type VotingPeriod struct {
	Id         PeriodId
	OpensAt    time.Time
	ClosesAt   time.Time
	State      PeriodState
	RewardPool uint64
}

// Contains reports whether t falls inside the period's voting window.
// The window is half-open: [OpensAt, ClosesAt).
func (p *VotingPeriod) Contains(t time.Time) bool {
	return !t.Before(p.OpensAt) && t.Before(p.ClosesAt)
}

type RewardShare struct {
	Period PeriodId
	Voter  VoterId
	Weight uint64
	Amount uint64
}

// DistributionReceipt summarizes one period settlement.
type DistributionReceipt struct {
	Period           PeriodId
	TotalDistributed uint64
	Participants     int
}

// DayTaint marks a (voter, day) with an unresolved inconsistency, e.g. a
// receipt claim whose compensating release failed. Surfaced by the auditor.
type DayTaint struct {
	Voter  VoterId
	Day    DayKey
	Reason string
	At     time.Time
}

// WeightMap aggregates per-voter vote weight over a period.
type WeightMap map[VoterId]uint64

func ShareArrayToMap(arr []*RewardShare) map[VoterId]*RewardShare {
	mapped := map[VoterId]*RewardShare{}
	for _, v := range arr {
		mapped[v.Voter] = v
	}
	return mapped
}
