package engine

import (
	"context"

	"github.com/kasboard/kasboard/src/model"
	"github.com/kasboard/kasboard/src/store"
	"github.com/pkg/errors"
)

// Budget is a voter's remaining daily allowance, derived from the vote ledger.
type Budget struct {
	Voter         model.VoterId
	Day           model.DayKey
	BaseUsed      uint64
	BurnUsed      uint64
	BaseRemaining uint64
	BurnRemaining uint64
}

// Admits reports whether a burn of the given amount fits the day's burn budget.
func (b *Budget) Admits(amount uint64, maxBurnPerDay uint64) bool {
	return b.BurnUsed+amount <= maxBurnPerDay
}

// DailyBudget derives the voter's current-day budget from committed appends.
func DailyBudget(ctx context.Context, st store.Store, cfg *Config, voter model.VoterId, day model.DayKey) (*Budget, error) {
	baseUsed, burnUsed, err := st.DailyCounts(ctx, voter, day)
	if err != nil {
		return nil, errors.Wrap(err, "failed deriving daily counts")
	}
	b := &Budget{
		Voter:    voter,
		Day:      day,
		BaseUsed: baseUsed,
		BurnUsed: burnUsed,
	}
	if baseUsed < cfg.BaseVotesPerDay {
		b.BaseRemaining = cfg.BaseVotesPerDay - baseUsed
	}
	if burnUsed < cfg.MaxBurnVotesPerDay {
		b.BurnRemaining = cfg.MaxBurnVotesPerDay - burnUsed
	}
	return b, nil
}
