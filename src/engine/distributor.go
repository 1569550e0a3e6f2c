package engine

import (
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/kasboard/kasboard/src/events"
	"github.com/kasboard/kasboard/src/model"
	"github.com/kasboard/kasboard/src/store"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// OpenPeriod creates a new voting period. The window is half-open
// [opensAt, closesAt); overlapping open periods are the operator's problem,
// admission picks whichever OpenPeriodAt returns first.
func (e *Engine) OpenPeriod(ctx context.Context, opensAt, closesAt time.Time, rewardPool uint64) (model.PeriodId, error) {
	if !closesAt.After(opensAt) {
		return "", errors.Wrap(model.ErrPeriodNotFound, "closes_at must be after opens_at")
	}
	period := &model.VotingPeriod{
		Id:         model.PeriodId(uuid.NewString()),
		OpensAt:    opensAt.UTC(),
		ClosesAt:   closesAt.UTC(),
		State:      model.PeriodOpen,
		RewardPool: rewardPool,
	}
	if err := e.store.PutPeriod(ctx, period); err != nil {
		return "", errors.Wrap(model.ErrStoreUnavailable, err.Error())
	}
	e.logger.Info("opened voting period",
		zap.String("period", string(period.Id)),
		zap.Time("opens_at", period.OpensAt),
		zap.Time("closes_at", period.ClosesAt),
		zap.Uint64("reward_pool", period.RewardPool))
	e.bus.Publish(events.EventPeriodOpened, events.PeriodOpened{Period: period})
	return period.Id, nil
}

// ClosePeriod transitions open → closed. Closing freezes the candidate
// aggregates: only events admitted inside the window count.
func (e *Engine) ClosePeriod(ctx context.Context, id model.PeriodId) error {
	if err := e.store.AdvancePeriodState(ctx, id, model.PeriodOpen, model.PeriodClosed); err != nil {
		return err
	}
	period, err := e.store.GetPeriod(ctx, id)
	if err != nil {
		return errors.Wrap(model.ErrStoreUnavailable, err.Error())
	}
	e.logger.Info("closed voting period", zap.String("period", string(id)))
	e.bus.Publish(events.EventPeriodClosed, events.PeriodClosed{Period: period})
	return nil
}

// SettlePeriod distributes the period's reward pool pro rata over the
// participating voters' weights and transitions closed → settled. A period
// with no participants still settles, with ErrNoParticipants signalling that
// the pool was left untouched. Settled is terminal; corrections go through
// a new compensating period.
func (e *Engine) SettlePeriod(ctx context.Context, id model.PeriodId) (*model.DistributionReceipt, error) {
	period, err := e.store.GetPeriod(ctx, id)
	if err != nil {
		return nil, errors.Wrap(model.ErrStoreUnavailable, err.Error())
	}
	if period == nil {
		return nil, model.ErrPeriodNotFound
	}
	if period.State != model.PeriodClosed {
		return nil, model.ErrPeriodNotClosed
	}

	weights := model.WeightMap{}
	err = e.store.EventsByPeriod(ctx, id, store.EventFilter{}, func(ev *model.VoteEvent) error {
		weights[ev.Voter] += ev.Weight()
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed aggregating period weights")
	}

	shares, total := DetermineShares(id, period.RewardPool, weights)
	if len(shares) == 0 {
		if err := e.store.AdvancePeriodState(ctx, id, model.PeriodClosed, model.PeriodSettled); err != nil {
			return nil, err
		}
		e.logger.Info("settled empty period, pool untouched", zap.String("period", string(id)))
		return nil, model.ErrNoParticipants
	}

	if err := e.store.PutRewardShares(ctx, shares); err != nil {
		return nil, errors.Wrap(model.ErrStoreUnavailable, err.Error())
	}
	if err := e.store.AdvancePeriodState(ctx, id, model.PeriodClosed, model.PeriodSettled); err != nil {
		return nil, err
	}

	receipt := &model.DistributionReceipt{
		Period:           id,
		TotalDistributed: total,
		Participants:     len(shares),
	}
	RecordSettlement(total)
	e.logger.Info("settled voting period",
		zap.String("period", string(id)),
		zap.Uint64("distributed", total),
		zap.Int("participants", receipt.Participants))
	period.State = model.PeriodSettled
	e.bus.Publish(events.EventPeriodSettled, events.PeriodSettled{Period: period, Receipt: receipt})
	return receipt, nil
}

// DetermineShares splits pool pro rata over weights in the smallest currency
// unit. Each share is truncated; the rounding dust, at most one unit per
// participant, goes to the highest-weight voter, ties broken by
// lexicographic voter id. The full pool is distributed whenever total weight
// is positive.
func DetermineShares(period model.PeriodId, pool uint64, weights model.WeightMap) ([]*model.RewardShare, uint64) {
	var totalWeight uint64
	for _, w := range weights {
		totalWeight += w
	}
	if totalWeight == 0 || len(weights) == 0 {
		return nil, 0
	}

	voters := make([]model.VoterId, 0, len(weights))
	for v := range weights {
		voters = append(voters, v)
	}
	sort.Slice(voters, func(i, j int) bool { return voters[i] < voters[j] })

	// pool·weight can overflow uint64 with sompi-scale pools, so the
	// per-voter product goes through big.Int
	poolBig := new(big.Int).SetUint64(pool)
	totalBig := new(big.Int).SetUint64(totalWeight)
	shares := make([]*model.RewardShare, 0, len(voters))
	var distributed uint64
	top := 0
	for i, v := range voters {
		amount := new(big.Int).SetUint64(weights[v])
		amount.Mul(amount, poolBig)
		amount.Div(amount, totalBig)
		shares = append(shares, &model.RewardShare{
			Period: period,
			Voter:  v,
			Weight: weights[v],
			Amount: amount.Uint64(),
		})
		distributed += amount.Uint64()
		if weights[v] > weights[voters[top]] {
			top = i
		}
	}
	if dust := pool - distributed; dust > 0 {
		shares[top].Amount += dust
		distributed += dust
	}
	return shares, distributed
}
