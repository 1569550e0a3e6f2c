package engine

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kasboard/kasboard/src/events"
	"github.com/kasboard/kasboard/src/model"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

// VoteRequest is one vote attempt. EventId is an optional idempotency key: a
// retried request with the same id returns the original result instead of a
// second append. ClientTimestamp is recorded for diagnostics only and never
// trusted for admission decisions.
type VoteRequest struct {
	EventId         model.EventId
	Voter           model.VoterId
	Content         model.ContentId
	Kind            model.VoteKind
	BurnAmount      uint64
	ReceiptId       model.ReceiptId
	ClientTimestamp *time.Time
}

type VoteResult struct {
	Event     *model.VoteEvent
	Duplicate bool // replayed via idempotency key, no new event appended
}

// resolveEventId picks the event's idempotency key. Caller-supplied keys are
// hashed to a fixed width. Burns without a key derive theirs from the receipt
// id, since a receipt backs exactly one vote, so a blind network retry of the
// same burn lands on the original event. Base votes without a key get a
// random id, so a deliberate second base vote surfaces as DuplicateBaseVote
// instead of replaying the first result.
func resolveEventId(req *VoteRequest) model.EventId {
	if req.EventId != "" {
		sum := blake2b.Sum256([]byte(req.EventId))
		return model.EventId(hex.EncodeToString(sum[:]))
	}
	if req.Kind == model.VoteKindBurn {
		sum := blake2b.Sum256([]byte(fmt.Sprintf("burn|%s", req.ReceiptId)))
		return model.EventId(hex.EncodeToString(sum[:]))
	}
	return model.EventId(uuid.NewString())
}

// CastVote validates and commits one vote. The pre-check and append run as a
// critical section under the voter's lock; admissions for different voters
// proceed in parallel. A context deadline cancels the operation before the
// append commits; once committed the result is returned regardless.
func (e *Engine) CastVote(ctx context.Context, req *VoteRequest) (*VoteResult, error) {
	res, err := e.castVote(ctx, req)
	if err != nil {
		RecordVoteRejected(err)
		return nil, err
	}
	if !res.Duplicate {
		RecordVoteAccepted(res.Event)
		e.bus.Publish(events.EventVoteAccepted, events.VoteAccepted{Event: res.Event})
	}
	return res, nil
}

func (e *Engine) castVote(ctx context.Context, req *VoteRequest) (*VoteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Kind != model.VoteKindBase && req.Kind != model.VoteKindBurn {
		return nil, errors.Wrapf(model.ErrInvalidBurnAmount, "unknown vote kind %q", req.Kind)
	}

	eventId := resolveEventId(req)

	// replay fast path ahead of every gate: a committed vote returns its
	// original result even after the period closed or moderation changed
	if prior, err := e.store.GetEvent(ctx, eventId); err == nil && prior != nil {
		return &VoteResult{Event: prior, Duplicate: true}, nil
	}

	content, err := e.store.GetContent(ctx, req.Content)
	if err != nil {
		return nil, errors.Wrap(model.ErrStoreUnavailable, err.Error())
	}
	if content == nil || !content.Votable() {
		return nil, model.ErrContentNotVotable
	}

	now := e.clock.Now()
	day := e.clock.DayKey(now)

	period, err := e.store.OpenPeriodAt(ctx, now)
	if err != nil {
		return nil, errors.Wrap(model.ErrStoreUnavailable, err.Error())
	}
	if period == nil {
		return nil, model.ErrNoOpenPeriod
	}

	if req.Kind == model.VoteKindBurn {
		if req.BurnAmount < 1 || req.BurnAmount > e.cfg.MaxBurnVotesPerDay {
			return nil, model.ErrInvalidBurnAmount
		}
		// confirm ahead of the lock when the registry can't satisfy it, so
		// the oracle round-trip doesn't serialize the voter's admissions
		if err := e.preconfirmReceipt(ctx, req); err != nil {
			return nil, err
		}
	}

	unlock := e.lockVoter(req.Voter)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// re-check under lock: a concurrent retry may have won the race
	if prior, err := e.store.GetEvent(ctx, eventId); err == nil && prior != nil {
		return &VoteResult{Event: prior, Duplicate: true}, nil
	}

	budget, err := DailyBudget(ctx, e.store, &e.cfg, req.Voter, day)
	if err != nil {
		return nil, errors.Wrap(model.ErrStoreUnavailable, err.Error())
	}

	event := &model.VoteEvent{
		EventId:   eventId,
		Voter:     req.Voter,
		Content:   req.Content,
		Kind:      req.Kind,
		Day:       day,
		Timestamp: now,
	}

	var claimed *model.BurnReceipt
	if req.Kind == model.VoteKindBase {
		dup, err := e.hasBaseVote(ctx, req.Voter, req.Content, day)
		if err != nil {
			return nil, errors.Wrap(model.ErrStoreUnavailable, err.Error())
		}
		if dup {
			return nil, model.ErrDuplicateBaseVote
		}
		if budget.BaseRemaining < 1 {
			return nil, model.ErrBaseBudgetExhausted
		}
	} else {
		if !budget.Admits(req.BurnAmount, e.cfg.MaxBurnVotesPerDay) {
			return nil, model.ErrBurnBudgetExhausted
		}
		claimed, err = e.claimReceipt(ctx, req, eventId)
		if err != nil {
			return nil, err
		}
		event.BurnAmount = req.BurnAmount
		ref := claimed.Id
		event.ReceiptRef = &ref
	}

	if err := e.store.AppendEvent(ctx, event); err != nil {
		switch {
		case errors.Is(err, model.ErrDuplicateEvent):
			if prior, gerr := e.store.GetEvent(ctx, eventId); gerr == nil && prior != nil {
				return &VoteResult{Event: prior, Duplicate: true}, nil
			}
			return nil, err
		case errors.Is(err, model.ErrDuplicateBaseVote):
			return nil, model.ErrDuplicateBaseVote
		default:
			if claimed != nil {
				e.compensateClaim(req.Voter, day, claimed.Id, eventId)
			}
			return nil, errors.Wrap(model.ErrStoreUnavailable, err.Error())
		}
	}

	return &VoteResult{Event: event}, nil
}

func (e *Engine) hasBaseVote(ctx context.Context, voter model.VoterId, content model.ContentId, day model.DayKey) (bool, error) {
	dayEvents, err := e.store.EventsByVoterDay(ctx, voter, day, 0)
	if err != nil {
		return false, err
	}
	for _, ev := range dayEvents {
		if ev.Kind == model.VoteKindBase && ev.Content == content {
			return true, nil
		}
	}
	return false, nil
}

// preconfirmReceipt resolves an unconfirmed registry receipt against the
// ledger oracle before the voter lock is taken. The claim under lock
// re-verifies confirmation, so a stale result here only costs a retry.
func (e *Engine) preconfirmReceipt(ctx context.Context, req *VoteRequest) error {
	receipt, err := e.store.GetReceipt(ctx, req.ReceiptId)
	if err != nil {
		return errors.Wrap(model.ErrStoreUnavailable, err.Error())
	}
	if receipt == nil || receipt.Confirmed {
		return nil // missing receipts surface as mismatch during the claim
	}
	conf, err := e.oracle.ConfirmBurn(ctx, req.ReceiptId, req.Voter, req.BurnAmount)
	if err != nil {
		return err
	}
	if !conf.Confirmed {
		return nil
	}
	if err := e.store.ConfirmReceipt(ctx, req.ReceiptId, conf.BlockRef, conf.ObservedAt); err != nil {
		return errors.Wrap(model.ErrStoreUnavailable, err.Error())
	}
	return nil
}

func (e *Engine) claimReceipt(ctx context.Context, req *VoteRequest, eventId model.EventId) (*model.BurnReceipt, error) {
	receipt, err := e.store.ClaimReceipt(ctx, req.ReceiptId, req.Voter, eventId)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrReceiptNotFound),
			errors.Is(err, model.ErrReceiptMismatch),
			errors.Is(err, model.ErrReceiptConsumed):
			return nil, model.ErrReceiptMismatch
		}
		return nil, errors.Wrap(model.ErrStoreUnavailable, err.Error())
	}
	release := func() {
		if rerr := e.store.ReleaseReceipt(ctx, req.ReceiptId, eventId); rerr != nil {
			e.logger.Error("failed releasing receipt claim", zap.Error(rerr),
				zap.String("receipt", string(req.ReceiptId)))
		}
	}
	if receipt.Amount != req.BurnAmount {
		release()
		return nil, model.ErrReceiptMismatch
	}
	if !receipt.Confirmed {
		// re-verify under lock, the preconfirm pass may have raced the watcher
		conf, cerr := e.oracle.ConfirmBurn(ctx, req.ReceiptId, req.Voter, req.BurnAmount)
		if cerr != nil {
			release()
			return nil, cerr
		}
		if !conf.Confirmed {
			release()
			return nil, model.ErrReceiptUnconfirmed
		}
		if uerr := e.store.ConfirmReceipt(ctx, req.ReceiptId, conf.BlockRef, conf.ObservedAt); uerr != nil {
			release()
			return nil, errors.Wrap(model.ErrStoreUnavailable, uerr.Error())
		}
	}
	return receipt, nil
}

// compensateClaim releases a claimed receipt after a failed append. If even
// the release fails the voter's day is tainted for the auditor and an
// operator; admission for that receipt stays blocked until resolved.
func (e *Engine) compensateClaim(voter model.VoterId, day model.DayKey, receipt model.ReceiptId, eventId model.EventId) {
	// deliberately not the request context: compensation must still run
	// when the caller's deadline has already expired
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.ReleaseReceipt(ctx, receipt, eventId); err != nil {
		e.logger.Error("FATAL: append failed and receipt release failed, tainting voter day",
			zap.String("voter", string(voter)),
			zap.String("day", string(day)),
			zap.String("receipt", string(receipt)),
			zap.Error(err))
		RecordTaintedDay()
		taint := &model.DayTaint{
			Voter:  voter,
			Day:    day,
			Reason: fmt.Sprintf("receipt %s claimed by %s but append and release both failed", receipt, eventId),
			At:     e.clock.Now(),
		}
		if terr := e.store.TaintDay(ctx, taint); terr != nil {
			e.logger.Error("failed recording day taint", zap.Error(terr))
		}
	}
}
