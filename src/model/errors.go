package model

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// Validation errors, caller fault, not retryable.
var (
	ErrContentNotVotable = fmt.Errorf("content not votable")
	ErrNoOpenPeriod      = fmt.Errorf("no open voting period")
	ErrDuplicateBaseVote = fmt.Errorf("duplicate base vote")
	ErrInvalidBurnAmount = fmt.Errorf("invalid burn amount")
	ErrReceiptMismatch   = fmt.Errorf("receipt missing or mismatched")
)

// Budget errors, retryable next day.
var (
	ErrBaseBudgetExhausted = fmt.Errorf("base vote budget exhausted")
	ErrBurnBudgetExhausted = fmt.Errorf("burn vote budget exhausted")
)

// Transient errors, retryable with backoff.
var (
	ErrReceiptUnconfirmed = fmt.Errorf("burn receipt not yet confirmed")
	ErrLedgerTransient    = fmt.Errorf("transient ledger error")
	ErrStoreUnavailable   = fmt.Errorf("store unavailable")
)

// Permanent infrastructure / invariant errors.
var (
	ErrLedgerPermanent = fmt.Errorf("permanent ledger error")
	ErrDuplicateEvent  = fmt.Errorf("duplicate event")
	ErrReceiptConsumed = fmt.Errorf("receipt already consumed")
	ErrReceiptNotFound = fmt.Errorf("receipt not found")
	ErrPeriodNotFound  = fmt.Errorf("period not found")
	ErrPeriodNotOpen   = fmt.Errorf("period not open")
	ErrPeriodNotClosed = fmt.Errorf("period not closed")
	ErrNoParticipants  = fmt.Errorf("no eligible participants")
	ErrDayTainted      = fmt.Errorf("voter day tainted, operator attention required")
	ErrContentNotFound = fmt.Errorf("content not registered")
)

// IsRetryable reports whether the caller may retry the failed operation with
// backoff. Budget errors are excluded: those clear on the next day key, not on
// retry.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrReceiptUnconfirmed),
		errors.Is(err, ErrLedgerTransient),
		errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}
