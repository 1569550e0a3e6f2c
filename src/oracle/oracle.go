package oracle

import (
	"context"
	"time"

	"github.com/kasboard/kasboard/src/model"
)

// Confirmation is the oracle's verdict on one burn transaction. An
// unconfirmed burn is not an error: the transaction may simply not have been
// indexed yet.
type Confirmation struct {
	Confirmed  bool
	ObservedAt time.Time
	BlockRef   string
}

// LedgerOracle is the engine's read-only window onto the token ledger.
// Failures wrap model.ErrLedgerTransient (retryable) or
// model.ErrLedgerPermanent.
type LedgerOracle interface {
	TokenBalance(ctx context.Context, voter model.VoterId) (uint64, error)
	ConfirmBurn(ctx context.Context, receipt model.ReceiptId, voter model.VoterId, amount uint64) (*Confirmation, error)
}
