package oracle

import (
	"context"

	"github.com/kasboard/kasboard/src/kaspaapi"
	"github.com/kasboard/kasboard/src/model"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// BurnIndex looks up burn transactions indexed from the chain. Both store
// implementations satisfy it; the burnwatcher keeps it current.
type BurnIndex interface {
	GetBurnTx(ctx context.Context, id model.ReceiptId) (*model.BurnTx, error)
}

// KaspaOracle confirms burns against the indexed burn transactions and reads
// balances straight from kaspad. Index misses are reported as unconfirmed,
// not as errors: the watcher may still be behind the tip.
type KaspaOracle struct {
	api    *kaspaapi.KaspaApi
	index  BurnIndex
	logger *zap.Logger
}

func NewKaspaOracle(api *kaspaapi.KaspaApi, index BurnIndex, logger *zap.Logger) *KaspaOracle {
	return &KaspaOracle{
		api:    api,
		index:  index,
		logger: logger.With(zap.String("component", "kaspa_oracle")),
	}
}

func (o *KaspaOracle) TokenBalance(ctx context.Context, voter model.VoterId) (uint64, error) {
	balance, err := o.api.GetBalanceByAddress(string(voter))
	if err != nil {
		return 0, errors.Wrapf(model.ErrLedgerTransient, "balance read failed: %s", err)
	}
	return balance, nil
}

func (o *KaspaOracle) ConfirmBurn(ctx context.Context, receipt model.ReceiptId, voter model.VoterId, amount uint64) (*Confirmation, error) {
	tx, err := o.index.GetBurnTx(ctx, receipt)
	if err != nil {
		return nil, errors.Wrapf(model.ErrLedgerTransient, "burn index lookup failed: %s", err)
	}
	if tx == nil {
		return &Confirmation{Confirmed: false}, nil
	}
	if tx.Voter != voter || tx.Amount != amount {
		o.logger.Warn("burn tx does not match claimed receipt",
			zap.String("tx", string(receipt)),
			zap.String("claimed_voter", string(voter)),
			zap.Uint64("claimed_amount", amount))
		return &Confirmation{Confirmed: false}, nil
	}
	return &Confirmation{
		Confirmed:  true,
		ObservedAt: tx.Timestamp,
		BlockRef:   tx.BlockHash,
	}, nil
}
