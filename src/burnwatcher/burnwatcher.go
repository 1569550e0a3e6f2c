package burnwatcher

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/kasboard/kasboard/src/kaspaapi"
	"github.com/kasboard/kasboard/src/model"
	"github.com/kasboard/kasboard/src/store"
	"github.com/kaspanet/kaspad/app/appmessage"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Watcher indexes burn transactions from the kaspa DAG into the store. Every
// transaction paying the burn address becomes a BurnTx row plus a confirmed
// receipt, keyed by the transaction id, ready for a vote to claim.
type Watcher struct {
	ka          *kaspaapi.KaspaApi
	store       store.Store
	logger      *zap.Logger
	burnAddress string
}

func NewWatcher(ka *kaspaapi.KaspaApi, st store.Store, burnAddress string, logger *zap.Logger) *Watcher {
	return &Watcher{
		ka:          ka,
		store:       st,
		logger:      logger.Named("BurnWatcher"),
		burnAddress: burnAddress,
	}
}

// Start backfills from lowHash (when non-empty) and then follows block-added
// notifications. Backfill runs concurrently with the listener; indexing is
// idempotent on tx id so overlap is harmless.
func (w *Watcher) Start(ctx context.Context, lowHash string) error {
	w.logger.Info("starting burn indexer", zap.String("burn_address", w.burnAddress))
	if lowHash != "" {
		go func() {
			w.logger.Info(fmt.Sprintf("attempting burn index backfill from block %s", lowHash))
			if err := w.Backfill(ctx, lowHash); err != nil {
				w.logger.Warn(errors.Wrap(err, "failed burn backfill").Error())
				return
			}
			w.logger.Info(fmt.Sprintf("backfill from block %s successful", lowHash))
		}()
	}
	return w.ka.StartBlockAddedListener(ctx, func(b *appmessage.RPCBlock) {
		w.IndexBlock(ctx, b)
	})
}

func (w *Watcher) Backfill(ctx context.Context, lowHash string) error {
	return w.ka.GetBlocksSince(ctx, lowHash, func(b *appmessage.RPCBlock) {
		w.IndexBlock(ctx, b)
	})
}

func (w *Watcher) IndexBlock(ctx context.Context, rpcBlock *appmessage.RPCBlock) {
	for _, t := range rpcBlock.Transactions {
		burn := w.extractBurn(rpcBlock, t)
		if burn == nil {
			continue
		}
		if err := w.recordBurn(ctx, burn); err != nil {
			w.logger.Error(err.Error())
		}
	}
}

// extractBurn sums the transaction's outputs to the burn address. The voter
// self-identifies through the transaction payload, which carries their wallet
// address; a burn without an attributable payload is ignored.
func (w *Watcher) extractBurn(rpcBlock *appmessage.RPCBlock, t *appmessage.RPCTransaction) *model.BurnTx {
	var amount uint64
	for _, o := range t.Outputs {
		if o.VerboseData != nil && o.VerboseData.ScriptPublicKeyAddress == w.burnAddress {
			amount += o.Amount
		}
	}
	if amount == 0 || t.VerboseData == nil {
		return nil
	}
	payload, err := hex.DecodeString(t.Payload)
	if err != nil || len(payload) == 0 {
		return nil
	}
	var blockHash string
	var blockTime time.Time
	if rpcBlock.VerboseData != nil {
		blockHash = rpcBlock.VerboseData.Hash
	}
	if rpcBlock.Header != nil {
		blockTime = time.UnixMilli(rpcBlock.Header.Timestamp).UTC()
	}
	return &model.BurnTx{
		TxId:      model.ReceiptId(t.VerboseData.TransactionID),
		Voter:     model.VoterId(payload),
		Amount:    amount,
		BlockHash: blockHash,
		Timestamp: blockTime,
	}
}

func (w *Watcher) recordBurn(ctx context.Context, burn *model.BurnTx) error {
	if err := w.store.PutBurnTx(ctx, burn); err != nil {
		return errors.Wrapf(err, "failed indexing burn tx %s", burn.TxId)
	}
	if err := w.store.PutReceipt(ctx, &model.BurnReceipt{
		Id:         burn.TxId,
		Voter:      burn.Voter,
		Amount:     burn.Amount,
		ObservedAt: burn.Timestamp,
		Confirmed:  true,
		BlockRef:   burn.BlockHash,
	}); err != nil {
		return errors.Wrapf(err, "failed recording receipt for burn tx %s", burn.TxId)
	}
	w.logger.Info("indexed burn",
		zap.String("tx", string(burn.TxId)),
		zap.String("voter", string(burn.Voter)),
		zap.Uint64("amount", burn.Amount))
	return nil
}
