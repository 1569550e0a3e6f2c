package settler

import (
	"context"
	"fmt"
	"time"

	"github.com/kasboard/kasboard/src/clock"
	"github.com/kasboard/kasboard/src/common"
	"github.com/kasboard/kasboard/src/engine"
	"github.com/kasboard/kasboard/src/model"
	"github.com/kasboard/kasboard/src/store"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type SettlerConfig struct {
	common.CommonConfig `yaml:",inline"`

	DaemonAddress string `yaml:"kaspawallet_address"`
	Password      string `yaml:"password"`
	Mock          bool   `yaml:"use_mock"`

	TickInterval     time.Duration `yaml:"tick_interval"`
	ReceiptRetention time.Duration `yaml:"receipt_retention"`
}

// Settler drives the period lifecycle in the background: closing periods
// whose window has elapsed, settling closed ones, paying out the resulting
// shares and pruning consumed receipts.
type Settler struct {
	cfg    SettlerConfig
	engine *engine.Engine
	store  store.Store
	payer  Payer
	clock  clock.Clock
	logger *zap.Logger
}

func NewSettler(cfg SettlerConfig, eng *engine.Engine, st store.Store, payer Payer, clk clock.Clock, logger *zap.Logger) *Settler {
	return &Settler{
		cfg:    cfg,
		engine: eng,
		store:  st,
		payer:  payer,
		clock:  clk,
		logger: logger.Named("settler"),
	}
}

func (s *Settler) StartPipeline(ctx context.Context) error {
	interval := s.cfg.TickInterval
	if interval == 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.DoPipelineOnce(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Settler) DoPipelineOnce(ctx context.Context) {
	if err := s.CloseElapsedPeriods(ctx); err != nil {
		s.logger.Error("error closing elapsed periods", zap.Error(err))
	}
	if err := s.SettleClosedPeriods(ctx); err != nil {
		s.logger.Error("error settling closed periods", zap.Error(err))
	}
	if s.cfg.ReceiptRetention > 0 {
		if err := s.PruneReceipts(ctx); err != nil {
			s.logger.Error("error pruning receipts", zap.Error(err))
		}
	}
}

// CloseElapsedPeriods closes every open period whose window has passed.
func (s *Settler) CloseElapsedPeriods(ctx context.Context) error {
	periods, err := s.store.ListPeriods(ctx)
	if err != nil {
		return errors.Wrap(err, "failed listing periods")
	}
	now := s.clock.Now()
	for _, p := range periods {
		if p.State != model.PeriodOpen || p.ClosesAt.After(now) {
			continue
		}
		if err := s.engine.ClosePeriod(ctx, p.Id); err != nil {
			s.logger.Error("failed closing period", zap.String("period", string(p.Id)), zap.Error(err))
		}
	}
	return nil
}

func (s *Settler) SettleClosedPeriods(ctx context.Context) error {
	periods, err := s.store.ListPeriods(ctx)
	if err != nil {
		return errors.Wrap(err, "failed listing periods")
	}
	for _, p := range periods {
		if p.State != model.PeriodClosed {
			continue
		}
		receipt, err := s.engine.SettlePeriod(ctx, p.Id)
		if errors.Is(err, model.ErrNoParticipants) {
			s.logger.Info("period had no participants", zap.String("period", string(p.Id)))
			continue
		}
		if err != nil {
			s.logger.Error("failed settling period", zap.String("period", string(p.Id)), zap.Error(err))
			continue
		}
		s.logger.Info(fmt.Sprintf("settled period %s, paying %d voters", p.Id, receipt.Participants))
		if err := s.PayoutShares(ctx, p.Id); err != nil {
			s.logger.Error("failed paying out shares", zap.String("period", string(p.Id)), zap.Error(err))
		}
	}
	return nil
}

// PayoutShares sends each reward share from the treasury wallet. Sends are
// fire-and-forget per voter; a failed send is logged and retried by the
// operator, the ledger keeps the owed amounts.
func (s *Settler) PayoutShares(ctx context.Context, period model.PeriodId) error {
	shares, err := s.store.SharesByPeriod(ctx, period)
	if err != nil {
		return errors.Wrap(err, "failed fetching shares for payout")
	}
	for _, share := range shares {
		if share.Amount == 0 {
			continue
		}
		txid, err := s.payer.Send(ctx, share.Voter, share.Amount)
		if err != nil {
			s.logger.Error("failed sending payout",
				zap.String("voter", string(share.Voter)),
				zap.Uint64("amount", share.Amount),
				zap.Error(err))
			continue
		}
		s.logger.Info("paid out share",
			zap.String("voter", string(share.Voter)),
			zap.Uint64("amount", share.Amount),
			zap.String("tx", txid))
	}
	return nil
}

func (s *Settler) PruneReceipts(ctx context.Context) error {
	cutoff := s.clock.Now().Add(-s.cfg.ReceiptRetention)
	pruned, err := s.store.PruneReceipts(ctx, cutoff)
	if err != nil {
		return errors.Wrap(err, "failed pruning receipts")
	}
	if pruned > 0 {
		s.logger.Info(fmt.Sprintf("pruned %d consumed receipts", pruned))
	}
	return nil
}
