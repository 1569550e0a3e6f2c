package settler

import (
	"context"

	"github.com/kasboard/kasboard/src/kaspaapi"
	"github.com/kasboard/kasboard/src/model"
	"go.uber.org/zap"
)

type Payer interface {
	Send(ctx context.Context, to model.VoterId, amount uint64) (string, error)
}

// WalletPayer pays shares through the kaspawallet daemon.
type WalletPayer struct {
	config SettlerConfig
	wallet kaspaapi.KaspawalletApi
}

func NewPayer(cfg SettlerConfig, logger *zap.Logger) Payer {
	if cfg.Mock {
		return NewMockPayer(cfg)
	}
	return &WalletPayer{
		config: cfg,
		wallet: kaspaapi.NewKaspawalletApi(cfg.DaemonAddress, logger),
	}
}

func (wp *WalletPayer) Send(ctx context.Context, to model.VoterId, amount uint64) (string, error) {
	return wp.wallet.SendKas(ctx, to, wp.config.TreasuryWallet, amount, wp.config.Password)
}

type Transaction struct {
	To     string
	From   string
	Amount uint64
}

// MockPayer records sends instead of touching a wallet, for tests and the
// use_mock deployment mode.
type MockPayer struct {
	config       SettlerConfig
	Transactions []*Transaction
}

func NewMockPayer(cfg SettlerConfig) *MockPayer {
	return &MockPayer{config: cfg}
}

func (mp *MockPayer) Send(ctx context.Context, to model.VoterId, amount uint64) (string, error) {
	mp.Transactions = append(mp.Transactions, &Transaction{
		To:     string(to),
		From:   mp.config.TreasuryWallet,
		Amount: amount,
	})
	return "mock-tx", nil
}
