package oracle

import (
	"context"
	"sync"
	"time"

	"github.com/kasboard/kasboard/src/model"
)

// MockOracle is an in-memory oracle for tests. Burns are confirmed by
// seeding them with AddBurn; Fail forces the next calls to error.
type MockOracle struct {
	mu       sync.Mutex
	balances map[model.VoterId]uint64
	burns    map[model.ReceiptId]*model.BurnTx
	failWith error
}

func NewMockOracle() *MockOracle {
	return &MockOracle{
		balances: make(map[model.VoterId]uint64),
		burns:    make(map[model.ReceiptId]*model.BurnTx),
	}
}

func (o *MockOracle) SetBalance(voter model.VoterId, balance uint64) {
	o.mu.Lock()
	o.balances[voter] = balance
	o.mu.Unlock()
}

func (o *MockOracle) AddBurn(id model.ReceiptId, voter model.VoterId, amount uint64, at time.Time) {
	o.mu.Lock()
	o.burns[id] = &model.BurnTx{
		TxId:      id,
		Voter:     voter,
		Amount:    amount,
		BlockHash: "mockblock",
		Timestamp: at,
	}
	o.mu.Unlock()
}

func (o *MockOracle) Fail(err error) {
	o.mu.Lock()
	o.failWith = err
	o.mu.Unlock()
}

func (o *MockOracle) TokenBalance(ctx context.Context, voter model.VoterId) (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failWith != nil {
		return 0, o.failWith
	}
	return o.balances[voter], nil
}

func (o *MockOracle) ConfirmBurn(ctx context.Context, receipt model.ReceiptId, voter model.VoterId, amount uint64) (*Confirmation, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failWith != nil {
		return nil, o.failWith
	}
	tx, ok := o.burns[receipt]
	if !ok || tx.Voter != voter || tx.Amount != amount {
		return &Confirmation{Confirmed: false}, nil
	}
	return &Confirmation{Confirmed: true, ObservedAt: tx.Timestamp, BlockRef: tx.BlockHash}, nil
}
