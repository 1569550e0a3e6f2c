package engine

import (
	"context"
	"testing"
	"time"

	"github.com/kasboard/kasboard/src/clock"
	"github.com/kasboard/kasboard/src/common"
	"github.com/kasboard/kasboard/src/events"
	"github.com/kasboard/kasboard/src/memstore"
	"github.com/kasboard/kasboard/src/model"
	"github.com/kasboard/kasboard/src/oracle"
	"go.uber.org/zap"
)

var logger *zap.Logger

func TestMain(m *testing.M) {
	logger = common.ConfigureZap(zap.DebugLevel)
	m.Run()
}

var testStart = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

type testFixture struct {
	engine *Engine
	store  *memstore.MemStore
	oracle *oracle.MockOracle
	clock  *clock.FakeClock
	bus    *events.Bus
	period model.PeriodId
}

// newTestFixture builds an engine over the in-memory store with a week-long
// open period around testStart and one approved piece of content per id in
// contents.
func newTestFixture(t *testing.T, contents ...model.ContentId) *testFixture {
	t.Helper()
	ctx := context.Background()
	st := memstore.New()
	clk := clock.NewFakeClock(testStart)
	orc := oracle.NewMockOracle()
	bus := events.NewBus(logger)
	t.Cleanup(bus.Stop)
	eng := New(DefaultConfig(), st, orc, clk, bus, logger)

	period, err := eng.OpenPeriod(ctx, testStart.Add(-time.Hour), testStart.Add(7*24*time.Hour), 0)
	if err != nil {
		t.Fatalf("failed opening period: %v", err)
	}
	for _, c := range contents {
		if err := eng.RegisterContent(ctx, c, "submitter", testStart.Add(-time.Minute)); err != nil {
			t.Fatalf("failed registering content: %v", err)
		}
		if err := eng.SetModeration(ctx, c, model.ModerationApproved); err != nil {
			t.Fatalf("failed approving content: %v", err)
		}
	}
	return &testFixture{
		engine: eng,
		store:  st,
		oracle: orc,
		clock:  clk,
		bus:    bus,
		period: period,
	}
}

// addReceipt seeds a confirmed receipt, the shape the burn watcher produces.
func (f *testFixture) addReceipt(t *testing.T, id model.ReceiptId, voter model.VoterId, amount uint64) {
	t.Helper()
	if err := f.store.PutReceipt(context.Background(), &model.BurnReceipt{
		Id:         id,
		Voter:      voter,
		Amount:     amount,
		ObservedAt: f.clock.Now(),
		Confirmed:  true,
		BlockRef:   "block-1",
	}); err != nil {
		t.Fatalf("failed seeding receipt: %v", err)
	}
}

func (f *testFixture) baseVote(voter model.VoterId, content model.ContentId) (*VoteResult, error) {
	return f.engine.CastVote(context.Background(), &VoteRequest{
		Voter:   voter,
		Content: content,
		Kind:    model.VoteKindBase,
	})
}

func (f *testFixture) burnVote(voter model.VoterId, content model.ContentId, amount uint64, receipt model.ReceiptId) (*VoteResult, error) {
	return f.engine.CastVote(context.Background(), &VoteRequest{
		Voter:      voter,
		Content:    content,
		Kind:       model.VoteKindBurn,
		BurnAmount: amount,
		ReceiptId:  receipt,
	})
}

func TestGetStatsAggregates(t *testing.T) {
	f := newTestFixture(t, "post-1", "post-2")
	ctx := context.Background()
	f.addReceipt(t, "rcpt-1", "bob", 3)

	if _, err := f.baseVote("alice", "post-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.baseVote("bob", "post-2"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.burnVote("bob", "post-1", 3, "rcpt-1"); err != nil {
		t.Fatal(err)
	}

	stats, err := f.engine.GetStats(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalVotes != 3 || stats.TotalVoters != 2 || stats.TotalBurned != 3 {
		t.Errorf("totals = (%d votes, %d voters, %d burned), want (3, 2, 3)",
			stats.TotalVotes, stats.TotalVoters, stats.TotalBurned)
	}

	// candidate aggregates must reconcile with the totals of the same snapshot
	var burnSum, baseSum uint64
	byContent := map[model.ContentId]*model.Candidate{}
	for _, c := range stats.Candidates {
		burnSum += c.BurnWeight
		baseSum += c.BaseVotes
		byContent[c.Content] = c
	}
	if burnSum != stats.TotalBurned {
		t.Errorf("candidate burn sum = %d, TotalBurned = %d", burnSum, stats.TotalBurned)
	}
	if baseSum != 2 {
		t.Errorf("candidate base sum = %d, want 2", baseSum)
	}

	c1 := byContent["post-1"]
	if c1 == nil {
		t.Fatal("post-1 missing from candidates")
	}
	if c1.BaseVotes != 1 || c1.BurnWeight != 3 || c1.DistinctVoters != 2 {
		t.Errorf("post-1 candidate = %+v, want base 1, burn 3, 2 distinct voters", c1)
	}
	if c1.Submitter != "submitter" || c1.CreatedAt.IsZero() {
		t.Errorf("post-1 candidate missing content metadata: %+v", c1)
	}
}
