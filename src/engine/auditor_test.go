package engine

import (
	"context"
	"testing"
	"time"

	"github.com/kasboard/kasboard/src/model"
)

func TestAuditCleanLedger(t *testing.T) {
	f := newTestFixture(t, "post-1", "post-2")
	ctx := context.Background()

	if _, err := f.baseVote("alice", "post-1"); err != nil {
		t.Fatal(err)
	}
	f.addReceipt(t, "rcpt-1", "bob", 3)
	if _, err := f.burnVote("bob", "post-2", 3, "rcpt-1"); err != nil {
		t.Fatal(err)
	}

	report, err := f.engine.AuditIntegrity(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.TotalVotes != 2 {
		t.Errorf("TotalVotes = %d, want 2", report.TotalVotes)
	}
	if report.DuplicateBaseVotes != 0 || report.InvalidBurns != 0 || report.SuspiciousVoters != 0 {
		t.Errorf("clean ledger reported violations: %+v", report)
	}
	if len(report.TaintedDays) != 0 {
		t.Errorf("clean ledger reported taints: %v", report.TaintedDays)
	}
	if report.IntegrityScore != 100 {
		t.Errorf("IntegrityScore = %d, want 100", report.IntegrityScore)
	}
}

func TestAuditInvalidReceipts(t *testing.T) {
	f := newTestFixture(t, "post-1")
	ctx := context.Background()

	if _, err := f.baseVote("alice", "post-1"); err != nil {
		t.Fatal(err)
	}

	// a receipt that should never have been recorded
	if err := f.store.PutReceipt(ctx, &model.BurnReceipt{
		Id:         "rcpt-zero",
		Voter:      "mallory",
		Amount:     0,
		ObservedAt: f.clock.Now(),
		Confirmed:  true,
	}); err != nil {
		t.Fatal(err)
	}
	// claimed but never confirmed, as after a crashed admission
	claimed := model.EventId("evt-orphan")
	if err := f.store.PutReceipt(ctx, &model.BurnReceipt{
		Id:         "rcpt-orphan",
		Voter:      "mallory",
		Amount:     2,
		ObservedAt: f.clock.Now(),
		ClaimedBy:  &claimed,
	}); err != nil {
		t.Fatal(err)
	}

	report, err := f.engine.AuditIntegrity(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.InvalidBurns != 2 {
		t.Errorf("InvalidBurns = %d, want 2", report.InvalidBurns)
	}
	// 2 violations over 1 vote floors the score
	if report.IntegrityScore != 0 {
		t.Errorf("IntegrityScore = %d, want 0", report.IntegrityScore)
	}
}

func TestAuditSurfacesTaints(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	taint := &model.DayTaint{
		Voter:  "alice",
		Day:    f.clock.DayKey(f.clock.Now()),
		Reason: "receipt release failed",
		At:     f.clock.Now(),
	}
	if err := f.store.TaintDay(ctx, taint); err != nil {
		t.Fatal(err)
	}

	report, err := f.engine.AuditIntegrity(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.TaintedDays) != 1 || report.TaintedDays[0].Voter != "alice" {
		t.Errorf("TaintedDays = %+v, want the alice taint", report.TaintedDays)
	}
}

func TestAuditIgnoresPriorDayReceipts(t *testing.T) {
	f := newTestFixture(t, "post-1")
	ctx := context.Background()

	// orphaned claim left over from yesterday's crashed admission
	claimed := model.EventId("evt-stale")
	if err := f.store.PutReceipt(ctx, &model.BurnReceipt{
		Id:         "rcpt-stale",
		Voter:      "mallory",
		Amount:     2,
		ObservedAt: f.clock.Now(),
		ClaimedBy:  &claimed,
	}); err != nil {
		t.Fatal(err)
	}

	f.clock.Advance(24 * time.Hour)
	if _, err := f.baseVote("alice", "post-1"); err != nil {
		t.Fatal(err)
	}

	report, err := f.engine.AuditIntegrity(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.InvalidBurns != 0 {
		t.Errorf("InvalidBurns = %d, want 0 for a prior-day receipt", report.InvalidBurns)
	}
	if report.IntegrityScore != 100 {
		t.Errorf("IntegrityScore = %d, want 100", report.IntegrityScore)
	}
}

func TestAuditScoreDegrades(t *testing.T) {
	f := newTestFixture(t, "post-1", "post-2", "post-3")
	ctx := context.Background()

	// ten honest votes from distinct, slow voters
	voters := []model.VoterId{"v1", "v2", "v3", "v4", "v5", "v6", "v7", "v8", "v9", "v10"}
	for _, v := range voters {
		if _, err := f.baseVote(v, "post-1"); err != nil {
			t.Fatal(err)
		}
		f.clock.Advance(10 * time.Minute)
	}

	// two orphaned claims left behind by crashed admissions
	for _, id := range []model.ReceiptId{"rcpt-x", "rcpt-y"} {
		claimed := model.EventId("evt-" + string(id))
		if err := f.store.PutReceipt(ctx, &model.BurnReceipt{
			Id:         id,
			Voter:      "mallory",
			Amount:     1,
			ObservedAt: f.clock.Now(),
			ClaimedBy:  &claimed,
		}); err != nil {
			t.Fatal(err)
		}
	}

	report, err := f.engine.AuditIntegrity(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.TotalVotes != 10 {
		t.Errorf("TotalVotes = %d, want 10", report.TotalVotes)
	}
	if report.InvalidBurns != 2 {
		t.Errorf("InvalidBurns = %d, want 2", report.InvalidBurns)
	}
	// 2 violations over 10 votes: 100 - 200/10
	if report.IntegrityScore != 80 {
		t.Errorf("IntegrityScore = %d, want 80", report.IntegrityScore)
	}
}
