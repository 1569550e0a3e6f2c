package memstore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/kasboard/kasboard/src/common"
	"github.com/kasboard/kasboard/src/model"
	"github.com/kasboard/kasboard/src/store"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	common.ConfigureZap(zap.InfoLevel)
	os.Exit(m.Run())
}

var day0 = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func event(id model.EventId, voter model.VoterId, content model.ContentId, kind model.VoteKind, amount uint64, at time.Time) *model.VoteEvent {
	e := &model.VoteEvent{
		EventId:    id,
		Voter:      voter,
		Content:    content,
		Kind:       kind,
		BurnAmount: amount,
		Day:        model.DayKey(at.UTC().Format("2006-01-02")),
		Timestamp:  at,
	}
	if kind == model.VoteKindBurn {
		ref := model.ReceiptId("rcpt-" + id)
		e.ReceiptRef = &ref
	}
	return e
}

func TestAppendEventConstraints(t *testing.T) {
	m := New()
	ctx := context.Background()

	base := event("evt-1", "alice", "post-1", model.VoteKindBase, 0, day0)
	if err := m.AppendEvent(ctx, base); err != nil {
		t.Fatal(err)
	}
	if err := m.AppendEvent(ctx, base); !errors.Is(err, model.ErrDuplicateEvent) {
		t.Errorf("reused event id: got %v, want ErrDuplicateEvent", err)
	}

	dupBase := event("evt-2", "alice", "post-1", model.VoteKindBase, 0, day0.Add(time.Minute))
	if err := m.AppendEvent(ctx, dupBase); !errors.Is(err, model.ErrDuplicateBaseVote) {
		t.Errorf("second base vote same day: got %v, want ErrDuplicateBaseVote", err)
	}

	// a different day releases the base-vote constraint
	nextDay := event("evt-3", "alice", "post-1", model.VoteKindBase, 0, day0.Add(24*time.Hour))
	if err := m.AppendEvent(ctx, nextDay); err != nil {
		t.Errorf("base vote next day rejected: %v", err)
	}

	burn := event("evt-4", "alice", "post-1", model.VoteKindBurn, 3, day0.Add(2*time.Minute))
	if err := m.AppendEvent(ctx, burn); err != nil {
		t.Fatal(err)
	}
	reuse := event("evt-5", "bob", "post-1", model.VoteKindBurn, 3, day0.Add(3*time.Minute))
	reuse.ReceiptRef = burn.ReceiptRef
	if err := m.AppendEvent(ctx, reuse); !errors.Is(err, model.ErrReceiptConsumed) {
		t.Errorf("receipt ref reuse: got %v, want ErrReceiptConsumed", err)
	}
}

func TestDailyCounts(t *testing.T) {
	m := New()
	ctx := context.Background()

	events := []*model.VoteEvent{
		event("evt-1", "alice", "post-1", model.VoteKindBase, 0, day0),
		event("evt-2", "alice", "post-2", model.VoteKindBurn, 2, day0.Add(time.Minute)),
		event("evt-3", "alice", "post-3", model.VoteKindBurn, 3, day0.Add(2*time.Minute)),
		event("evt-4", "bob", "post-1", model.VoteKindBase, 0, day0),
	}
	for _, e := range events {
		if err := m.AppendEvent(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	day := model.DayKey("2026-08-01")
	baseUsed, burnUsed, err := m.DailyCounts(ctx, "alice", day)
	if err != nil {
		t.Fatal(err)
	}
	if baseUsed != 1 || burnUsed != 5 {
		t.Errorf("alice counts = (%d, %d), want (1, 5)", baseUsed, burnUsed)
	}
	baseUsed, burnUsed, err = m.DailyCounts(ctx, "carol", day)
	if err != nil {
		t.Fatal(err)
	}
	if baseUsed != 0 || burnUsed != 0 {
		t.Errorf("unknown voter counts = (%d, %d), want zeros", baseUsed, burnUsed)
	}
}

func TestEventsByVoterDayLimit(t *testing.T) {
	m := New()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		e := event(model.EventId(fmt.Sprintf("e%d", i)), "alice", model.ContentId(fmt.Sprintf("p%d", i)),
			model.VoteKindBurn, 1, day0.Add(time.Duration(i)*time.Minute))
		if err := m.AppendEvent(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := m.EventsByVoterDay(ctx, "alice", "2026-08-01", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	// the limit keeps the most recent events
	if got[0].EventId != "e3" || got[1].EventId != "e4" {
		t.Errorf("limited window = [%s, %s], want [e3, e4]", got[0].EventId, got[1].EventId)
	}
}

func TestReceiptClaimLifecycle(t *testing.T) {
	m := New()
	ctx := context.Background()

	if _, err := m.ClaimReceipt(ctx, "rcpt-1", "alice", "evt-1"); !errors.Is(err, model.ErrReceiptNotFound) {
		t.Errorf("claim of unknown receipt: got %v, want ErrReceiptNotFound", err)
	}

	if err := m.PutReceipt(ctx, &model.BurnReceipt{
		Id: "rcpt-1", Voter: "alice", Amount: 3, ObservedAt: day0, Confirmed: true,
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := m.ClaimReceipt(ctx, "rcpt-1", "bob", "evt-1"); !errors.Is(err, model.ErrReceiptMismatch) {
		t.Errorf("claim by wrong voter: got %v, want ErrReceiptMismatch", err)
	}

	r, err := m.ClaimReceipt(ctx, "rcpt-1", "alice", "evt-1")
	if err != nil {
		t.Fatal(err)
	}
	if r.ClaimedBy == nil || *r.ClaimedBy != "evt-1" {
		t.Errorf("ClaimedBy = %v, want evt-1", r.ClaimedBy)
	}

	// same event re-claims idempotently, a different event is locked out
	if _, err := m.ClaimReceipt(ctx, "rcpt-1", "alice", "evt-1"); err != nil {
		t.Errorf("idempotent re-claim failed: %v", err)
	}
	if _, err := m.ClaimReceipt(ctx, "rcpt-1", "alice", "evt-2"); !errors.Is(err, model.ErrReceiptConsumed) {
		t.Errorf("claim by second event: got %v, want ErrReceiptConsumed", err)
	}

	// release restores claimability; releasing for the wrong event does not
	if err := m.ReleaseReceipt(ctx, "rcpt-1", "evt-2"); !errors.Is(err, model.ErrReceiptConsumed) {
		t.Errorf("release by non-owner: got %v, want ErrReceiptConsumed", err)
	}
	if err := m.ReleaseReceipt(ctx, "rcpt-1", "evt-1"); err != nil {
		t.Fatal(err)
	}
	if err := m.ReleaseReceipt(ctx, "rcpt-1", "evt-1"); err != nil {
		t.Errorf("release of unclaimed receipt: got %v, want nil", err)
	}
	if _, err := m.ClaimReceipt(ctx, "rcpt-1", "alice", "evt-2"); err != nil {
		t.Errorf("re-claim after release failed: %v", err)
	}
}

func TestPruneReceipts(t *testing.T) {
	m := New()
	ctx := context.Background()

	claimed := model.EventId("evt-1")
	receipts := []*model.BurnReceipt{
		{Id: "rcpt-old-claimed", Voter: "alice", Amount: 1, ObservedAt: day0, ClaimedBy: &claimed},
		{Id: "rcpt-old-free", Voter: "alice", Amount: 1, ObservedAt: day0},
		{Id: "rcpt-new-claimed", Voter: "alice", Amount: 1, ObservedAt: day0.Add(48 * time.Hour), ClaimedBy: &claimed},
	}
	for _, r := range receipts {
		if err := m.PutReceipt(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	pruned, err := m.PruneReceipts(ctx, day0.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if pruned != 1 {
		t.Errorf("pruned %d receipts, want 1", pruned)
	}
	remaining, err := m.AllReceipts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var ids []model.ReceiptId
	for _, r := range remaining {
		ids = append(ids, r.Id)
	}
	want := []model.ReceiptId{"rcpt-new-claimed", "rcpt-old-free"}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("remaining receipts mismatch (-want +got):\n%s", diff)
	}
}

func TestAdvancePeriodState(t *testing.T) {
	m := New()
	ctx := context.Background()

	period := &model.VotingPeriod{
		Id: "p1", OpensAt: day0, ClosesAt: day0.Add(24 * time.Hour), State: model.PeriodOpen,
	}
	if err := m.PutPeriod(ctx, period); err != nil {
		t.Fatal(err)
	}

	if err := m.AdvancePeriodState(ctx, "p2", model.PeriodOpen, model.PeriodClosed); !errors.Is(err, model.ErrPeriodNotFound) {
		t.Errorf("advance of unknown period: got %v, want ErrPeriodNotFound", err)
	}
	if err := m.AdvancePeriodState(ctx, "p1", model.PeriodClosed, model.PeriodSettled); !errors.Is(err, model.ErrPeriodNotClosed) {
		t.Errorf("settle of open period: got %v, want ErrPeriodNotClosed", err)
	}
	if err := m.AdvancePeriodState(ctx, "p1", model.PeriodOpen, model.PeriodClosed); err != nil {
		t.Fatal(err)
	}
	if err := m.AdvancePeriodState(ctx, "p1", model.PeriodOpen, model.PeriodClosed); !errors.Is(err, model.ErrPeriodNotOpen) {
		t.Errorf("double close: got %v, want ErrPeriodNotOpen", err)
	}
	if err := m.AdvancePeriodState(ctx, "p1", model.PeriodClosed, model.PeriodSettled); err != nil {
		t.Fatal(err)
	}

	p, err := m.GetPeriod(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if p.State != model.PeriodSettled {
		t.Errorf("final state = %s, want settled", p.State)
	}
}

func TestCandidatesScopedToPeriod(t *testing.T) {
	m := New()
	ctx := context.Background()

	if err := m.PutContent(ctx, &model.Content{
		Id: "post-1", Submitter: "sam", CreatedAt: day0.Add(-time.Hour), Moderation: model.ModerationApproved,
	}); err != nil {
		t.Fatal(err)
	}
	if err := m.PutPeriod(ctx, &model.VotingPeriod{
		Id: "p1", OpensAt: day0, ClosesAt: day0.Add(time.Hour), State: model.PeriodOpen,
	}); err != nil {
		t.Fatal(err)
	}

	inside := []*model.VoteEvent{
		event("evt-1", "alice", "post-1", model.VoteKindBase, 0, day0.Add(time.Minute)),
		event("evt-2", "bob", "post-1", model.VoteKindBurn, 4, day0.Add(2*time.Minute)),
	}
	outside := event("evt-3", "carol", "post-1", model.VoteKindBase, 0, day0.Add(2*time.Hour))
	for _, e := range append(inside, outside) {
		if err := m.AppendEvent(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	candidates, err := m.Candidates(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 1 {
		t.Fatalf("got %d candidates, want 1", len(candidates))
	}
	c := candidates[0]
	if c.BaseVotes != 1 || c.BurnWeight != 4 || c.DistinctVoters != 2 {
		t.Errorf("aggregate = %+v, want base 1, burn 4, distinct 2", c)
	}
	if c.Submitter != "sam" {
		t.Errorf("Submitter = %s, want sam", c.Submitter)
	}
	if !c.LastVoteAt.Equal(day0.Add(2 * time.Minute)) {
		t.Errorf("LastVoteAt = %v, want the last in-window vote", c.LastVoteAt)
	}
}

func TestEventsByPeriodFilter(t *testing.T) {
	m := New()
	ctx := context.Background()

	if err := m.PutPeriod(ctx, &model.VotingPeriod{
		Id: "p1", OpensAt: day0, ClosesAt: day0.Add(time.Hour), State: model.PeriodOpen,
	}); err != nil {
		t.Fatal(err)
	}
	events := []*model.VoteEvent{
		event("evt-1", "alice", "post-1", model.VoteKindBase, 0, day0.Add(time.Minute)),
		event("evt-2", "alice", "post-2", model.VoteKindBurn, 2, day0.Add(2*time.Minute)),
		event("evt-3", "bob", "post-1", model.VoteKindBurn, 3, day0.Add(3*time.Minute)),
	}
	for _, e := range events {
		if err := m.AppendEvent(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	var got []model.EventId
	err := m.EventsByPeriod(ctx, "p1", store.EventFilter{Kind: model.VoteKindBurn}, func(e *model.VoteEvent) error {
		got = append(got, e.EventId)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []model.EventId{"evt-2", "evt-3"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("filtered events mismatch (-want +got):\n%s", diff)
	}

	if err := m.EventsByPeriod(ctx, "p-missing", store.EventFilter{}, func(*model.VoteEvent) error { return nil }); !errors.Is(err, model.ErrPeriodNotFound) {
		t.Errorf("unknown period: got %v, want ErrPeriodNotFound", err)
	}
}
