package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kasboard/kasboard/src/events"
	"github.com/kasboard/kasboard/src/model"
)

func hasFlag(report *DetectorReport, flag string) bool {
	for _, f := range report.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// appendRaw bypasses admission so detector inputs are not limited by the
// daily budgets.
func (f *testFixture) appendRaw(t *testing.T, voter model.VoterId, content model.ContentId, kind model.VoteKind, amount uint64, at time.Time) {
	t.Helper()
	ev := &model.VoteEvent{
		EventId:   model.EventId(uuid.NewString()),
		Voter:     voter,
		Content:   content,
		Kind:      kind,
		Day:       f.clock.DayKey(at),
		Timestamp: at,
	}
	if kind == model.VoteKindBurn {
		ev.BurnAmount = amount
	}
	if err := f.store.AppendEvent(context.Background(), ev); err != nil {
		t.Fatalf("failed appending event: %v", err)
	}
}

func TestDetectRapidVoting(t *testing.T) {
	f := newTestFixture(t, "post-1")
	f.addReceipt(t, "rcpt-1", "alice", 1)
	f.addReceipt(t, "rcpt-2", "alice", 1)

	// three admissions ten seconds apart
	if _, err := f.baseVote("alice", "post-1"); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(10 * time.Second)
	if _, err := f.burnVote("alice", "post-1", 1, "rcpt-1"); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(10 * time.Second)
	if _, err := f.burnVote("alice", "post-1", 1, "rcpt-2"); err != nil {
		t.Fatal(err)
	}

	report, err := f.engine.DetectManipulation(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !hasFlag(report, FlagRapidVoting) {
		t.Errorf("rapid cadence not flagged: %+v", report)
	}
	if report.MeanInterval != 10*time.Second {
		t.Errorf("mean interval = %v, want 10s", report.MeanInterval)
	}
}

func TestDetectSlowVotingNotFlagged(t *testing.T) {
	f := newTestFixture(t, "post-1")
	now := f.clock.Now()
	for i := 0; i < 4; i++ {
		f.appendRaw(t, "alice", "post-1", model.VoteKindBase, 0, now.Add(time.Duration(i)*time.Minute))
	}

	report, err := f.engine.DetectManipulation(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if hasFlag(report, FlagRapidVoting) {
		t.Errorf("one-minute cadence flagged as rapid: %+v", report)
	}
}

func TestDetectBurnExtremity(t *testing.T) {
	f := newTestFixture(t, "post-1")
	now := f.clock.Now()
	// mean 13/3 ≈ 4.33 against a threshold of 0.8·5 = 4
	for i, amount := range []uint64{4, 4, 5} {
		f.appendRaw(t, "alice", "post-1", model.VoteKindBurn, amount, now.Add(time.Duration(i)*time.Hour))
	}

	report, err := f.engine.DetectManipulation(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !hasFlag(report, FlagBurnExtremity) {
		t.Errorf("extreme burns not flagged: %+v", report)
	}

	// two extreme burns are below the minimum sample size
	f2 := newTestFixture(t, "post-1")
	for i, amount := range []uint64{5, 5} {
		f2.appendRaw(t, "bob", "post-1", model.VoteKindBurn, amount, now.Add(time.Duration(i)*time.Hour))
	}
	report, err = f2.engine.DetectManipulation(context.Background(), "bob")
	if err != nil {
		t.Fatal(err)
	}
	if hasFlag(report, FlagBurnExtremity) {
		t.Errorf("two burns flagged despite min sample of three: %+v", report)
	}
}

func TestDetectCoordinatedVoting(t *testing.T) {
	f := newTestFixture(t, "post-1")
	now := f.clock.Now()

	f.appendRaw(t, "alice", "post-1", model.VoteKindBase, 0, now)
	// six distinct other voters hit the same content inside the window
	for _, v := range []model.VoterId{"b1", "b2", "b3", "b4", "b5", "b6"} {
		f.appendRaw(t, v, "post-1", model.VoteKindBase, 0, now.Add(time.Minute))
	}

	report, err := f.engine.DetectManipulation(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !hasFlag(report, FlagCoordinatedVoting) {
		t.Errorf("coordinated cohort not flagged: %+v", report)
	}
	if report.CoordRatio != 1 {
		t.Errorf("coordination ratio = %v, want 1", report.CoordRatio)
	}
}

func TestDetectPatternSimilarity(t *testing.T) {
	f := newTestFixture(t, "a", "b", "c")
	now := f.clock.Now()

	// four voters with the identical frequency fingerprint over a, b, c
	for _, v := range []model.VoterId{"alice", "s1", "s2", "s3"} {
		for content, votes := range map[model.ContentId]int{"a": 3, "b": 2, "c": 1} {
			for n := 0; n < votes; n++ {
				f.appendRaw(t, v, content, model.VoteKindBurn, 1, now.Add(time.Duration(n)*time.Minute))
			}
		}
	}

	report, err := f.engine.DetectManipulation(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !hasFlag(report, FlagPatternSimilarity) {
		t.Errorf("cloned vote patterns not flagged: %+v", report)
	}
	if report.SimilarVoters != 3 {
		t.Errorf("similar voters = %d, want 3", report.SimilarVoters)
	}

	if !report.Suspicious || report.Risk < 25 {
		// pattern similarity plus the rapid cadence both fire here
		t.Errorf("cloned cohort not suspicious: %+v", report)
	}
}

func TestSuspiciousVoterEvent(t *testing.T) {
	f := newTestFixture(t, "a", "b")
	_, ch := f.bus.Subscribe(events.EventSuspiciousVoterFlagged)
	now := f.clock.Now()

	// rapid cadence and a cloned pattern: two flags, risk 50
	for _, v := range []model.VoterId{"alice", "s1", "s2", "s3"} {
		f.appendRaw(t, v, "a", model.VoteKindBase, 0, now)
		f.appendRaw(t, v, "a", model.VoteKindBurn, 1, now.Add(5*time.Second))
		f.appendRaw(t, v, "b", model.VoteKindBase, 0, now.Add(10*time.Second))
	}

	report, err := f.engine.DetectManipulation(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !report.Suspicious {
		t.Fatalf("expected suspicious report, got %+v", report)
	}
	if report.Risk != 25*len(report.Flags) {
		t.Errorf("risk = %d, want %d", report.Risk, 25*len(report.Flags))
	}

	select {
	case evt := <-ch:
		flagged := evt.Data.(events.SuspiciousVoterFlagged)
		if flagged.Voter != "alice" {
			t.Errorf("flagged voter = %s, want alice", flagged.Voter)
		}
	case <-time.After(time.Second):
		t.Error("no SuspiciousVoterFlagged event published")
	}
}
