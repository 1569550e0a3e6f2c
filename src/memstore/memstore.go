package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kasboard/kasboard/src/model"
	"github.com/kasboard/kasboard/src/store"
)

type dayCounts struct {
	baseUsed uint64
	burnUsed uint64
}

// MemStore is the in-memory store implementation. It enforces the same
// uniqueness constraints as the postgres schema: event id primary key, one
// base vote per (voter, content, day), and one event per receipt. All reads
// see only fully committed appends.
type MemStore struct {
	mu         sync.RWMutex
	events     map[model.EventId]*model.VoteEvent
	eventOrder []model.EventId
	baseKeys   map[string]model.EventId
	refs       map[model.ReceiptId]model.EventId
	counts     map[string]*dayCounts
	contents   map[model.ContentId]*model.Content
	receipts   map[model.ReceiptId]*model.BurnReceipt
	burnTxs    map[model.ReceiptId]*model.BurnTx
	periods    map[model.PeriodId]*model.VotingPeriod
	shares     map[model.PeriodId]map[model.VoterId]*model.RewardShare
	taints     []*model.DayTaint
}

func New() *MemStore {
	return &MemStore{
		events:   make(map[model.EventId]*model.VoteEvent),
		baseKeys: make(map[string]model.EventId),
		refs:     make(map[model.ReceiptId]model.EventId),
		counts:   make(map[string]*dayCounts),
		contents: make(map[model.ContentId]*model.Content),
		receipts: make(map[model.ReceiptId]*model.BurnReceipt),
		burnTxs:  make(map[model.ReceiptId]*model.BurnTx),
		periods:  make(map[model.PeriodId]*model.VotingPeriod),
		shares:   make(map[model.PeriodId]map[model.VoterId]*model.RewardShare),
	}
}

func baseKey(voter model.VoterId, content model.ContentId, day model.DayKey) string {
	return fmt.Sprintf("%s|%s|%s", voter, content, day)
}

func countKey(voter model.VoterId, day model.DayKey) string {
	return fmt.Sprintf("%s|%s", voter, day)
}

func (m *MemStore) AppendEvent(ctx context.Context, event *model.VoteEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[event.EventId]; ok {
		return model.ErrDuplicateEvent
	}
	if event.Kind == model.VoteKindBase {
		if _, ok := m.baseKeys[baseKey(event.Voter, event.Content, event.Day)]; ok {
			return model.ErrDuplicateBaseVote
		}
	}
	if event.ReceiptRef != nil {
		if _, ok := m.refs[*event.ReceiptRef]; ok {
			return model.ErrReceiptConsumed
		}
	}
	stored := *event
	m.events[stored.EventId] = &stored
	m.eventOrder = append(m.eventOrder, stored.EventId)
	if stored.Kind == model.VoteKindBase {
		m.baseKeys[baseKey(stored.Voter, stored.Content, stored.Day)] = stored.EventId
	}
	if stored.ReceiptRef != nil {
		m.refs[*stored.ReceiptRef] = stored.EventId
	}
	ck := countKey(stored.Voter, stored.Day)
	dc, ok := m.counts[ck]
	if !ok {
		dc = &dayCounts{}
		m.counts[ck] = dc
	}
	if stored.Kind == model.VoteKindBase {
		dc.baseUsed++
	} else {
		dc.burnUsed += stored.BurnAmount
	}
	return nil
}

func (m *MemStore) GetEvent(ctx context.Context, id model.EventId) (*model.VoteEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.events[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (m *MemStore) DailyCounts(ctx context.Context, voter model.VoterId, day model.DayKey) (uint64, uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dc, ok := m.counts[countKey(voter, day)]
	if !ok {
		return 0, 0, nil
	}
	return dc.baseUsed, dc.burnUsed, nil
}

func (m *MemStore) EventsByVoterDay(ctx context.Context, voter model.VoterId, day model.DayKey, limit int) ([]*model.VoteEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.VoteEvent
	for _, id := range m.eventOrder {
		e := m.events[id]
		if e.Voter == voter && e.Day == day {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:] // keep the most recent events
	}
	return out, nil
}

func (m *MemStore) EventsByDay(ctx context.Context, day model.DayKey) ([]*model.VoteEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.VoteEvent
	for _, id := range m.eventOrder {
		e := m.events[id]
		if e.Day == day {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *MemStore) EventsByContentWindow(ctx context.Context, content model.ContentId, from, to time.Time) ([]*model.VoteEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.VoteEvent
	for _, id := range m.eventOrder {
		e := m.events[id]
		if e.Content != content {
			continue
		}
		if e.Timestamp.Before(from) || e.Timestamp.After(to) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemStore) EventsByPeriod(ctx context.Context, period model.PeriodId, filter store.EventFilter, fn func(*model.VoteEvent) error) error {
	m.mu.RLock()
	p, ok := m.periods[period]
	if !ok {
		m.mu.RUnlock()
		return model.ErrPeriodNotFound
	}
	window := *p
	// copy out under lock, deliver outside it so callbacks may hit the store
	var batch []*model.VoteEvent
	for _, id := range m.eventOrder {
		e := m.events[id]
		if !inPeriod(e, &window) || !filter.Matches(e) {
			continue
		}
		cp := *e
		batch = append(batch, &cp)
	}
	m.mu.RUnlock()
	for _, e := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// inPeriod scopes an event to a period by admission timestamp. Admission only
// appends while the period is open, so closing a period freezes its event set.
func inPeriod(e *model.VoteEvent, p *model.VotingPeriod) bool {
	return !e.Timestamp.Before(p.OpensAt) && e.Timestamp.Before(p.ClosesAt)
}

func (m *MemStore) CandidateCounts(ctx context.Context, period model.PeriodId, content model.ContentId) (*model.Candidate, error) {
	candidates, err := m.Candidates(ctx, period)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		if c.Content == content {
			return c, nil
		}
	}
	return nil, nil
}

func (m *MemStore) Candidates(ctx context.Context, period model.PeriodId) ([]*model.Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.periods[period]
	if !ok {
		return nil, model.ErrPeriodNotFound
	}
	byContent := map[model.ContentId]*model.Candidate{}
	voters := map[model.ContentId]map[model.VoterId]struct{}{}
	for _, id := range m.eventOrder {
		e := m.events[id]
		if !inPeriod(e, p) {
			continue
		}
		c, ok := byContent[e.Content]
		if !ok {
			c = &model.Candidate{Content: e.Content}
			if content, ok := m.contents[e.Content]; ok {
				c.Submitter = content.Submitter
				c.CreatedAt = content.CreatedAt
			}
			byContent[e.Content] = c
			voters[e.Content] = map[model.VoterId]struct{}{}
		}
		if e.Kind == model.VoteKindBase {
			c.BaseVotes++
		} else {
			c.BurnWeight += e.BurnAmount
		}
		voters[e.Content][e.Voter] = struct{}{}
		if e.Timestamp.After(c.LastVoteAt) {
			c.LastVoteAt = e.Timestamp
		}
	}
	out := make([]*model.Candidate, 0, len(byContent))
	for id, c := range byContent {
		c.DistinctVoters = len(voters[id])
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Content < out[j].Content })
	return out, nil
}

func (m *MemStore) PutContent(ctx context.Context, content *model.Content) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contents[content.Id]; ok {
		return nil // idempotent registration
	}
	cp := *content
	m.contents[content.Id] = &cp
	return nil
}

func (m *MemStore) GetContent(ctx context.Context, id model.ContentId) (*model.Content, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contents[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *MemStore) SetModeration(ctx context.Context, id model.ContentId, state model.ModerationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contents[id]
	if !ok {
		return model.ErrContentNotFound
	}
	c.Moderation = state
	return nil
}

func (m *MemStore) PutReceipt(ctx context.Context, receipt *model.BurnReceipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.receipts[receipt.Id]; ok {
		return nil // insert-if-new
	}
	cp := *receipt
	m.receipts[receipt.Id] = &cp
	return nil
}

func (m *MemStore) GetReceipt(ctx context.Context, id model.ReceiptId) (*model.BurnReceipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.receipts[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *MemStore) ConfirmReceipt(ctx context.Context, id model.ReceiptId, blockRef string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.receipts[id]
	if !ok {
		return model.ErrReceiptNotFound
	}
	if r.Confirmed {
		return nil
	}
	r.Confirmed = true
	r.BlockRef = blockRef
	r.ObservedAt = at
	return nil
}

func (m *MemStore) PutBurnTx(ctx context.Context, tx *model.BurnTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.burnTxs[tx.TxId]; ok {
		return nil
	}
	cp := *tx
	m.burnTxs[tx.TxId] = &cp
	return nil
}

func (m *MemStore) GetBurnTx(ctx context.Context, id model.ReceiptId) (*model.BurnTx, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.burnTxs[id]
	if !ok {
		return nil, nil
	}
	cp := *tx
	return &cp, nil
}

func (m *MemStore) ClaimReceipt(ctx context.Context, id model.ReceiptId, voter model.VoterId, event model.EventId) (*model.BurnReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.receipts[id]
	if !ok {
		return nil, model.ErrReceiptNotFound
	}
	if r.Voter != voter {
		return nil, model.ErrReceiptMismatch
	}
	if r.ClaimedBy != nil {
		if *r.ClaimedBy == event {
			cp := *r
			return &cp, nil // idempotent re-claim after a retry
		}
		return nil, model.ErrReceiptConsumed
	}
	ev := event
	r.ClaimedBy = &ev
	cp := *r
	return &cp, nil
}

func (m *MemStore) ReleaseReceipt(ctx context.Context, id model.ReceiptId, event model.EventId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.receipts[id]
	if !ok {
		return model.ErrReceiptNotFound
	}
	if r.ClaimedBy == nil {
		return nil
	}
	if *r.ClaimedBy != event {
		return model.ErrReceiptConsumed
	}
	r.ClaimedBy = nil
	return nil
}

func (m *MemStore) ReceiptsByVoterDay(ctx context.Context, voter model.VoterId, from, to time.Time) ([]*model.BurnReceipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.BurnReceipt
	for _, r := range m.receipts {
		if r.Voter != voter {
			continue
		}
		if r.ObservedAt.Before(from) || r.ObservedAt.After(to) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ObservedAt.Before(out[j].ObservedAt) })
	return out, nil
}

func (m *MemStore) AllReceipts(ctx context.Context) ([]*model.BurnReceipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.BurnReceipt, 0, len(m.receipts))
	for _, r := range m.receipts {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out, nil
}

func (m *MemStore) PruneReceipts(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pruned int64
	for id, r := range m.receipts {
		// only consumed receipts are prunable, unconsumed ones stay claimable
		if r.ClaimedBy != nil && r.ObservedAt.Before(before) {
			delete(m.receipts, id)
			pruned++
		}
	}
	return pruned, nil
}

func (m *MemStore) PutPeriod(ctx context.Context, period *model.VotingPeriod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.periods[period.Id]; ok {
		return nil
	}
	cp := *period
	m.periods[period.Id] = &cp
	return nil
}

func (m *MemStore) GetPeriod(ctx context.Context, id model.PeriodId) (*model.VotingPeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.periods[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *MemStore) OpenPeriodAt(ctx context.Context, t time.Time) (*model.VotingPeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.periods {
		if p.State == model.PeriodOpen && p.Contains(t) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemStore) ListPeriods(ctx context.Context) ([]*model.VotingPeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.VotingPeriod, 0, len(m.periods))
	for _, p := range m.periods {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpensAt.Before(out[j].OpensAt) })
	return out, nil
}

func (m *MemStore) AdvancePeriodState(ctx context.Context, id model.PeriodId, from, to model.PeriodState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.periods[id]
	if !ok {
		return model.ErrPeriodNotFound
	}
	if p.State != from {
		if from == model.PeriodOpen {
			return model.ErrPeriodNotOpen
		}
		return model.ErrPeriodNotClosed
	}
	p.State = to
	return nil
}

func (m *MemStore) PutRewardShares(ctx context.Context, shares []*model.RewardShare) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range shares {
		byVoter, ok := m.shares[s.Period]
		if !ok {
			byVoter = map[model.VoterId]*model.RewardShare{}
			m.shares[s.Period] = byVoter
		}
		cp := *s
		byVoter[s.Voter] = &cp
	}
	return nil
}

func (m *MemStore) SharesByPeriod(ctx context.Context, period model.PeriodId) ([]*model.RewardShare, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byVoter := m.shares[period]
	out := make([]*model.RewardShare, 0, len(byVoter))
	for _, s := range byVoter {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Voter < out[j].Voter })
	return out, nil
}

func (m *MemStore) TaintDay(ctx context.Context, taint *model.DayTaint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *taint
	m.taints = append(m.taints, &cp)
	return nil
}

func (m *MemStore) Taints(ctx context.Context) ([]*model.DayTaint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.DayTaint, 0, len(m.taints))
	for _, t := range m.taints {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}
