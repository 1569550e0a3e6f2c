package engine

import (
	"container/heap"
	"context"
	"math"
	"sort"
	"sync"

	"github.com/kasboard/kasboard/src/clock"
	"github.com/kasboard/kasboard/src/model"
	"github.com/kasboard/kasboard/src/store"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type RankMode string

const (
	RankHot       RankMode = "hot"
	RankTopPeriod RankMode = "top_period"
	RankNew       RankMode = "new"
)

type ScoredCandidate struct {
	*model.Candidate
	Score float64
}

// Ranker computes composite leaderboards over a period's candidates.
// Computed boards are memoized until the next accepted vote and mirrored
// into redis for outer-layer consumers.
type Ranker struct {
	cfg    *Config
	store  store.Store
	clock  clock.Clock
	cache  *LeaderboardCache
	logger *zap.Logger

	memoMu sync.Mutex
	memo   map[string][]*ScoredCandidate
}

func NewRanker(cfg *Config, st store.Store, clk clock.Clock, cache *LeaderboardCache, logger *zap.Logger) *Ranker {
	return &Ranker{
		cfg:    cfg,
		store:  st,
		clock:  clk,
		cache:  cache,
		logger: logger.With(zap.String("component", "ranker")),
		memo:   make(map[string][]*ScoredCandidate),
	}
}

// Invalidate drops all memoized leaderboards. Wired to VoteAccepted.
func (r *Ranker) Invalidate() {
	r.memoMu.Lock()
	r.memo = make(map[string][]*ScoredCandidate)
	r.memoMu.Unlock()
	if r.cache != nil {
		r.cache.Invalidate()
	}
}

// score implements the composite ranking function:
//
//	w_base*base + w_burn*burn + w_div*log(1+distinct) + w_rec*exp(-age/tau)
func (r *Ranker) score(c *model.Candidate, mode RankMode) float64 {
	w := r.cfg.Weights
	s := w.Base*float64(c.BaseVotes) +
		w.Burn*float64(c.BurnWeight) +
		w.Diversity*math.Log(1+float64(c.DistinctVoters))
	if mode == RankHot && !c.LastVoteAt.IsZero() {
		age := r.clock.Now().Sub(c.LastVoteAt)
		s += w.Recency * math.Exp(-age.Seconds()/r.cfg.RecencyHalfLife.Seconds())
	}
	return s
}

func (r *Ranker) scoreTopPeriod(c *model.Candidate) float64 {
	return r.score(c, RankTopPeriod)
}

// lessCandidate orders by score descending with the deterministic tie-break:
// more distinct voters first, then earlier creation, then content id.
func lessCandidate(si float64, ci *model.Candidate, sj float64, cj *model.Candidate) bool {
	if si != sj {
		return si > sj
	}
	if ci.DistinctVoters != cj.DistinctVoters {
		return ci.DistinctVoters > cj.DistinctVoters
	}
	if !ci.CreatedAt.Equal(cj.CreatedAt) {
		return ci.CreatedAt.Before(cj.CreatedAt)
	}
	return ci.Content < cj.Content
}

// candidateHeap is a min-heap by rank order, so the worst of the current
// top-k sits at the root and is evicted first.
type candidateHeap []*ScoredCandidate

func (h candidateHeap) Len() int { return len(h) }
func (h candidateHeap) Less(i, j int) bool {
	return lessCandidate(h[j].Score, h[j].Candidate, h[i].Score, h[i].Candidate)
}
func (h candidateHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)   { *h = append(*h, x.(*ScoredCandidate)) }
func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Rank returns the period's top `limit` candidates for the mode. Top-k runs
// in O(N log k) over N candidates.
func (r *Ranker) Rank(ctx context.Context, period model.PeriodId, mode RankMode, limit int) ([]*ScoredCandidate, error) {
	if limit <= 0 {
		return nil, nil
	}
	key := string(period) + "|" + string(mode)
	r.memoMu.Lock()
	memoized, ok := r.memo[key]
	r.memoMu.Unlock()
	if ok && len(memoized) >= limit {
		return memoized[:limit], nil
	}

	candidates, err := r.store.Candidates(ctx, period)
	if err != nil {
		return nil, errors.Wrap(err, "failed fetching candidates for ranking")
	}
	var ranked []*ScoredCandidate
	if mode == RankNew {
		ranked = rankByCreation(candidates, limit)
	} else {
		ranked = r.topK(candidates, mode, limit)
	}

	r.memoMu.Lock()
	r.memo[key] = ranked
	r.memoMu.Unlock()

	if r.cache != nil {
		if err := r.cache.Publish(ctx, period, mode, ranked); err != nil {
			r.logger.Warn("failed publishing leaderboard to redis", zap.Error(err))
		}
	}
	return ranked, nil
}

func (r *Ranker) topK(candidates []*model.Candidate, mode RankMode, limit int) []*ScoredCandidate {
	h := make(candidateHeap, 0, limit)
	heap.Init(&h)
	for _, c := range candidates {
		sc := &ScoredCandidate{Candidate: c, Score: r.score(c, mode)}
		if len(h) < limit {
			heap.Push(&h, sc)
			continue
		}
		if lessCandidate(sc.Score, sc.Candidate, h[0].Score, h[0].Candidate) {
			h[0] = sc
			heap.Fix(&h, 0)
		}
	}
	out := make([]*ScoredCandidate, len(h))
	for i := len(h) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&h).(*ScoredCandidate)
	}
	return out
}

func rankByCreation(candidates []*model.Candidate, limit int) []*ScoredCandidate {
	sorted := make([]*model.Candidate, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
		}
		return sorted[i].Content < sorted[j].Content
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	out := make([]*ScoredCandidate, len(sorted))
	for i, c := range sorted {
		out[i] = &ScoredCandidate{Candidate: c}
	}
	return out
}
