package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kasboard/kasboard/src/clock"
	"github.com/kasboard/kasboard/src/events"
	"github.com/kasboard/kasboard/src/model"
	"github.com/kasboard/kasboard/src/oracle"
	"github.com/kasboard/kasboard/src/store"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Engine is the curation core: vote admission, ranking, manipulation
// detection, period lifecycle and reward settlement over a pluggable store.
type Engine struct {
	cfg      Config
	store    store.Store
	oracle   oracle.LedgerOracle
	clock    clock.Clock
	bus      *events.Bus
	logger   *zap.Logger
	ranker   *Ranker
	detector *Detector

	lockMu     sync.Mutex
	voterLocks map[model.VoterId]*sync.Mutex
}

func New(cfg Config, st store.Store, orc oracle.LedgerOracle, clk clock.Clock, bus *events.Bus, logger *zap.Logger) *Engine {
	e := &Engine{
		cfg:        cfg,
		store:      st,
		oracle:     orc,
		clock:      clk,
		bus:        bus,
		logger:     logger.With(zap.String("component", "engine")),
		voterLocks: make(map[model.VoterId]*sync.Mutex),
	}
	e.ranker = NewRanker(&e.cfg, st, clk, nil, logger)
	e.detector = NewDetector(&e.cfg, st, clk, bus, logger)
	// committed votes invalidate the ranker's cached leaderboards
	bus.SubscribeFunc(events.EventVoteAccepted, func(events.Event) {
		e.ranker.Invalidate()
	})
	return e
}

// SetRankCache attaches a redis-backed leaderboard cache to the ranker.
func (e *Engine) SetRankCache(cache *LeaderboardCache) {
	e.ranker.cache = cache
}

func (e *Engine) Ranker() *Ranker     { return e.ranker }
func (e *Engine) Detector() *Detector { return e.detector }

// lockVoter serializes admissions per voter. Waiters queue on the mutex;
// different voters are never serialized against each other.
func (e *Engine) lockVoter(voter model.VoterId) func() {
	e.lockMu.Lock()
	mu, ok := e.voterLocks[voter]
	if !ok {
		mu = &sync.Mutex{}
		e.voterLocks[voter] = mu
	}
	e.lockMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// RegisterContent makes a piece of content known to the engine. Idempotent;
// a re-registration never resets moderation state.
func (e *Engine) RegisterContent(ctx context.Context, id model.ContentId, submitter model.VoterId, createdAt time.Time) error {
	return e.store.PutContent(ctx, &model.Content{
		Id:         id,
		Submitter:  submitter,
		CreatedAt:  createdAt.UTC(),
		Moderation: model.ModerationPending,
	})
}

func (e *Engine) SetModeration(ctx context.Context, id model.ContentId, state model.ModerationState) error {
	return e.store.SetModeration(ctx, id, state)
}

// Stats is a snapshot of one period, a deterministic function of the ledger
// and registry at read time.
type Stats struct {
	Period      model.PeriodId
	Candidates  []*model.Candidate
	TotalVotes  int
	TotalVoters int
	TotalBurned uint64
}

// GetStats reads a consistent snapshot of the given period, or of the
// currently open period when periodId is empty.
func (e *Engine) GetStats(ctx context.Context, periodId model.PeriodId) (*Stats, error) {
	period, err := e.resolvePeriod(ctx, periodId)
	if err != nil {
		return nil, err
	}
	stats := &Stats{Period: period.Id}
	voters := map[model.VoterId]struct{}{}
	byContent := map[model.ContentId]*model.Candidate{}
	contentVoters := map[model.ContentId]map[model.VoterId]struct{}{}
	// totals and candidate aggregates come from one scan, so a concurrent
	// admission cannot tear the snapshot between two store reads
	err = e.store.EventsByPeriod(ctx, period.Id, store.EventFilter{}, func(ev *model.VoteEvent) error {
		stats.TotalVotes++
		voters[ev.Voter] = struct{}{}
		c, ok := byContent[ev.Content]
		if !ok {
			c = &model.Candidate{Content: ev.Content}
			byContent[ev.Content] = c
			contentVoters[ev.Content] = map[model.VoterId]struct{}{}
		}
		contentVoters[ev.Content][ev.Voter] = struct{}{}
		if ev.Kind == model.VoteKindBurn {
			stats.TotalBurned += ev.BurnAmount
			c.BurnWeight += ev.BurnAmount
		} else {
			c.BaseVotes++
		}
		if ev.Timestamp.After(c.LastVoteAt) {
			c.LastVoteAt = ev.Timestamp
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed scanning period events")
	}
	stats.TotalVoters = len(voters)
	candidates := make([]*model.Candidate, 0, len(byContent))
	for id, c := range byContent {
		c.DistinctVoters = len(contentVoters[id])
		// submitter and creation time are immutable once registered
		if content, cerr := e.store.GetContent(ctx, id); cerr == nil && content != nil {
			c.Submitter = content.Submitter
			c.CreatedAt = content.CreatedAt
		}
		candidates = append(candidates, c)
	}
	// order by period-total score so the snapshot is deterministic
	sort.Slice(candidates, func(i, j int) bool {
		return lessCandidate(e.ranker.scoreTopPeriod(candidates[i]), candidates[i],
			e.ranker.scoreTopPeriod(candidates[j]), candidates[j])
	})
	stats.Candidates = candidates
	return stats, nil
}

func (e *Engine) resolvePeriod(ctx context.Context, periodId model.PeriodId) (*model.VotingPeriod, error) {
	if periodId != "" {
		period, err := e.store.GetPeriod(ctx, periodId)
		if err != nil {
			return nil, errors.Wrap(model.ErrStoreUnavailable, err.Error())
		}
		if period == nil {
			return nil, model.ErrPeriodNotFound
		}
		return period, nil
	}
	period, err := e.store.OpenPeriodAt(ctx, e.clock.Now())
	if err != nil {
		return nil, errors.Wrap(model.ErrStoreUnavailable, err.Error())
	}
	if period == nil {
		return nil, model.ErrNoOpenPeriod
	}
	return period, nil
}

// RankContent returns the current period's leaderboard for the given mode.
func (e *Engine) RankContent(ctx context.Context, mode RankMode, limit int) ([]*ScoredCandidate, error) {
	period, err := e.resolvePeriod(ctx, "")
	if err != nil {
		return nil, err
	}
	return e.ranker.Rank(ctx, period.Id, mode, limit)
}

// DetectManipulation evaluates the voter's current-day behavior.
func (e *Engine) DetectManipulation(ctx context.Context, voter model.VoterId) (*DetectorReport, error) {
	return e.detector.Detect(ctx, voter)
}
