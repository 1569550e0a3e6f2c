package engine

import (
	"context"
	"sort"
	"time"

	"github.com/kasboard/kasboard/src/clock"
	"github.com/kasboard/kasboard/src/events"
	"github.com/kasboard/kasboard/src/model"
	"github.com/kasboard/kasboard/src/store"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	FlagRapidVoting       = "rapid_voting"
	FlagBurnExtremity     = "burn_extremity"
	FlagCoordinatedVoting = "coordinated_voting"
	FlagPatternSimilarity = "vote_pattern_similarity"
)

const riskPerFlag = 25
const suspiciousFlagCount = 2

// DetectorReport is advisory: the engine never blocks admission on it.
// Partial reports mean the deadline expired before every feature ran.
type DetectorReport struct {
	Voter         model.VoterId
	Day           model.DayKey
	Flags         []string
	Risk          int
	Suspicious    bool
	Partial       bool
	EventCount    int
	MeanInterval  time.Duration
	MeanBurn      float64
	CoordRatio    float64
	SimilarVoters int
}

// Detector evaluates per-voter manipulation risk over the current day's
// events, bounded to the configured window size.
type Detector struct {
	cfg    *DetectorConfig
	store  store.Store
	clock  clock.Clock
	bus    *events.Bus
	logger *zap.Logger

	maxBurnPerDay uint64
}

func NewDetector(cfg *Config, st store.Store, clk clock.Clock, bus *events.Bus, logger *zap.Logger) *Detector {
	return &Detector{
		cfg:           &cfg.Detector,
		store:         st,
		clock:         clk,
		bus:           bus,
		logger:        logger.With(zap.String("component", "detector")),
		maxBurnPerDay: cfg.MaxBurnVotesPerDay,
	}
}

func (d *Detector) Detect(ctx context.Context, voter model.VoterId) (*DetectorReport, error) {
	now := d.clock.Now()
	day := d.clock.DayKey(now)
	report := &DetectorReport{Voter: voter, Day: day}

	voterEvents, err := d.store.EventsByVoterDay(ctx, voter, day, d.cfg.MaxEventsPerVoter)
	if err != nil {
		return nil, errors.Wrap(err, "failed fetching voter events")
	}
	report.EventCount = len(voterEvents)

	d.checkRapidCadence(report, voterEvents)
	d.checkBurnExtremity(report, voterEvents)

	// the remaining features fan out to wider queries; a deadline expiry
	// from here on yields a partial report instead of an error
	if partial := d.checkCoordination(ctx, report, voterEvents); partial {
		return d.finish(report), nil
	}
	if partial := d.checkPatternSimilarity(ctx, report, voter, day, voterEvents); partial {
		return d.finish(report), nil
	}
	return d.finish(report), nil
}

func (d *Detector) finish(report *DetectorReport) *DetectorReport {
	report.Risk = riskPerFlag * len(report.Flags)
	report.Suspicious = len(report.Flags) >= suspiciousFlagCount
	for _, f := range report.Flags {
		RecordDetectorFlag(f)
	}
	if report.Suspicious {
		RecordSuspiciousVoter()
		d.logger.Info("flagging suspicious voter",
			zap.String("voter", string(report.Voter)),
			zap.Strings("flags", report.Flags),
			zap.Int("risk", report.Risk))
		if d.bus != nil {
			d.bus.Publish(events.EventSuspiciousVoterFlagged, events.SuspiciousVoterFlagged{
				Voter: report.Voter,
				Day:   report.Day,
				Flags: report.Flags,
				Risk:  report.Risk,
			})
		}
	}
	return report
}

func (d *Detector) checkRapidCadence(report *DetectorReport, voterEvents []*model.VoteEvent) {
	if len(voterEvents) < d.cfg.MinEventsForRapid {
		return
	}
	var total time.Duration
	for i := 1; i < len(voterEvents); i++ {
		total += voterEvents[i].Timestamp.Sub(voterEvents[i-1].Timestamp)
	}
	report.MeanInterval = total / time.Duration(len(voterEvents)-1)
	if report.MeanInterval < d.cfg.RapidInterval {
		report.Flags = append(report.Flags, FlagRapidVoting)
	}
}

func (d *Detector) checkBurnExtremity(report *DetectorReport, voterEvents []*model.VoteEvent) {
	var burns int
	var total uint64
	for _, ev := range voterEvents {
		if ev.Kind == model.VoteKindBurn {
			burns++
			total += ev.BurnAmount
		}
	}
	if burns < d.cfg.MinBurnsForExtreme {
		return
	}
	report.MeanBurn = float64(total) / float64(burns)
	if report.MeanBurn >= d.cfg.BurnExtremityRatio*float64(d.maxBurnPerDay) {
		report.Flags = append(report.Flags, FlagBurnExtremity)
	}
}

// checkCoordination counts, per vote, the distinct other voters hitting the
// same content within the coordination window. Returns true when the
// deadline expired mid-scan.
func (d *Detector) checkCoordination(ctx context.Context, report *DetectorReport, voterEvents []*model.VoteEvent) bool {
	if len(voterEvents) == 0 {
		return false
	}
	half := d.cfg.CoordWindow / 2
	coordinated := 0
	for _, ev := range voterEvents {
		if ctx.Err() != nil {
			report.Partial = true
			return true
		}
		cohort, err := d.store.EventsByContentWindow(ctx, ev.Content, ev.Timestamp.Add(-half), ev.Timestamp.Add(half))
		if err != nil {
			report.Partial = true
			return true
		}
		others := map[model.VoterId]struct{}{}
		for _, c := range cohort {
			if c.Voter != report.Voter {
				others[c.Voter] = struct{}{}
			}
		}
		if len(others) > d.cfg.CoordCohort {
			coordinated++
		}
	}
	report.CoordRatio = float64(coordinated) / float64(len(voterEvents))
	if report.CoordRatio >= d.cfg.CoordRatio {
		report.Flags = append(report.Flags, FlagCoordinatedVoting)
	}
	return false
}

// votePattern is a voter's candidate-frequency fingerprint: content ids
// ordered by vote count descending.
func votePattern(voterEvents []*model.VoteEvent) []model.ContentId {
	freq := map[model.ContentId]int{}
	for _, ev := range voterEvents {
		freq[ev.Content]++
	}
	pattern := make([]model.ContentId, 0, len(freq))
	for id := range freq {
		pattern = append(pattern, id)
	}
	sort.Slice(pattern, func(i, j int) bool {
		if freq[pattern[i]] != freq[pattern[j]] {
			return freq[pattern[i]] > freq[pattern[j]]
		}
		return pattern[i] < pattern[j]
	})
	return pattern
}

// patternSimilarity is the length-normalized prefix agreement of two
// equal-length patterns; patterns of different lengths never match.
func patternSimilarity(a, b []model.ContentId) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	matches := 0
	for i := range a {
		if a[i] == b[i] {
			matches++
		}
	}
	return float64(matches) / float64(len(a))
}

func (d *Detector) checkPatternSimilarity(ctx context.Context, report *DetectorReport, voter model.VoterId, day model.DayKey, voterEvents []*model.VoteEvent) bool {
	if len(voterEvents) == 0 {
		return false
	}
	if ctx.Err() != nil {
		report.Partial = true
		return true
	}
	dayEvents, err := d.store.EventsByDay(ctx, day)
	if err != nil {
		report.Partial = true
		return true
	}
	byVoter := map[model.VoterId][]*model.VoteEvent{}
	for _, ev := range dayEvents {
		byVoter[ev.Voter] = append(byVoter[ev.Voter], ev)
	}
	own := votePattern(voterEvents)
	similar := 0
	for other, otherEvents := range byVoter {
		if other == voter {
			continue
		}
		if patternSimilarity(own, votePattern(otherEvents)) >= d.cfg.SybilSimilarity {
			similar++
		}
	}
	report.SimilarVoters = similar
	if similar >= d.cfg.SybilMinMatches {
		report.Flags = append(report.Flags, FlagPatternSimilarity)
	}
	return false
}
