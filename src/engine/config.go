package engine

import (
	"time"
)

type RankWeights struct {
	Base      float64 `yaml:"base"`
	Burn      float64 `yaml:"burn"`
	Diversity float64 `yaml:"diversity"`
	Recency   float64 `yaml:"recency"`
}

type DetectorConfig struct {
	RapidInterval      time.Duration `yaml:"rapid_interval"`
	MinEventsForRapid  int           `yaml:"min_events_for_rapid"`
	BurnExtremityRatio float64       `yaml:"burn_extremity_ratio"`
	MinBurnsForExtreme int           `yaml:"min_burns_for_extremity"`
	CoordWindow        time.Duration `yaml:"coord_window"`
	CoordCohort        int           `yaml:"coord_cohort_threshold"`
	CoordRatio         float64       `yaml:"coord_ratio"`
	SybilSimilarity    float64       `yaml:"sybil_similarity"`
	SybilMinMatches    int           `yaml:"sybil_min_matches"`
	MaxEventsPerVoter  int           `yaml:"max_events_per_voter"`
}

type Config struct {
	BaseVotesPerDay    uint64         `yaml:"base_votes_per_day"`
	MaxBurnVotesPerDay uint64         `yaml:"max_burn_votes_per_day"`
	BurnUnitPerWeight  uint64         `yaml:"burn_unit_per_vote_weight"`
	Weights            RankWeights    `yaml:"rank_weights"`
	RecencyHalfLife    time.Duration  `yaml:"rank_recency_half_life"`
	Detector           DetectorConfig `yaml:"detector"`
}

func DefaultConfig() Config {
	return Config{
		BaseVotesPerDay:    1,
		MaxBurnVotesPerDay: 5,
		BurnUnitPerWeight:  1,
		Weights: RankWeights{
			Base:      1,
			Burn:      2,
			Diversity: 8,
			Recency:   4,
		},
		RecencyHalfLife: 24 * time.Hour,
		Detector: DetectorConfig{
			RapidInterval:      30 * time.Second,
			MinEventsForRapid:  3,
			BurnExtremityRatio: 0.8,
			MinBurnsForExtreme: 3,
			CoordWindow:        5 * time.Minute,
			CoordCohort:        5,
			CoordRatio:         0.5,
			SybilSimilarity:    0.8,
			SybilMinMatches:    3,
			MaxEventsPerVoter:  1000,
		},
	}
}
