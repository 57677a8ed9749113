// Package batch implements the Episode Batcher: a pure, deterministic
// function that decides whether a season's eligible episodes should
// be searched individually or folded into a single season search.
package batch

import "time"

// Decision is the batcher's dispatch instruction.
type Decision string

const (
	// DecisionEpisodeSearch dispatches one EpisodeSearch command per
	// eligible episode in the season.
	DecisionEpisodeSearch Decision = "episode_search"
	// DecisionSeasonSearch folds every eligible episode in the
	// season into a single SeasonSearch command.
	DecisionSeasonSearch Decision = "season_search"
)

// SeasonStatistics describes one series' season at selection time.
type SeasonStatistics struct {
	// NextAiring is the upstream's next-airing timestamp for the
	// season. Non-nil means the season is still airing, which forces
	// per-episode search regardless of threshold configuration.
	NextAiring *time.Time
	// EligibleEpisodeCount is the number of episodes in the season
	// eligible for search this sweep.
	EligibleEpisodeCount int
	// TotalEpisodeCount is the season's total known episode count.
	TotalEpisodeCount int
	// MissingCount is the number of episodes in the season without a
	// file.
	MissingCount int
}

// MissingPercent returns the fraction (0..100) of the season's
// episodes missing a file.
func (s SeasonStatistics) MissingPercent() float64 {
	if s.TotalEpisodeCount == 0 {
		return 0
	}
	return float64(s.MissingCount) / float64(s.TotalEpisodeCount) * 100
}

// FullyAired reports whether the season is not currently airing.
func (s SeasonStatistics) FullyAired() bool {
	return s.NextAiring == nil
}

// Thresholds configures when a fully-aired season folds into a
// season search, per internal/config.SeasonPackConfig.
type Thresholds struct {
	ThresholdPct   int
	ThresholdCount int
}

// Decide applies the batcher rule:
//   - currently airing -> one EpisodeSearch per eligible episode
//   - fully aired AND missingPercent >= thresholdPct AND missingCount
//     >= thresholdCount -> a single SeasonSearch
//   - otherwise -> individual EpisodeSearch
func Decide(stats SeasonStatistics, cfg Thresholds) Decision {
	if !stats.FullyAired() {
		return DecisionEpisodeSearch
	}
	if stats.MissingPercent() >= float64(cfg.ThresholdPct) && stats.MissingCount >= cfg.ThresholdCount {
		return DecisionSeasonSearch
	}
	return DecisionEpisodeSearch
}
