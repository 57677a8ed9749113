package registry

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/engels74/comradarr/pkg/shared/mathutil"
	"github.com/engels74/comradarr/pkg/store"
)

// Weights are the integer 0..100 priority weights read from the
// settings store.
type Weights struct {
	ContentAge      int
	MissingDuration int
	UserPriority    int
	FailurePenalty  int
	GapBonus        int
}

// ScoreInput carries the normalized [0,1] factors a caller has already
// derived from a registry entry and its content item at selection
// time; Score itself stays a pure function of these inputs.
type ScoreInput struct {
	AgeFactor             float64
	MissingDurationFactor float64
	UserPriorityFactor    float64
	AttemptCount          int
	SearchType            store.SearchType
}

// Score implements the priority formula:
//
//	score = clamp01(age)*W.contentAge + clamp01(missingDuration)*W.missingDuration
//	      + userPriority*W.userPriority - min(attemptCount, maxAttempts)*W.failurePenalty
//	      + (searchType == gap ? W.gapBonus : 0)
//
// rounded into [0, 100]. The three positive factors are combined with
// mathutil.WeightedSum (a normalized weighted average) rather than a
// raw dot product, so a misconfigured weight set that doesn't sum to
// 100 still produces a meaningful score; the penalty and gap bonus
// are then applied directly on the resulting 0..100 scale.
func Score(in ScoreInput, w Weights, maxAttempts int) float64 {
	positive := mathutil.WeightedSum([]mathutil.WeightedFactor{
		{Value: mathutil.Clamp01(in.AgeFactor), Weight: float64(w.ContentAge)},
		{Value: mathutil.Clamp01(in.MissingDurationFactor), Weight: float64(w.MissingDuration)},
		{Value: mathutil.Clamp01(in.UserPriorityFactor), Weight: float64(w.UserPriority)},
	})

	attempts := in.AttemptCount
	if attempts > maxAttempts {
		attempts = maxAttempts
	}

	raw := positive*100 - float64(attempts)*float64(w.FailurePenalty)
	if in.SearchType == store.SearchTypeGap {
		raw += float64(w.GapBonus)
	}

	return mathutil.RoundScore(mathutil.Clamp(raw, 0, 100), 0)
}

// Normalization windows for the two time-based score factors: an age
// or missing-duration at or beyond the window scores the full 1.0.
const (
	ageNormalizationWindow             = 30 * 24 * time.Hour
	missingDurationNormalizationWindow = 14 * 24 * time.Hour
)

// DeriveScoreInput builds a ScoreInput for entry/item at now: age is
// how long the content item has existed in the mirror, missing
// duration is how long entry itself has sat unresolved (time since
// the gap or upgrade was first registered), and user priority stands
// in for the upstream monitored flag, the only per-item "I want this"
// signal the content mirror carries.
func DeriveScoreInput(entry store.RegistryEntry, item store.ContentItem, now time.Time) ScoreInput {
	userPriority := 0.0
	if item.Monitored {
		userPriority = 1.0
	}

	return ScoreInput{
		AgeFactor:             float64(now.Sub(item.CreatedAt)) / float64(ageNormalizationWindow),
		MissingDurationFactor: float64(now.Sub(entry.CreatedAt)) / float64(missingDurationNormalizationWindow),
		UserPriorityFactor:    userPriority,
		AttemptCount:          entry.AttemptCount,
		SearchType:            entry.SearchType,
	}
}

// CooldownConfig configures the cooldown delay formula (documented
// defaults: base=1h, max=24h, multiplier=2, maxAttempts=5).
type CooldownConfig struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	MaxAttempts int
	Jitter      bool
}

// DefaultCooldownConfig returns the documented defaults.
func DefaultCooldownConfig() CooldownConfig {
	return CooldownConfig{
		BaseDelay:   time.Hour,
		MaxDelay:    24 * time.Hour,
		Multiplier:  2,
		MaxAttempts: 5,
		Jitter:      true,
	}
}

// CooldownDelay implements the cooldown delay formula:
// delay = baseDelay * multiplier^(attemptCount-1), optionally scaled
// by a uniform jitter factor in [0.5, 1.5], then clamped to
// [baseDelay, maxDelay].
func CooldownDelay(attemptCount int, cfg CooldownConfig) time.Duration {
	if attemptCount < 1 {
		attemptCount = 1
	}

	exponent := float64(attemptCount - 1)
	delay := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, exponent)

	if cfg.Jitter {
		delay *= 0.5 + rand.Float64()
	}

	base, max := float64(cfg.BaseDelay), float64(cfg.MaxDelay)
	switch {
	case delay < base:
		delay = base
	case delay > max:
		delay = max
	}

	return time.Duration(delay)
}
