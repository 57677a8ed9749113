package settings

import (
	"context"
	"strconv"
	"time"

	"github.com/engels74/comradarr/pkg/registry"
)

// Weights resolves the priority scorer's weight set from the
// search_weight_* keys, falling back to fallback's fields for any key
// that has never been Set or fails to parse as an integer. This is
// the use-site pkg/registry.Score's callers read at selection time,
// rather than a value wired once at process start, so an operator's
// weight change through the settings surface takes effect on the
// next sweep without a restart.
func (b *Bridge) Weights(ctx context.Context, fallback registry.Weights) registry.Weights {
	return registry.Weights{
		ContentAge:      b.intOr(ctx, KeySearchWeightContentAge, fallback.ContentAge),
		MissingDuration: b.intOr(ctx, KeySearchWeightMissingDur, fallback.MissingDuration),
		UserPriority:    b.intOr(ctx, KeySearchWeightUserPriority, fallback.UserPriority),
		FailurePenalty:  b.intOr(ctx, KeySearchWeightFailurePenalty, fallback.FailurePenalty),
		GapBonus:        b.intOr(ctx, KeySearchWeightGapBonus, fallback.GapBonus),
	}
}

// Cooldown resolves the registry's base/max retry delay from the
// search_cooldown_* keys, leaving fallback's multiplier/maxAttempts/
// jitter untouched: those aren't exposed as settings keys, so they
// stay config-file-only.
func (b *Bridge) Cooldown(ctx context.Context, fallback registry.CooldownConfig) registry.CooldownConfig {
	cfg := fallback
	if d, ok := b.durationOr(ctx, KeySearchCooldownBase); ok {
		cfg.BaseDelay = d
	}
	if d, ok := b.durationOr(ctx, KeySearchCooldownMax); ok {
		cfg.MaxDelay = d
	}
	return cfg
}

// SeasonPackThresholdPct resolves the episode batcher's "mostly aired"
// percentage threshold, falling back when unset or unparsable.
func (b *Bridge) SeasonPackThresholdPct(ctx context.Context, fallback int) int {
	return b.intOr(ctx, KeySearchSeasonPackThreshold, fallback)
}

func (b *Bridge) intOr(ctx context.Context, key string, fallback int) int {
	v, ok, err := b.Get(ctx, key)
	if err != nil || !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func (b *Bridge) durationOr(ctx context.Context, key string) (time.Duration, bool) {
	v, ok, err := b.Get(ctx, key)
	if err != nil || !ok {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}
