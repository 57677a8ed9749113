package main

import (
	"context"
	"fmt"
	"time"

	"github.com/engels74/comradarr/internal/config"
	"github.com/engels74/comradarr/pkg/batch"
	"github.com/engels74/comradarr/pkg/mirror"
	"github.com/engels74/comradarr/pkg/registry"
	"github.com/engels74/comradarr/pkg/settings"
	"github.com/engels74/comradarr/pkg/store"
	"github.com/engels74/comradarr/pkg/sweep"
	"github.com/engels74/comradarr/pkg/throttle"
)

// targetBuilder closes over the connector client registry, the
// settings bridge, and the static config so the scheduler's
// scheduler.TargetBuilder callback can stay a single method value.
type targetBuilder struct {
	cfg      *config.Config
	bridge   *settings.Bridge
	clients  *clientRegistry
	throttle *throttle.Governor
}

func newTargetBuilder(cfg *config.Config, bridge *settings.Bridge, clients *clientRegistry, gov *throttle.Governor) *targetBuilder {
	return &targetBuilder{cfg: cfg, bridge: bridge, clients: clients, throttle: gov}
}

// build resolves one connector/schedule pair into a sweep.Target. The
// priority weights, the cooldown's MaxAttempts (used for scoring), and
// the season-pack threshold are re-read from the settings bridge on
// every call (the "at use-sites" behavior): an operator's edit through
// the settings surface takes effect on the connector's next scheduled
// fire, not at restart. The cooldown settings registry.Manager applies
// when it resolves an outcome (delays and the exhaustion limit) are
// resolved once at startup in main and do not follow later edits.
func (b *targetBuilder) build(ctx context.Context, c store.Connector, s store.Schedule) (sweep.Target, error) {
	client, err := b.clients.getOrBuild(c)
	if err != nil {
		return sweep.Target{}, fmt.Errorf("resolve client for connector %q: %w", c.Name, err)
	}

	tz := s.Timezone
	if tz == "" {
		tz = b.cfg.Scheduler.Timezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return sweep.Target{}, fmt.Errorf("schedule %d: %w", s.ID, err)
	}

	var lastSyncedAt time.Time
	if s.LastRunAt != nil {
		lastSyncedAt = *s.LastRunAt
	}

	weights := b.bridge.Weights(ctx, fallbackWeights(b.cfg.Search.Weights))
	cooldown := b.bridge.Cooldown(ctx, fallbackCooldown(b.cfg.Search.Cooldown))
	seasonThreshold := b.bridge.SeasonPackThresholdPct(ctx, b.cfg.Search.SeasonPack.ThresholdPct)

	return sweep.Target{
		ConnectorID:     c.ID,
		ConnectorType:   toConnectorType(c.Type),
		Client:          client,
		Mode:            toSweepMode(s.SweepType),
		LastSyncedAt:    lastSyncedAt,
		ThrottleProfile: b.resolveThrottleProfile(s.ThrottleProfileID),
		Timezone:        loc,
		Weights:         weights,
		MaxAttempts:     cooldown.MaxAttempts,
		BatchThresholds: batch.Thresholds{
			ThresholdPct:   seasonThreshold,
			ThresholdCount: b.cfg.Search.SeasonPack.ThresholdCount,
		},
	}, nil
}

// resolveThrottleProfile maps a Schedule's throttleProfileId to one of
// the config file's named profiles. Throttle profiles have no backing
// table of their own (config.Config.ThrottleProfiles is config-file-only), so the
// id is a 1-based index into cfg.ThrottleProfiles in declaration
// order; a nil id, or one out of range after an operator edits the
// config file, falls back to the profile marked is_default.
func (b *targetBuilder) resolveThrottleProfile(id *int64) throttle.Profile {
	if id != nil {
		idx := int(*id) - 1
		if idx >= 0 && idx < len(b.cfg.ThrottleProfiles) {
			return toThrottleProfile(b.cfg.ThrottleProfiles[idx])
		}
	}
	for _, p := range b.cfg.ThrottleProfiles {
		if p.IsDefault {
			return toThrottleProfile(p)
		}
	}
	return throttle.Profile{}
}

func toThrottleProfile(p config.ThrottleProfile) throttle.Profile {
	return throttle.Profile{
		Name:                  p.Name,
		RequestsPerMinute:     p.RequestsPerMinute,
		DailyBudget:           p.DailyBudget,
		BatchSize:             p.BatchSize,
		BatchCooldownSeconds:  p.BatchCooldownSeconds,
		RateLimitPauseSeconds: p.RateLimitPauseSeconds,
		IsDefault:             p.IsDefault,
	}
}

func fallbackWeights(w config.ScoringWeights) registry.Weights {
	return registry.Weights{
		ContentAge:      w.ContentAge,
		MissingDuration: w.MissingDuration,
		UserPriority:    w.UserPriority,
		FailurePenalty:  w.FailurePenalty,
		GapBonus:        w.GapBonus,
	}
}

func fallbackCooldown(c config.CooldownConfig) registry.CooldownConfig {
	return registry.CooldownConfig{
		BaseDelay:   c.Base,
		MaxDelay:    c.Max,
		Multiplier:  c.Multiplier,
		MaxAttempts: c.MaxAttempts,
		Jitter:      c.Jitter,
	}
}

// toSweepMode converts store.SweepType to mirror.Mode: both name the
// same two values, declared separately so pkg/store doesn't import
// pkg/mirror.
func toSweepMode(t store.SweepType) mirror.Mode {
	return mirror.Mode(t)
}
