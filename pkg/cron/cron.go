// Package cron evaluates 5-field cron expressions in a named IANA
// time zone: next fire time, and the set of occurrences missed while
// the process was down (catch-up). It is the sole authority for DST
// handling; every other package treats fire times as opaque instants.
package cron

import (
	"sort"
	"time"

	"github.com/hashicorp/cronexpr"

	sharederrors "github.com/engels74/comradarr/pkg/shared/errors"
)

// Engine parses and evaluates cron expressions. It holds no state and
// is safe for concurrent use.
type Engine struct{}

// NewEngine returns a ready-to-use Engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Parse validates expr, returning an error wrapping the underlying
// parse failure when expr is not a valid 5-field cron expression.
func (e *Engine) Parse(expr string) error {
	_, err := cronexpr.Parse(expr)
	if err != nil {
		return sharederrors.FailedToWithDetails("parse cron expression", "cron", expr, err)
	}
	return nil
}

// Next returns the first fire time strictly after after, for expr
// evaluated in the named time zone tz. The returned time is in tz's
// location.
func (e *Engine) Next(expr string, tz string, after time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, sharederrors.FailedToWithDetails("load time zone", "cron", tz, err)
	}

	schedule, err := cronexpr.Parse(expr)
	if err != nil {
		return time.Time{}, sharederrors.FailedToWithDetails("parse cron expression", "cron", expr, err)
	}

	return schedule.Next(after.In(loc)), nil
}

// MissedSince returns the sorted, deduplicated set of fire times for
// expr strictly after since and less than or equal to now, evaluated
// in tz. An empty result means no occurrence was missed.
func (e *Engine) MissedSince(expr string, tz string, since, now time.Time) ([]time.Time, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, sharederrors.FailedToWithDetails("load time zone", "cron", tz, err)
	}

	schedule, err := cronexpr.Parse(expr)
	if err != nil {
		return nil, sharederrors.FailedToWithDetails("parse cron expression", "cron", expr, err)
	}

	since = since.In(loc)
	now = now.In(loc)

	seen := make(map[int64]struct{})
	var occurrences []time.Time

	cursor := since
	for {
		next := schedule.Next(cursor)
		if next.IsZero() || next.After(now) {
			break
		}
		if _, dup := seen[next.Unix()]; !dup {
			seen[next.Unix()] = struct{}{}
			occurrences = append(occurrences, next)
		}
		cursor = next
	}

	sort.Slice(occurrences, func(i, j int) bool {
		return occurrences[i].Before(occurrences[j])
	})

	return occurrences, nil
}

// CatchUp returns the single most recent occurrence of expr strictly
// after since and at or before now, or a zero time if none was
// missed. The Scheduler Orchestrator runs at most this one catch-up
// invocation per schedule, never every missed fire.
func (e *Engine) CatchUp(expr string, tz string, since, now time.Time) (time.Time, error) {
	missed, err := e.MissedSince(expr, tz, since, now)
	if err != nil {
		return time.Time{}, err
	}
	if len(missed) == 0 {
		return time.Time{}, nil
	}
	return missed[len(missed)-1], nil
}
