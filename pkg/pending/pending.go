// Package pending implements the Pending Command Tracker: on a fixed
// tick it polls every open pending command against its connector,
// advances commandStatus, and closes the matching registry row once
// the upstream reports an outcome.
package pending

import (
	"context"
	"time"

	"github.com/engels74/comradarr/pkg/connector"
	"github.com/engels74/comradarr/pkg/registry"
	"github.com/engels74/comradarr/pkg/shared/logging"
	"github.com/engels74/comradarr/pkg/store"
)

// DefaultTimeout is how long a pending command may stay open before
// the timeout sweep force-closes it.
const DefaultTimeout = 24 * time.Hour

// DefaultRetention is how long a completed/failed row is kept before
// the purge sweep deletes it.
const DefaultRetention = 7 * 24 * time.Hour

// ClientResolver returns the Upstream Client for connectorID, or false
// if the connector is unknown (e.g. deleted since the command was
// dispatched).
type ClientResolver func(connectorID int64) (connector.Client, bool)

// Notifier receives the outbound notification callback for
// search_success/search_exhausted events.
type Notifier interface {
	Notify(ctx context.Context, eventType string, payload map[string]any)
}

// Tracker reconciles pkg/store's pending_commands table against
// connector.Client.CommandStatus, and the registry rows they
// correspond to.
type Tracker struct {
	Pending   store.PendingRepository
	Registry  *registry.Manager
	Clients   ClientResolver
	Notifier  Notifier
	Timeout   time.Duration
	Retention time.Duration
}

// NewTracker builds a Tracker with the default timeout/retention
// windows.
func NewTracker(pending store.PendingRepository, registryManager *registry.Manager, clients ClientResolver) *Tracker {
	return &Tracker{
		Pending:   pending,
		Registry:  registryManager,
		Clients:   clients,
		Timeout:   DefaultTimeout,
		Retention: DefaultRetention,
	}
}

// Result summarizes one Tick call.
type Result struct {
	Checked   int
	Completed int
	Failed    int
	Skipped   int
}

// LogFields returns structured fields describing r, for the
// scheduler's per-tick log entry.
func (r Result) LogFields() logging.Fields {
	return logging.NewFields().
		Component("pending").
		Operation("tick").
		Custom("checked", r.Checked).
		Custom("completed", r.Completed).
		Custom("failed", r.Failed).
		Custom("skipped", r.Skipped)
}

// Tick polls every open pending command and advances its state. A
// connector whose client cannot be resolved is skipped for this tick
// rather than failing it: the command stays open and is retried on
// the next tick.
func (t *Tracker) Tick(ctx context.Context) (Result, error) {
	open, err := t.Pending.ListOpen(ctx)
	if err != nil {
		return Result{}, err
	}

	var result Result
	for _, cmd := range open {
		result.Checked++

		client, ok := t.Clients(cmd.ConnectorID)
		if !ok {
			result.Skipped++
			continue
		}

		status, err := client.CommandStatus(ctx, cmd.UpstreamCommandID)
		if err != nil {
			result.Skipped++
			continue
		}

		switch status.Status {
		case "completed":
			if err := t.resolve(ctx, cmd, status.FileAcquired); err != nil {
				return result, err
			}
			result.Completed++
		case "failed":
			if err := t.fail(ctx, cmd, "upstream command failed"); err != nil {
				return result, err
			}
			result.Failed++
		default:
			// queued/started: still in progress, nothing to advance.
		}
	}

	return result, nil
}

func (t *Tracker) resolve(ctx context.Context, cmd store.PendingCommand, fileAcquired bool) error {
	if err := t.Pending.Complete(ctx, cmd.ID, fileAcquired); err != nil {
		return err
	}
	outcome := registry.OutcomeNoResults
	if fileAcquired {
		outcome = registry.OutcomeFileAcquired
	}
	return t.resolveRegistry(ctx, cmd, outcome, "")
}

func (t *Tracker) fail(ctx context.Context, cmd store.PendingCommand, reason string) error {
	if err := t.Pending.Fail(ctx, cmd.ID); err != nil {
		return err
	}
	return t.resolveRegistry(ctx, cmd, registry.OutcomeError, reason)
}

func (t *Tracker) resolveRegistry(ctx context.Context, cmd store.PendingCommand, outcome registry.Outcome, message string) error {
	entry, err := t.Registry.Store.Get(ctx, cmd.RegistryID)
	if err != nil {
		if err == store.ErrNotFound {
			// Already cleared by a concurrent resolution; nothing to do.
			return nil
		}
		return err
	}
	transition, err := t.Registry.Resolve(ctx, *entry, outcome, message)
	if err == store.ErrConflict {
		return nil
	}
	if err != nil {
		return err
	}
	t.notifyTransition(ctx, cmd, transition)
	return nil
}

func (t *Tracker) notifyTransition(ctx context.Context, cmd store.PendingCommand, transition registry.Transition) {
	if t.Notifier == nil {
		return
	}
	switch transition {
	case registry.TransitionCleared:
		t.Notifier.Notify(ctx, "search_success", map[string]any{
			"connector_id":    cmd.ConnectorID,
			"registry_id":     cmd.RegistryID,
			"content_item_id": cmd.ContentItemID,
		})
	case registry.TransitionExhausted:
		t.Notifier.Notify(ctx, "search_exhausted", map[string]any{
			"connector_id":    cmd.ConnectorID,
			"registry_id":     cmd.RegistryID,
			"content_item_id": cmd.ContentItemID,
		})
	}
}

// TimeoutSweep force-closes every open command dispatched before
// now-t.Timeout as failed, returning its registry row to cooldown as a
// timeout attempt.
func (t *Tracker) TimeoutSweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-t.Timeout)
	stale, err := t.Pending.ListOpenOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	for _, cmd := range stale {
		if err := t.Pending.Fail(ctx, cmd.ID); err != nil {
			return 0, err
		}
		entry, err := t.Registry.Store.Get(ctx, cmd.RegistryID)
		if err != nil {
			if err == store.ErrNotFound {
				continue
			}
			return 0, err
		}
		// OutcomeTimeout always resolves to cooldown (never cleared or
		// exhausted), so there is no transition worth notifying on here.
		if _, err := t.Registry.Resolve(ctx, *entry, registry.OutcomeTimeout, "pending command timed out"); err != nil && err != store.ErrConflict {
			return 0, err
		}
	}

	return len(stale), nil
}

// PurgeCompleted deletes completed/failed rows older than
// t.Retention, returning the number of rows removed.
func (t *Tracker) PurgeCompleted(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-t.Retention)
	return t.Pending.PurgeCompletedOlderThan(ctx, cutoff)
}
