// Package registry implements the Search Registry domain layer: the
// state machine layered over pkg/store's CAS-guarded persistence,
// plus the priority scorer and cooldown delay formula used at
// selection time.
package registry

import (
	"context"
	"time"

	sharederrors "github.com/engels74/comradarr/pkg/shared/errors"
	"github.com/engels74/comradarr/pkg/store"
)

// Outcome describes how a dispatched search concluded, driving the
// searching -> {cooldown, exhausted} transition.
type Outcome string

const (
	OutcomeFileAcquired Outcome = "file_acquired"
	OutcomeNoResults    Outcome = "no_results"
	OutcomeError        Outcome = "error"
	OutcomeTimeout      Outcome = "timeout"
)

// Manager wraps a store.RegistryRepository with the state-machine
// operations the search registry names. Every transition goes through the
// repository's CAS-guarded update; a store.ErrConflict return means
// another writer already moved the row and the caller should treat
// this as "yield," not fail the sweep.
type Manager struct {
	Store  store.RegistryRepository
	Cooldown CooldownConfig
}

// NewManager builds a Manager using cfg for cooldown delay
// calculation.
func NewManager(repo store.RegistryRepository, cfg CooldownConfig) *Manager {
	return &Manager{Store: repo, Cooldown: cfg}
}

// ListEligible returns connectorID's pending and cooldown-elapsed rows,
// the dispatch phase's selection pool.
func (m *Manager) ListEligible(ctx context.Context, connectorID int64) ([]store.RegistryEntry, error) {
	return m.Store.ListEligible(ctx, connectorID, time.Now())
}

// Discover registers a pending row for each content item the mirror
// reconciliation identified as a gap or upgrade candidate, computing
// an initial priority against w. Create's ON CONFLICT DO NOTHING
// makes this idempotent: an item already holding an open row for
// searchType is left untouched, so a connector's repeated sweeps
// never duplicate the row the first discovery created.
func (m *Manager) Discover(ctx context.Context, connectorID int64, items []store.ContentItem, searchType store.SearchType, w Weights, maxAttempts int) error {
	now := time.Now()
	for _, item := range items {
		entry := store.RegistryEntry{
			ConnectorID:   connectorID,
			ContentItemID: item.ID,
			SearchType:    searchType,
			State:         store.RegistryPending,
		}
		entry.Priority = int(Score(DeriveScoreInput(entry, item, now), w, maxAttempts))
		if _, err := m.Store.Create(ctx, &entry); err != nil {
			return err
		}
	}
	return nil
}

// Dispatch transitions a picked row pending -> queued -> searching, as
// the sweep runner posts the command and creates the pending-command
// row between the two transitions. Callers that throttle-defer before
// dispatch should leave the row untouched (still pending).
func (m *Manager) Dispatch(ctx context.Context, id int64) error {
	if err := m.Store.Transition(ctx, id, store.RegistryPending, store.RegistryQueued); err != nil {
		return err
	}
	return m.Store.Transition(ctx, id, store.RegistryQueued, store.RegistrySearching)
}

// Transition reports which terminal state Resolve actually applied,
// so a caller driving outbound notifications can tell a cleared row
// from one that merely cooled down.
type Transition string

const (
	TransitionCleared   Transition = "cleared"
	TransitionCooldown  Transition = "cooldown"
	TransitionExhausted Transition = "exhausted"
)

// Resolve applies outcome to a row in the searching state, per the
// registry's transition table, and reports which transition fired.
// attemptCount is the row's attempt count *before* this outcome
// (TransitionToCooldown increments it), used to decide whether the
// no_results path has hit maxAttempts.
func (m *Manager) Resolve(ctx context.Context, entry store.RegistryEntry, outcome Outcome, errMessage string) (Transition, error) {
	switch outcome {
	case OutcomeFileAcquired:
		if err := m.Store.Clear(ctx, entry.ID); err != nil {
			return "", err
		}
		return TransitionCleared, nil

	case OutcomeNoResults:
		if entry.AttemptCount >= m.Cooldown.MaxAttempts {
			if err := m.Store.TransitionToExhausted(ctx, entry.ID, store.RegistrySearching, errMessage); err != nil {
				return "", err
			}
			return TransitionExhausted, nil
		}
		if err := m.cooldown(ctx, entry, errMessage); err != nil {
			return "", err
		}
		return TransitionCooldown, nil

	case OutcomeError, OutcomeTimeout:
		if err := m.cooldown(ctx, entry, errMessage); err != nil {
			return "", err
		}
		return TransitionCooldown, nil

	default:
		return "", sharederrors.ValidationError("outcome", "unknown registry outcome")
	}
}

func (m *Manager) cooldown(ctx context.Context, entry store.RegistryEntry, errMessage string) error {
	delay := CooldownDelay(entry.AttemptCount+1, m.Cooldown)
	nextEligibleAt := time.Now().Add(delay)
	return m.Store.TransitionToCooldown(ctx, entry.ID, store.RegistrySearching, nextEligibleAt, errMessage)
}

// Defer stamps entry with a future nextEligibleAt after the Throttle
// Governor returns defer(retryAfter): the row stays pending and is
// skipped by ListEligible until retryAfter elapses.
func (m *Manager) Defer(ctx context.Context, id int64, retryAfter time.Duration) error {
	return m.Store.Defer(ctx, id, time.Now().Add(retryAfter))
}

// Clear is the "user clear" operation: it hard-deletes id's row
// whatever its current state. No pending row with attemptCount and
// nextEligibleAt reset is left in its place; a later Discover for the
// same content item registers a new pending row.
func (m *Manager) Clear(ctx context.Context, id int64) error {
	return m.Store.Clear(ctx, id)
}

// MarkExhausted force-transitions entry's row to exhausted. It refuses
// an entry whose State is searching; the check reads entry.State as
// passed in, and the store's MarkExhausted write carries no state
// guard of its own.
func (m *Manager) MarkExhausted(ctx context.Context, entry store.RegistryEntry, reason string) error {
	if entry.State == store.RegistrySearching {
		return sharederrors.ValidationError("state", "cannot mark exhausted while searching")
	}
	return m.Store.MarkExhausted(ctx, entry.ID, reason)
}
