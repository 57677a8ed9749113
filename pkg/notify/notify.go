// Package notify implements the outbound notification callback
// contract: a channel-agnostic notify(eventType, payload) invoked
// around sweep, search, connector health, and sync lifecycle events.
// Delivery, batching, and quiet-hours belong to whatever Listener the
// caller registers; Dispatcher only fans the call out.
package notify

import (
	"context"
	"sync"

	"github.com/engels74/comradarr/pkg/shared/logging"
)

// EventType enumerates the nine events the core invokes notify() for.
type EventType string

const (
	EventSweepStarted           EventType = "sweep_started"
	EventSweepCompleted         EventType = "sweep_completed"
	EventSearchSuccess          EventType = "search_success"
	EventSearchExhausted        EventType = "search_exhausted"
	EventConnectorHealthChanged EventType = "connector_health_changed"
	EventSyncCompleted          EventType = "sync_completed"
	EventSyncFailed             EventType = "sync_failed"
	EventAppStarted             EventType = "app_started"
	EventUpdateAvailable        EventType = "update_available"
)

// Listener receives one fired event. A listener that wants to batch,
// apply quiet-hours, or fan out to Slack/email/webhooks does so on its
// own time; Dispatcher does not retry or queue on a listener's behalf.
type Listener func(ctx context.Context, eventType EventType, payload map[string]any)

// Dispatcher is the process-wide notify() entry point. Every
// collaborator that raises an event (pkg/scheduler, pkg/pending,
// pkg/reconnect, pkg/mirror) is handed a Dispatcher through its own
// Notifier interface, so none of them import this package directly.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners []Listener
	Log       func(logging.Fields)
}

// NewDispatcher builds an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Register adds l to the set of listeners invoked on every event.
// Registration is expected at wiring time, before the dispatcher
// starts receiving events; Register and Notify are still safe to call
// concurrently.
func (d *Dispatcher) Register(l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

// Notify fans eventType/payload out to every registered listener. A
// listener that panics is recovered and logged rather than taking
// down the caller (the scheduler's cron goroutines, the pending
// tracker's tick, the reconnect supervisor's probe loop), since a
// broken notification channel must never stop the control plane
// itself.
func (d *Dispatcher) Notify(ctx context.Context, eventType string, payload map[string]any) {
	d.mu.RLock()
	listeners := make([]Listener, len(d.listeners))
	copy(listeners, d.listeners)
	d.mu.RUnlock()

	et := EventType(eventType)
	for _, l := range listeners {
		d.invoke(ctx, l, et, payload)
	}
}

func (d *Dispatcher) invoke(ctx context.Context, l Listener, eventType EventType, payload map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			d.log(logging.NewFields().
				Component("notify").
				Operation("listener_panic").
				Custom("event_type", string(eventType)).
				Custom("recovered", r))
		}
	}()
	l(ctx, eventType, payload)
}

func (d *Dispatcher) log(f logging.Fields) {
	if d.Log != nil {
		d.Log(f)
	}
}

// LogListener returns a Listener that records every event as a
// structured log entry through log, the default collaborator when no
// outbound channel (webhook, Slack, email) is configured.
func LogListener(log func(logging.Fields)) Listener {
	return func(ctx context.Context, eventType EventType, payload map[string]any) {
		fields := logging.NewFields().
			Component("notify").
			Operation(string(eventType))
		for k, v := range payload {
			fields.Custom(k, v)
		}
		log(fields)
	}
}
