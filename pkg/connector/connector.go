// Package connector implements the Upstream Client: a typed HTTP
// client per connector family (Sonarr/Radarr/Whisparr), sharing a
// single capability set and a closed transport-error taxonomy so the
// rest of the core never branches on connector variant.
package connector

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
)

// Type identifies which upstream API family a Connector speaks.
type Type string

const (
	TypeSonarr   Type = "sonarr"
	TypeRadarr   Type = "radarr"
	TypeWhisparr Type = "whisparr"
)

// HealthStatus mirrors a Connector's health state.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthOffline   HealthStatus = "offline"
	HealthUnknown   HealthStatus = "unknown"
)

// DefaultTimeout is the end-to-end deadline for every upstream call
// except ping, which uses PingTimeout.
const DefaultTimeout = 30 * time.Second

// PingTimeout bounds a single health probe.
const PingTimeout = 5 * time.Second

// Config describes one connector instance: its variant, location, and
// credential. validator tags enforce the Connector entity's invariants
// (non-empty name, well-formed baseUrl).
type Config struct {
	Type    Type   `validate:"required,oneof=sonarr radarr whisparr"`
	Name    string `validate:"required"`
	BaseURL string `validate:"required,url"`
	APIKey  string `validate:"required"`
}

var configValidator = validator.New()

// Validate checks c against its struct tags, returning a
// validator.ValidationErrors that lists every field that failed.
func (c Config) Validate() error {
	return configValidator.Struct(c)
}

// SystemStatus is the subset of the upstream systemStatus response the
// core cares about: the appName field used for type detection, plus
// the reported version for diagnostics.
type SystemStatus struct {
	AppName string
	Version string
}

// LibraryItem is the polymorphic content entity ("Content Item"):
// a series/season/episode or a movie, normalized to the fields the
// sync subsystem reconciles against the content mirror.
type LibraryItem struct {
	UpstreamID int64
	Title      string
	Year       int
	Monitored  bool
	HasFile    bool
	QualityCutoffNotMet bool
	UpdatedAt  time.Time

	// SeriesUpstreamID and SeasonNumber are populated for Sonarr and
	// Whisparr episode items only; both are zero for a Radarr movie.
	SeriesUpstreamID int64
	SeasonNumber     int
	// NextAiring is the season's next-airing timestamp, used by the
	// Episode Batcher to decide whether a season is still airing. Zero
	// when the season is fully aired or this item is a movie.
	NextAiring time.Time
}

// CommandResult is returned by PostCommand: the upstream's tracking
// id for the dispatched command, used to open a Pending Command.
type CommandResult struct {
	ID     int64
	Status string
}

// QueueItem is one row of the upstream download queue, used by the
// Pending Command Tracker to resolve acquired/failed outcomes.
type QueueItem struct {
	ID     int64
	Title  string
	Status string
}

// CommandStatusResult is the upstream's current view of a dispatched
// command, polled by the Pending Command Tracker.
type CommandStatusResult struct {
	// Status is one of "queued", "started", "completed", "failed".
	Status string
	// FileAcquired is meaningful only when Status is "completed": it
	// distinguishes a search that found and grabbed a release from one
	// that completed with no results.
	FileAcquired bool
}

// Client is the capability set every connector variant implements:
// ping, systemStatus, fullLibrary, librarySince, postCommand,
// commandStatus, queue.
type Client interface {
	Ping(ctx context.Context) error
	SystemStatus(ctx context.Context) (SystemStatus, error)
	FullLibrary(ctx context.Context) ([]LibraryItem, error)
	LibrarySince(ctx context.Context, since time.Time) ([]LibraryItem, error)
	PostCommand(ctx context.Context, kind string, args map[string]any) (CommandResult, error)
	CommandStatus(ctx context.Context, commandID int64) (CommandStatusResult, error)
	Queue(ctx context.Context) ([]QueueItem, error)
}
