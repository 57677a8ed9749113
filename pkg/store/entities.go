// Package store holds the repository interfaces and Postgres
// implementations backing the core's durable entities: connectors,
// content mirror items, search registry rows, pending commands,
// schedules, and completion snapshots. Domain packages (pkg/mirror,
// pkg/registry, pkg/pending, pkg/scheduler) layer business logic on
// top of these repositories; this package owns only persistence.
package store

import "time"

// ConnectorType mirrors connector.Type without importing pkg/connector,
// keeping this package free of a dependency on the upstream-client
// package it is merely persisting identifiers for.
type ConnectorType string

const (
	ConnectorTypeSonarr   ConnectorType = "sonarr"
	ConnectorTypeRadarr   ConnectorType = "radarr"
	ConnectorTypeWhisparr ConnectorType = "whisparr"
)

// HealthStatus is a Connector's healthStatus enum.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthOffline   HealthStatus = "offline"
	HealthUnknown   HealthStatus = "unknown"
)

// Connector is the Connector entity.
type Connector struct {
	ID                int64         `db:"id"`
	Type              ConnectorType `db:"type"`
	Name              string        `db:"name"`
	BaseURL           string        `db:"base_url"`
	APIKeyCipher      string        `db:"api_key_cipher"`
	Enabled           bool          `db:"enabled"`
	HealthStatus      HealthStatus  `db:"health_status"`
	LastHealthCheckAt *time.Time    `db:"last_health_check_at"`
	ThrottleProfileID *int64        `db:"throttle_profile_id"`
	CreatedAt         time.Time     `db:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at"`
}

// ContentType distinguishes the two polymorphic shapes the Content
// Item entity takes.
type ContentType string

const (
	ContentTypeEpisode ContentType = "episode"
	ContentTypeMovie   ContentType = "movie"
)

// ContentItem is the Content Item entity.
type ContentItem struct {
	ID                  int64       `db:"id"`
	ConnectorID         int64       `db:"connector_id"`
	Type                ContentType `db:"type"`
	UpstreamID          int64       `db:"upstream_id"`
	SeriesUpstreamID    *int64      `db:"series_upstream_id"`
	SeasonNumber        *int        `db:"season_number"`
	SeasonNextAiring    *time.Time  `db:"season_next_airing"`
	Title               string      `db:"title"`
	Year                *int        `db:"year"`
	Monitored           bool        `db:"monitored"`
	HasFile             bool        `db:"has_file"`
	QualityCutoffNotMet bool        `db:"quality_cutoff_not_met"`
	CreatedAt           time.Time   `db:"created_at"`
	UpdatedAt           time.Time   `db:"updated_at"`
}

// SearchType is the Search Registry Entry's searchType enum.
type SearchType string

const (
	SearchTypeGap     SearchType = "gap"
	SearchTypeUpgrade SearchType = "upgrade"
)

// RegistryState is the state machine for a registry row.
type RegistryState string

const (
	RegistryPending   RegistryState = "pending"
	RegistryQueued    RegistryState = "queued"
	RegistrySearching RegistryState = "searching"
	RegistryCooldown  RegistryState = "cooldown"
	RegistryExhausted RegistryState = "exhausted"
)

// RegistryEntry is the Search Registry Entry entity.
type RegistryEntry struct {
	ID             int64         `db:"id"`
	ConnectorID    int64         `db:"connector_id"`
	ContentItemID  int64         `db:"content_item_id"`
	SearchType     SearchType    `db:"search_type"`
	State          RegistryState `db:"state"`
	Priority       int           `db:"priority"`
	AttemptCount   int           `db:"attempt_count"`
	NextEligibleAt *time.Time    `db:"next_eligible_at"`
	LastError      *string       `db:"last_error"`
	CreatedAt      time.Time     `db:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at"`
}

// CommandStatus is the Pending Command's commandStatus enum.
type CommandStatus string

const (
	CommandQueued    CommandStatus = "queued"
	CommandStarted   CommandStatus = "started"
	CommandCompleted CommandStatus = "completed"
	CommandFailed    CommandStatus = "failed"
)

// PendingCommand is the Pending Command entity.
type PendingCommand struct {
	ID                int64         `db:"id"`
	ConnectorID       int64         `db:"connector_id"`
	RegistryID        int64         `db:"registry_id"`
	UpstreamCommandID int64         `db:"upstream_command_id"`
	ContentItemID     int64         `db:"content_item_id"`
	SearchType        SearchType    `db:"search_type"`
	CommandStatus     CommandStatus `db:"command_status"`
	FileAcquired      *bool         `db:"file_acquired"`
	DispatchedAt      time.Time     `db:"dispatched_at"`
	CompletedAt       *time.Time    `db:"completed_at"`
}

// SweepType is the Schedule's sweepType enum.
type SweepType string

const (
	SweepIncremental      SweepType = "incremental"
	SweepFullReconciliation SweepType = "full_reconciliation"
)

// Schedule is the Schedule entity.
type Schedule struct {
	ID                int64      `db:"id"`
	Name              string     `db:"name"`
	SweepType         SweepType  `db:"sweep_type"`
	CronExpression    string     `db:"cron_expression"`
	Timezone          string     `db:"timezone"`
	ConnectorID       *int64     `db:"connector_id"`
	ThrottleProfileID *int64     `db:"throttle_profile_id"`
	Enabled           bool       `db:"enabled"`
	LastRunAt         *time.Time `db:"last_run_at"`
	NextRunAt         *time.Time `db:"next_run_at"`
}

// CompletionSnapshot is the append-only trend entity.
type CompletionSnapshot struct {
	ID              int64     `db:"id"`
	ConnectorID     int64     `db:"connector_id"`
	CapturedAt      time.Time `db:"captured_at"`
	MonitoredCount  int       `db:"monitored_count"`
	DownloadedCount int       `db:"downloaded_count"`
	PercentBps      int       `db:"percent_bps"`
}
