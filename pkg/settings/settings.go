// Package settings bridges the core to the mutable configuration
// surface: app_name, timezone, log_level, auth_mode,
// and the search_* behavior keys. Reads are cached for at most 30
// seconds per key so call sites tolerate mild staleness without
// hitting the backing store on every call; an optional fsnotify watch
// on a local override file invalidates the cache early when an
// operator edits it directly.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/redis/go-redis/v9"

	sharederrors "github.com/engels74/comradarr/pkg/shared/errors"
)

// CacheTTL bounds how long a read value is served from cache before
// the next Get re-fetches from the backing Store.
const CacheTTL = 30 * time.Second

// Known settings keys, the enumerated settings surface.
const (
	KeyAppName  = "app_name"
	KeyTimezone = "timezone"
	KeyLogLevel = "log_level"
	KeyAuthMode = "auth_mode"

	KeySearchWeightContentAge     = "search_weight_content_age"
	KeySearchWeightMissingDur     = "search_weight_missing_duration"
	KeySearchWeightUserPriority   = "search_weight_user_priority"
	KeySearchWeightFailurePenalty = "search_weight_failure_penalty"
	KeySearchWeightGapBonus       = "search_weight_gap_bonus"
	KeySearchCooldownBase         = "search_cooldown_base"
	KeySearchCooldownMax          = "search_cooldown_max"
	KeySearchSeasonPackThreshold  = "search_season_pack_threshold_pct"
)

// AuthMode is the value set accepted by KeyAuthMode.
type AuthMode string

const (
	AuthModeFull        AuthMode = "full"
	AuthModeLocalBypass AuthMode = "local_bypass"
)

// Backend is the minimal key-value contract Bridge needs from its
// storage layer. An in-process map satisfies it for single-instance
// deployments; RedisBackend satisfies it when Redis is configured.
type Backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

type cacheEntry struct {
	value    string
	cachedAt time.Time
}

// Bridge is the settings key-value facade the core reads at use-sites.
// It is safe for concurrent use.
type Bridge struct {
	backend Backend

	mu    sync.RWMutex
	cache map[string]cacheEntry

	watcher *fsnotify.Watcher
}

// NewBridge wraps backend in a caching facade.
func NewBridge(backend Backend) *Bridge {
	return &Bridge{
		backend: backend,
		cache:   make(map[string]cacheEntry),
	}
}

// Get returns the value for key, serving from cache when the cached
// entry is younger than CacheTTL. ok is false when the key has never
// been set.
func (b *Bridge) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	b.mu.RLock()
	entry, cached := b.cache[key]
	b.mu.RUnlock()

	if cached && time.Since(entry.cachedAt) < CacheTTL {
		return entry.value, true, nil
	}

	value, ok, err = b.backend.Get(ctx, key)
	if err != nil {
		return "", false, sharederrors.FailedToWithDetails("read setting", "settings", key, err)
	}
	if ok {
		b.mu.Lock()
		b.cache[key] = cacheEntry{value: value, cachedAt: time.Now()}
		b.mu.Unlock()
	}
	return value, ok, nil
}

// Set writes key/value to the backend and refreshes the cache
// immediately so a subsequent Get in the same process observes it.
func (b *Bridge) Set(ctx context.Context, key, value string) error {
	if err := b.backend.Set(ctx, key, value); err != nil {
		return sharederrors.FailedToWithDetails("write setting", "settings", key, err)
	}
	b.mu.Lock()
	b.cache[key] = cacheEntry{value: value, cachedAt: time.Now()}
	b.mu.Unlock()
	return nil
}

// Invalidate drops key's cached entry, forcing the next Get to
// re-fetch from the backend.
func (b *Bridge) Invalidate(key string) {
	b.mu.Lock()
	delete(b.cache, key)
	b.mu.Unlock()
}

// InvalidateAll drops every cached entry.
func (b *Bridge) InvalidateAll() {
	b.mu.Lock()
	b.cache = make(map[string]cacheEntry)
	b.mu.Unlock()
}

// WatchOverrideFile invalidates the cache whenever path is written,
// so an operator editing a local settings-override file sees the
// change sooner than CacheTTL. Call StopWatch to release the fsnotify
// watcher.
func (b *Bridge) WatchOverrideFile(path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return sharederrors.FailedToWithDetails("create settings file watcher", "settings", path, err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return sharederrors.FailedToWithDetails("watch settings override file", "settings", path, err)
	}

	b.watcher = watcher
	go func() {
		for {
			select {
			case event, open := <-watcher.Events:
				if !open {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					b.InvalidateAll()
				}
			case _, open := <-watcher.Errors:
				if !open {
					return
				}
			}
		}
	}()
	return nil
}

// StopWatch releases the fsnotify watcher started by WatchOverrideFile,
// if any.
func (b *Bridge) StopWatch() error {
	if b.watcher == nil {
		return nil
	}
	return b.watcher.Close()
}

// MemoryBackend is an in-process Backend for single-instance or
// development deployments that run without Redis.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string]string)}
}

func (m *MemoryBackend) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryBackend) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// RedisBackend persists settings in Redis under a single hash key,
// for multi-instance deployments that must share a settings surface.
type RedisBackend struct {
	client   *redis.Client
	hashName string
}

// NewRedisBackend wraps client, storing all settings under a single
// Redis hash named hashName (e.g. "comradarr:settings").
func NewRedisBackend(client *redis.Client, hashName string) *RedisBackend {
	return &RedisBackend{client: client, hashName: hashName}
}

func (r *RedisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.HGet(ctx, r.hashName, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key, value string) error {
	return r.client.HSet(ctx, r.hashName, key, value).Err()
}

// LoadOverrideFile parses a JSON object of key/value string pairs from
// path and writes each into backend, for bootstrapping a fresh
// deployment's settings from a local file.
func LoadOverrideFile(ctx context.Context, backend Backend, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return sharederrors.FailedToWithDetails("read settings override file", "settings", path, err)
	}

	var values map[string]string
	if err := json.Unmarshal(raw, &values); err != nil {
		return sharederrors.FailedToWithDetails("parse settings override file", "settings", path, err)
	}

	for key, value := range values {
		if err := backend.Set(ctx, key, value); err != nil {
			return fmt.Errorf("apply override %s: %w", key, err)
		}
	}
	return nil
}
