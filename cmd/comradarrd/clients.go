package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/engels74/comradarr/pkg/connector"
	"github.com/engels74/comradarr/pkg/store"
)

// clientRegistry holds one connector.Client per enabled Connector row,
// keyed by connector id. It satisfies both pkg/pending.ClientResolver
// and pkg/reconnect.ClientResolver, which are independently declared
// with the same func shape rather than sharing a named type.
type clientRegistry struct {
	mu      sync.RWMutex
	clients map[int64]connector.Client
}

func newClientRegistry() *clientRegistry {
	return &clientRegistry{clients: make(map[int64]connector.Client)}
}

// loadEnabled builds a client for every currently enabled connector.
// A connector added after startup is picked up lazily the first time
// a schedule job resolves its target (see targetBuilder.build).
func (r *clientRegistry) loadEnabled(ctx context.Context, connectors store.ConnectorRepository) error {
	list, err := connectors.ListEnabled(ctx)
	if err != nil {
		return err
	}
	for _, c := range list {
		if _, err := r.getOrBuild(c); err != nil {
			return fmt.Errorf("connector %q: %w", c.Name, err)
		}
	}
	return nil
}

func (r *clientRegistry) resolve(connectorID int64) (connector.Client, bool) {
	r.mu.RLock()
	c, ok := r.clients[connectorID]
	r.mu.RUnlock()
	return c, ok
}

// getOrBuild returns the cached client for c.ID, building and caching
// one via the variant-specific constructor on first use. The api key
// is read straight out of APIKeyCipher: Comradarr does not encrypt it
// at rest yet, so the column currently holds the plaintext key under
// a name reserved for when that lands.
func (r *clientRegistry) getOrBuild(c store.Connector) (connector.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.clients[c.ID]; ok {
		return existing, nil
	}

	connType := toConnectorType(c.Type)
	cfg := connector.Config{Type: connType, Name: c.Name, BaseURL: c.BaseURL, APIKey: c.APIKeyCipher}

	var (
		client connector.Client
		err    error
	)
	switch connType {
	case connector.TypeSonarr:
		client, err = connector.NewSonarrClient(cfg)
	case connector.TypeRadarr:
		client, err = connector.NewRadarrClient(cfg)
	case connector.TypeWhisparr:
		client, err = connector.NewWhisparrClient(cfg)
	default:
		return nil, fmt.Errorf("unknown connector type %q", c.Type)
	}
	if err != nil {
		return nil, err
	}

	r.clients[c.ID] = client
	return client, nil
}

// toConnectorType converts store.ConnectorType to connector.Type: the
// two enums are declared separately (pkg/store avoids importing
// pkg/connector) but share identical underlying string values.
func toConnectorType(t store.ConnectorType) connector.Type {
	return connector.Type(t)
}
