// Package mapping is the destination mapping store (C3): an in-memory,
// cache of db_mapping rows, replaced wholesale on refresh; between
// refreshes, Get's read-through path adds single rows to it. Grounded on the teacher's pkg/config registries
// (AgentRegistry, MCPServerRegistry) — a map guarded by a mutex, swapped
// in one shot on reload, per spec.md §4.3 and §8 property 10 ("Mapping
// refresh isolation").
package mapping

import (
	"context"
	"fmt"
	"sync"

	"github.com/dataworks-io/sqlgate/pkg/apierr"
	"github.com/dataworks-io/sqlgate/pkg/models"
)

// Loader fetches the full set of destination mappings, active or not,
// typically backed by pkg/ctldb's control-database client.
type Loader interface {
	LoadActiveMappings(ctx context.Context) ([]models.DBMapping, error)
	// GetMapping fetches a single destination mapping by name, for Get's
	// read-through path on a cache miss. found is false when no row with
	// that name exists.
	GetMapping(ctx context.Context, name string) (mapping models.DBMapping, found bool, err error)
}

// Store holds the destination name -> mapping table, replaced wholesale on
// Refresh. Reads never block on a Refresh in progress beyond the brief
// pointer swap; in-flight requests keep using the table snapshot they
// acquired, per spec.md §4.3 "refresh must not disrupt in-flight requests."
type Store struct {
	mu      sync.RWMutex
	loader  Loader
	entries map[string]models.DBMapping
}

// NewStore constructs an empty Store backed by loader. Call Refresh once
// before serving requests.
func NewStore(loader Loader) *Store {
	return &Store{loader: loader, entries: make(map[string]models.DBMapping)}
}

// Refresh reloads every mapping from the loader, active or not, and
// atomically replaces the in-memory table; Get and Names skip inactive rows. A failed load leaves the existing table
// untouched.
func (s *Store) Refresh(ctx context.Context) error {
	rows, err := s.loader.LoadActiveMappings(ctx)
	if err != nil {
		return fmt.Errorf("refresh mapping store: %w", err)
	}

	next := make(map[string]models.DBMapping, len(rows))
	for _, row := range rows {
		next[row.Name] = row
	}

	s.mu.Lock()
	s.entries = next
	s.mu.Unlock()
	return nil
}

// Get resolves a destination name to its mapping. On a cache miss it reads
// through to the control database via the loader and, if the row is present
// and active, inserts it into the cache before returning it (spec.md §4.3).
// Returns a CodeInvalidParams error (surfaced to clients as "unknown
// destination", spec.md scenario S3) when the name is absent or inactive
// both in the cache and at the source, and CodeDBConnectionError if the
// read-through lookup itself fails.
func (s *Store) Get(ctx context.Context, name string) (models.DBMapping, error) {
	s.mu.RLock()
	m, ok := s.entries[name]
	s.mu.RUnlock()
	if ok && m.Active {
		return m, nil
	}

	fresh, found, err := s.loader.GetMapping(ctx, name)
	if err != nil {
		return models.DBMapping{}, apierr.Newf(apierr.CodeDBConnectionError, "read-through lookup for destination %q: %v", name, err)
	}
	if !found || !fresh.Active {
		return models.DBMapping{}, apierr.Newf(apierr.CodeInvalidParams, "unknown destination %q", name)
	}

	s.mu.Lock()
	s.entries[name] = fresh
	s.mu.Unlock()
	return fresh, nil
}

// Names returns every known active destination name, for catalog listing.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.entries))
	for name, m := range s.entries {
		if m.Active {
			out = append(out, name)
		}
	}
	return out
}

// Len reports the current number of mappings, active or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Resolve converts a mapping to the connection tuple the pool registry
// needs.
func Resolve(m models.DBMapping) models.ResolvedConn {
	return models.ResolvedConn{
		Host:     m.Host,
		Port:     m.Port,
		Username: m.Username,
		Password: m.Password,
		Database: m.Database,
	}
}
