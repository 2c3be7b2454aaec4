// Package expiration applies record time-to-live.
//
// A Manager holds the default TTL for one collection and issues expire
// commands through the backend. The default only affects records written
// after it changes; nothing already stored is touched.
package expiration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/recordkit/internal/apperr"
	"github.com/roach88/recordkit/internal/store"
)

// Expirer is the part of store.Backend the manager needs.
type Expirer interface {
	Expire(ctx context.Context, id string, seconds int) error
}

// Manager applies default and explicit expirations.
type Manager struct {
	backend Expirer
	idField string
	logger  *slog.Logger

	mu         sync.RWMutex
	seconds    int
	hasDefault bool
}

// NewManager creates a manager with no default TTL.
func NewManager(backend Expirer, idField string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{backend: backend, idField: idField, logger: logger}
}

// SetDefault sets the TTL applied on create and on refreshed mutations.
func (m *Manager) SetDefault(seconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seconds = seconds
	m.hasDefault = true
}

// ClearDefault removes the default TTL.
func (m *Manager) ClearDefault() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seconds = 0
	m.hasDefault = false
}

// Default returns the default TTL and whether one is set.
func (m *Manager) Default() (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.seconds, m.hasDefault
}

// Set expires the record seconds from now. idOrRecord is an identity
// string or a record carrying the identity field. Backend errors are
// returned unchanged.
func (m *Manager) Set(ctx context.Context, idOrRecord any, seconds int) error {
	id, err := m.identity(idOrRecord)
	if err != nil {
		return err
	}
	return m.backend.Expire(ctx, id, seconds)
}

// ApplyDefault sets the default TTL on every record. Each record is
// attempted even if an earlier one fails; failures are joined.
func (m *Manager) ApplyDefault(ctx context.Context, records ...store.Record) error {
	seconds, ok := m.Default()
	if !ok {
		return nil
	}
	var errs []error
	for _, r := range records {
		if err := m.Set(ctx, r, seconds); err != nil {
			m.logger.Warn("apply default expiration failed",
				"id", r[m.idField], "seconds", seconds, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Refresh re-applies the default TTL to r when refresh is set. Without
// it the record's existing expiry is left alone.
func (m *Manager) Refresh(ctx context.Context, r store.Record, refresh bool) error {
	if !refresh {
		return nil
	}
	return m.ApplyDefault(ctx, r)
}

func (m *Manager) identity(idOrRecord any) (string, error) {
	var raw any
	switch v := idOrRecord.(type) {
	case string:
		raw = v
	case store.Record:
		raw = v[m.idField]
	case map[string]any:
		raw = v[m.idField]
	default:
		return "", apperr.BadRequest("cannot resolve identity from %T", idOrRecord)
	}
	id, ok := raw.(string)
	if !ok {
		if raw == nil {
			return "", apperr.BadRequest("record has no '%s'", m.idField)
		}
		id = fmt.Sprint(raw)
	}
	if id == "" {
		return "", apperr.BadRequest("an id is required to set an expiration")
	}
	return id, nil
}
