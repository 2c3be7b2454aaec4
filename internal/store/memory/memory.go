// Package memory implements store.Backend in process.
//
// Records live in a B-tree ordered by identity, so unsorted results come
// back in identity order like the durable backends. Each record carries an
// optional deadline checked against the backend's clock; expired records
// are invisible and are dropped lazily.
//
// Search leaves are evaluated with connor condition documents
// ({"v": {"$gt": 3}}); And and Or groups combine leaf results.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/roach88/recordkit/internal/schema"
	"github.com/roach88/recordkit/internal/store"
)

var errNoIndex = errors.New("memory: no index; call EnsureIndex first")

// entry is one stored record.
type entry struct {
	id       string
	doc      store.Record
	deadline time.Time // zero means no expiry
}

func (e *entry) alive(now time.Time) bool {
	return e.deadline.IsZero() || now.Before(e.deadline)
}

// Backend is an in-memory collection.
type Backend struct {
	clock  store.Clock
	logger *slog.Logger

	mu          sync.RWMutex
	tree        *btree.BTreeG[*entry]
	schema      *schema.Schema
	fingerprint string
}

// Option configures a Backend.
type Option func(*Backend)

// WithClock sets the clock used for expiry. Defaults to the wall clock.
func WithClock(c store.Clock) Option {
	return func(b *Backend) {
		b.clock = c
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = l
	}
}

var _ store.Backend = (*Backend)(nil)

// New creates an empty backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		clock:  store.SystemClock{},
		logger: slog.Default(),
		tree:   btree.NewG(32, func(a, b *entry) bool { return a.id < b.id }),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Close is a no-op.
func (b *Backend) Close() error { return nil }

// Len returns the number of live records.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	now := b.clock.Now()
	n := 0
	b.tree.Ascend(func(e *entry) bool {
		if e.alive(now) {
			n++
		}
		return true
	})
	return n
}

// EnsureIndex records s as the collection schema. Records are kept across
// schema changes; rebuilt reports whether the fingerprint changed.
func (b *Backend) EnsureIndex(_ context.Context, s *schema.Schema) (bool, error) {
	if err := s.Validate(); err != nil {
		return false, fmt.Errorf("ensure index: %w", err)
	}
	fingerprint, err := s.Fingerprint()
	if err != nil {
		return false, fmt.Errorf("ensure index: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	rebuilt := b.fingerprint != fingerprint
	b.schema = s
	b.fingerprint = fingerprint
	_ = b.sweepLocked()
	if rebuilt {
		b.logger.Debug("index rebuilt", "collection", s.Name)
	}
	return rebuilt, nil
}

// Sweep drops expired entries and returns how many were removed.
func (b *Backend) Sweep(_ context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkIndex(); err != nil {
		return 0, err
	}
	n := b.sweepLocked()
	if n > 0 {
		b.logger.Debug("swept expired records", "count", n)
	}
	return int64(n), nil
}

// sweepLocked drops expired entries. Caller holds the write lock.
func (b *Backend) sweepLocked() int {
	now := b.clock.Now()
	var expired []*entry
	b.tree.Ascend(func(e *entry) bool {
		if !e.alive(now) {
			expired = append(expired, e)
		}
		return true
	})
	for _, e := range expired {
		b.tree.Delete(e)
	}
	return len(expired)
}

func (b *Backend) checkIndex() error {
	if b.schema == nil {
		return errNoIndex
	}
	return nil
}

// Fetch returns a copy of the live record under id, or an empty Record.
func (b *Backend) Fetch(_ context.Context, id string) (store.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkIndex(); err != nil {
		return nil, err
	}
	e, ok := b.tree.Get(&entry{id: id})
	if !ok || !e.alive(b.clock.Now()) {
		return store.Record{}, nil
	}
	return e.doc.Clone(), nil
}

// Save stores a normalized copy of r. A live deadline is kept.
func (b *Backend) Save(_ context.Context, id string, r store.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkIndex(); err != nil {
		return err
	}
	next := &entry{id: id, doc: store.NormalizeRecord(r)}
	if prev, ok := b.tree.Get(&entry{id: id}); ok && prev.alive(b.clock.Now()) {
		next.deadline = prev.deadline
	}
	b.tree.ReplaceOrInsert(next)
	return nil
}

// Remove deletes the record under id.
func (b *Backend) Remove(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkIndex(); err != nil {
		return err
	}
	b.tree.Delete(&entry{id: id})
	return nil
}

// Expire sets the deadline seconds from now. Non-positive values delete.
func (b *Backend) Expire(_ context.Context, id string, seconds int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkIndex(); err != nil {
		return err
	}
	e, ok := b.tree.Get(&entry{id: id})
	now := b.clock.Now()
	if !ok || !e.alive(now) {
		return nil
	}
	if seconds <= 0 {
		b.tree.Delete(e)
		return nil
	}
	b.tree.ReplaceOrInsert(&entry{
		id:       id,
		doc:      e.doc,
		deadline: now.Add(time.Duration(seconds) * time.Second),
	})
	return nil
}

// Search starts a query over a snapshot taken when it executes.
func (b *Backend) Search() store.Search {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return newSearch(b, b.schema)
}

// snapshot returns copies of the live records in identity order.
func (b *Backend) snapshot() ([]store.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkIndex(); err != nil {
		return nil, err
	}
	now := b.clock.Now()
	out := make([]store.Record, 0, b.tree.Len())
	b.tree.Ascend(func(e *entry) bool {
		if e.alive(now) {
			out = append(out, e.doc.Clone())
		}
		return true
	})
	return out, nil
}
