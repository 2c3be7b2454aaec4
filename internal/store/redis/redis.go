// Package redis implements store.Backend on Redis Stack.
//
// Records are RedisJSON documents under "<prefix>:<id>". The collection is
// a RediSearch index over those keys (FT.CREATE ... ON JSON); predicates
// compile to RediSearch query syntax. Expiry is native: Expire issues
// EXPIRE and JSON.SET keeps an existing TTL.
//
// The schema fingerprint is stored under "<index>:fingerprint" so
// EnsureIndex only drops and recreates the index when the schema changed.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	rclient "github.com/go-redis/redis/v8"

	"github.com/roach88/recordkit/internal/schema"
	"github.com/roach88/recordkit/internal/store"
)

// DefaultAddress is used by Dial when no address is given.
const DefaultAddress = "redis://127.0.0.1:6379"

var errNoIndex = errors.New("redis: no index; call EnsureIndex first")

// Backend stores one collection in Redis.
type Backend struct {
	client  rclient.UniversalClient
	logger  *slog.Logger
	idField string

	mu     sync.RWMutex
	schema *schema.Schema
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = l
	}
}

// WithIDField names the identity field. It is indexed SORTABLE and used
// as the default sort. Defaults to "entityId".
func WithIDField(name string) Option {
	return func(b *Backend) {
		b.idField = name
	}
}

var _ store.Backend = (*Backend)(nil)

// New wraps an existing client.
func New(client rclient.UniversalClient, opts ...Option) *Backend {
	b := &Backend{
		client:  client,
		logger:  slog.Default(),
		idField: "entityId",
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Dial connects to addr, a redis:// URL or a bare host:port, and pings it.
func Dial(ctx context.Context, addr string, opts ...Option) (*Backend, error) {
	if addr == "" {
		addr = DefaultAddress
	}
	options, err := rclient.ParseURL(addr)
	if err != nil {
		options = &rclient.Options{Addr: addr}
	}
	client := rclient.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to %s: %w", options.Addr, err)
	}
	return New(client, opts...), nil
}

// Close closes the client.
func (b *Backend) Close() error {
	return b.client.Close()
}

func (b *Backend) collection() (*schema.Schema, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.schema == nil {
		return nil, errNoIndex
	}
	return b.schema, nil
}

func key(s *schema.Schema, id string) string {
	return s.KeyPrefix() + ":" + id
}

func fingerprintKey(s *schema.Schema) string {
	return s.Name + ":fingerprint"
}

// Fetch returns the record under id. JSON.GET on a missing key replies
// nil, which becomes an empty Record.
func (b *Backend) Fetch(ctx context.Context, id string) (store.Record, error) {
	s, err := b.collection()
	if err != nil {
		return nil, err
	}
	doc, err := b.client.Do(ctx, "JSON.GET", key(s, id)).Text()
	if errors.Is(err, rclient.Nil) {
		return store.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", id, err)
	}
	return decodeDoc(doc)
}

// Save writes r with JSON.SET at the root. Redis keeps the key's TTL.
func (b *Backend) Save(ctx context.Context, id string, r store.Record) error {
	s, err := b.collection()
	if err != nil {
		return err
	}
	doc, err := json.Marshal(store.NormalizeRecord(r))
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", id, err)
	}
	if err := b.client.Do(ctx, "JSON.SET", key(s, id), "$", string(doc)).Err(); err != nil {
		return fmt.Errorf("save %s: %w", id, err)
	}
	return nil
}

// Remove deletes the key.
func (b *Backend) Remove(ctx context.Context, id string) error {
	s, err := b.collection()
	if err != nil {
		return err
	}
	if err := b.client.Del(ctx, key(s, id)).Err(); err != nil {
		return fmt.Errorf("remove %s: %w", id, err)
	}
	return nil
}

// Expire issues EXPIRE. Redis deletes the key for non-positive values.
func (b *Backend) Expire(ctx context.Context, id string, seconds int) error {
	s, err := b.collection()
	if err != nil {
		return err
	}
	if err := b.client.Expire(ctx, key(s, id), time.Duration(seconds)*time.Second).Err(); err != nil {
		return fmt.Errorf("expire %s: %w", id, err)
	}
	return nil
}

// Search starts a RediSearch query.
func (b *Backend) Search() store.Search {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return newSearch(b, b.schema)
}

// EnsureIndex creates the RediSearch index for s unless the stored
// fingerprint already matches.
func (b *Backend) EnsureIndex(ctx context.Context, s *schema.Schema) (bool, error) {
	if err := s.Validate(); err != nil {
		return false, fmt.Errorf("ensure index: %w", err)
	}
	fingerprint, err := s.Fingerprint()
	if err != nil {
		return false, fmt.Errorf("ensure index: %w", err)
	}

	current, err := b.client.Get(ctx, fingerprintKey(s)).Result()
	if err != nil && !errors.Is(err, rclient.Nil) {
		return false, fmt.Errorf("read fingerprint: %w", err)
	}

	rebuilt := current != fingerprint
	if rebuilt {
		err := b.client.Do(ctx, "FT.DROPINDEX", s.Name).Err()
		if err != nil && !isUnknownIndex(err) {
			return false, fmt.Errorf("drop index %s: %w", s.Name, err)
		}
		if err := b.client.Do(ctx, createIndexArgs(s, b.idField)...).Err(); err != nil {
			return false, fmt.Errorf("create index %s: %w", s.Name, err)
		}
		if err := b.client.Set(ctx, fingerprintKey(s), fingerprint, 0).Err(); err != nil {
			return false, fmt.Errorf("record fingerprint: %w", err)
		}
		b.logger.Info("index rebuilt", "collection", s.Name, "fingerprint", fingerprint[:12])
	} else {
		b.logger.Debug("index up to date", "collection", s.Name)
	}

	b.mu.Lock()
	b.schema = s
	b.mu.Unlock()
	return rebuilt, nil
}

func isUnknownIndex(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unknown index") || strings.Contains(msg, "no such index")
}

// createIndexArgs builds FT.CREATE. Fields are emitted in name order so
// the command is deterministic.
func createIndexArgs(s *schema.Schema, idField string) []any {
	args := []any{
		"FT.CREATE", s.Name,
		"ON", "JSON",
		"PREFIX", "1", s.KeyPrefix() + ":",
		"SCHEMA",
	}
	for _, f := range s.SortedFields() {
		path := "$." + f.Name
		if f.Type == schema.TypeStringArray {
			path += "[*]"
		}
		args = append(args, path, "AS", alias(f.Name), searchType(f.Type))
		if f.Sortable || f.Name == idField {
			args = append(args, "SORTABLE")
		}
	}
	return args
}

// searchType maps a field type to its RediSearch type.
func searchType(t schema.FieldType) string {
	switch t {
	case schema.TypeNumber, schema.TypeDate:
		return "NUMERIC"
	case schema.TypeText:
		return "TEXT"
	default:
		return "TAG"
	}
}

// alias is the RediSearch attribute name of a field.
func alias(field string) string {
	return strings.ReplaceAll(field, ".", "_")
}

func decodeDoc(doc string) (store.Record, error) {
	var r store.Record
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if r == nil {
		r = store.Record{}
	}
	return r, nil
}
