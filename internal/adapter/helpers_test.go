package adapter

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/recordkit/internal/schema"
	"github.com/roach88/recordkit/internal/store"
	"github.com/roach88/recordkit/internal/store/memory"
	"github.com/roach88/recordkit/internal/store/sqlite"
	"github.com/roach88/recordkit/internal/testutil"
)

func peopleSchema() *schema.Schema {
	return &schema.Schema{
		Name: "people",
		Fields: []schema.Field{
			{Name: "name", Type: schema.TypeString, Sortable: true},
			{Name: "age", Type: schema.TypeNumber, Sortable: true},
			{Name: "city", Type: schema.TypeString},
		},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// backendFactory opens a fresh backend driven by clock.
type backendFactory func(t *testing.T, clock *testutil.FakeClock) store.Backend

func memoryBackend(t *testing.T, clock *testutil.FakeClock) store.Backend {
	return memory.New(memory.WithClock(clock), memory.WithLogger(quietLogger()))
}

func sqliteBackend(t *testing.T, clock *testutil.FakeClock) store.Backend {
	t.Helper()
	b, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"),
		sqlite.WithClock(clock),
		sqlite.WithLogger(quietLogger()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

// backends lists every backend the adapter tests run against.
var backends = map[string]backendFactory{
	"memory": memoryBackend,
	"sqlite": sqliteBackend,
}

// forEachBackend runs fn once per backend as a subtest.
func forEachBackend(t *testing.T, fn func(t *testing.T, open backendFactory)) {
	for _, name := range []string{"memory", "sqlite"} {
		open := backends[name]
		t.Run(name, func(t *testing.T) {
			fn(t, open)
		})
	}
}

// newTestService builds a service over a fresh backend with sequential
// identities and a fake clock.
func newTestService(t *testing.T, open backendFactory, opts ...Option) (*Service, *testutil.FakeClock) {
	t.Helper()
	clock := testutil.NewFakeClock(testutil.Epoch)
	base := []Option{
		WithIDGenerator(testutil.NewSequentialIDs("p")),
		WithLogger(quietLogger()),
	}
	svc, err := New(context.Background(), open(t, clock), peopleSchema(), append(base, opts...)...)
	require.NoError(t, err)
	return svc, clock
}

// seedPeople creates four people; identities are p-0001 to p-0004.
func seedPeople(t *testing.T, svc *Service) {
	t.Helper()
	for _, r := range []store.Record{
		{"name": "Ada", "age": float64(36), "city": "London"},
		{"name": "Grace", "age": float64(85), "city": "Arlington"},
		{"name": "Linus", "age": float64(54), "city": "Portland"},
		{"name": "Margaret", "age": float64(87), "city": "Boston"},
	} {
		_, err := svc.Create(context.Background(), r, Params{})
		require.NoError(t, err)
	}
}

func names(rs []store.Record) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i], _ = r["name"].(string)
	}
	return out
}
