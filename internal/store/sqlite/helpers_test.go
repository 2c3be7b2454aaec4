package sqlite

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/recordkit/internal/schema"
	"github.com/roach88/recordkit/internal/testutil"
)

// todoSchema is the collection used throughout the backend tests.
func todoSchema() *schema.Schema {
	return &schema.Schema{
		Name: "todos",
		Fields: []schema.Field{
			{Name: "entityId", Type: schema.TypeString},
			{Name: "title", Type: schema.TypeText},
			{Name: "status", Type: schema.TypeString},
			{Name: "priority", Type: schema.TypeNumber, Sortable: true},
			{Name: "tags", Type: schema.TypeStringArray},
			{Name: "due", Type: schema.TypeDate},
			{Name: "done", Type: schema.TypeBoolean},
		},
	}
}

// createTestBackend opens a backend on a temp database with the todo
// collection indexed and a fake clock.
func createTestBackend(t *testing.T) (*Backend, *testutil.FakeClock) {
	t.Helper()
	b, clock := openTestBackend(t)
	_, err := b.EnsureIndex(context.Background(), todoSchema())
	require.NoError(t, err)
	return b, clock
}

func openTestBackend(t *testing.T) (*Backend, *testutil.FakeClock) {
	t.Helper()
	clock := testutil.NewFakeClock(testutil.Epoch)
	path := filepath.Join(t.TempDir(), "test.db")
	b, err := Open(path,
		WithClock(clock),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b, clock
}
