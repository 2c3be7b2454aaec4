package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recordkit/internal/query"
	"github.com/roach88/recordkit/internal/store"
	"github.com/roach88/recordkit/internal/testutil"
)

// fixtures cover missing fields, mixed types and array fields. r7 holds a
// boolean where numbers are expected and a number where a boolean is.
func fixtures() []store.Record {
	return []store.Record{
		{"entityId": "r1", "title": "buy milk", "status": "open", "priority": float64(1), "tags": []any{"home", "urgent"}, "done": false},
		{"entityId": "r2", "status": "done", "priority": float64(3), "tags": []any{"work"}, "done": true},
		{"entityId": "r3", "status": "open", "priority": float64(5), "done": false},
		{"entityId": "r4", "status": "blocked", "priority": "high", "done": false},
		{"entityId": "r5", "priority": float64(2), "tags": []any{"urgent"}},
		{"entityId": "r6", "status": "open", "priority": 2.5, "done": true},
		{"entityId": "r7", "priority": true, "done": float64(1)},
	}
}

func seed(t *testing.T, b *Backend) {
	t.Helper()
	ctx := context.Background()
	for _, r := range fixtures() {
		require.NoError(t, b.Save(ctx, r["entityId"].(string), r))
	}
}

func ids(rs []store.Record) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r["entityId"].(string)
	}
	return out
}

func translate(t *testing.T, b *Backend, filter map[string]any) *search {
	t.Helper()
	q, _, err := query.Parse(filter)
	require.NoError(t, err)
	s := b.Search().(*search)
	require.NoError(t, query.Translate(q, s))
	return s
}

// TestSearch_MatchesPlainEvaluation checks that translating a filter and
// executing it returns exactly the fixtures query.Match accepts.
func TestSearch_MatchesPlainEvaluation(t *testing.T) {
	b, _ := createTestBackend(t)
	seed(t, b)

	filters := []struct {
		name   string
		filter map[string]any
		want   []string
	}{
		{"everything", map[string]any{}, []string{"r1", "r2", "r3", "r4", "r5", "r6", "r7"}},
		{"equality", map[string]any{"status": "open"}, []string{"r1", "r3", "r6"}},
		{"not equal includes missing", map[string]any{"status": map[string]any{"$ne": "open"}}, []string{"r2", "r4", "r5", "r7"}},
		{"greater than skips strings", map[string]any{"priority": map[string]any{"$gt": 2}}, []string{"r2", "r3", "r6"}},
		{"less or equal", map[string]any{"priority": map[string]any{"$lte": 2}}, []string{"r1", "r5"}},
		{"not equal across types", map[string]any{"priority": map[string]any{"$ne": 2}}, []string{"r1", "r2", "r3", "r4", "r6", "r7"}},
		{"array membership", map[string]any{"tags": "urgent"}, []string{"r1", "r5"}},
		{"array non-membership", map[string]any{"tags": map[string]any{"$ne": "urgent"}}, []string{"r2", "r3", "r4", "r6", "r7"}},
		{"or", map[string]any{"$or": []any{
			map[string]any{"status": "done"},
			map[string]any{"priority": map[string]any{"$gte": 5}},
		}}, []string{"r2", "r3"}},
		{"and", map[string]any{"$and": []any{
			map[string]any{"status": "open"},
			map[string]any{"done": true},
		}}, []string{"r6"}},
		{"boolean and range", map[string]any{"done": false, "priority": map[string]any{"$lt": 10}}, []string{"r1", "r3"}},
		{"text equality", map[string]any{"title": "buy milk"}, []string{"r1"}},
		{"string range", map[string]any{"status": map[string]any{"$gt": "d"}}, []string{"r1", "r2", "r3", "r6"}},
		{"boolean not equal includes missing", map[string]any{"done": map[string]any{"$ne": false}}, []string{"r2", "r5", "r6", "r7"}},
		{"number does not equal true", map[string]any{"priority": 1}, []string{"r1"}},
		{"true does not equal one", map[string]any{"done": true}, []string{"r2", "r6"}},
		{"boolean equality", map[string]any{"priority": true}, []string{"r7"}},
		{"not one keeps true", map[string]any{"priority": map[string]any{"$ne": 1}}, []string{"r2", "r3", "r4", "r5", "r6", "r7"}},
	}

	for _, tt := range filters {
		t.Run(tt.name, func(t *testing.T) {
			q, _, err := query.Parse(tt.filter)
			require.NoError(t, err)

			s := b.Search()
			require.NoError(t, query.Translate(q, s))
			got, err := s.All(context.Background())
			require.NoError(t, err)

			expected := ids(query.Filter(q.Where, fixtures()))
			assert.Equal(t, expected, ids(got), "store result differs from plain evaluation")
			assert.Equal(t, tt.want, ids(got))

			n, err := s.Count(context.Background())
			require.NoError(t, err)
			assert.Equal(t, len(tt.want), n)
		})
	}
}

func TestSearch_SortThenIdentity(t *testing.T) {
	b, _ := createTestBackend(t)
	seed(t, b)

	s := translate(t, b, map[string]any{
		"priority": map[string]any{"$gte": 0},
		"$sort":    map[string]any{"priority": -1},
	})
	got, err := s.All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"r3", "r2", "r6", "r5", "r1"}, ids(got))
}

func TestSearch_Page(t *testing.T) {
	b, _ := createTestBackend(t)
	seed(t, b)
	ctx := context.Background()

	got, err := b.Search().Page(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"r2", "r3"}, ids(got))

	got, err = b.Search().Page(ctx, 10, 2)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearch_EmptyGroups(t *testing.T) {
	b, _ := createTestBackend(t)
	seed(t, b)
	ctx := context.Background()

	s := b.Search()
	require.NoError(t, s.Or(func(store.Search) error { return nil }))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "empty OR matches nothing")

	s = b.Search()
	require.NoError(t, s.And(func(store.Search) error { return nil }))
	n, err = s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, n, "empty AND matches everything")
}

func TestSearch_Errors(t *testing.T) {
	b, _ := createTestBackend(t)

	var qe *store.QueryError

	err := b.Search().Where("color").Eq("red")
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, store.ErrNameField, qe.Name)

	err = b.Search().Where("tags").Gt("a")
	require.ErrorAs(t, err, &qe)

	err = b.Search().Where("priority").Gt(true)
	require.ErrorAs(t, err, &qe)

	err = b.Search().Where("status").Eq([]any{"a"})
	require.ErrorAs(t, err, &qe)

	err = b.Search().SortBy("tags", false)
	require.ErrorAs(t, err, &qe)

	err = b.Search().And(func(g store.Search) error {
		return g.SortBy("priority", false)
	})
	require.ErrorAs(t, err, &qe)
}

func TestSearch_ExcludesExpired(t *testing.T) {
	b, clock := createTestBackend(t)
	seed(t, b)
	ctx := context.Background()

	require.NoError(t, b.Expire(ctx, "r1", 5))
	clock.Advance(6 * time.Second)

	got, err := b.Search().All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"r2", "r3", "r4", "r5", "r6", "r7"}, ids(got))
}

func renderSQL(sql string, args []any) []byte {
	return []byte(fmt.Sprintf("%s\n%v\n", sql, args))
}

func TestCompile_Golden(t *testing.T) {
	b, _ := createTestBackend(t)
	now := testutil.Epoch.UnixMilli()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	tests := []struct {
		name   string
		filter map[string]any
	}{
		{"equality", map[string]any{"status": "open"}},
		{"not_equal", map[string]any{"status": map[string]any{"$ne": "done"}}},
		{"range_and_sort", map[string]any{"priority": map[string]any{"$gte": 2}, "$sort": map[string]any{"priority": -1}}},
		{"or_group", map[string]any{"$or": []any{map[string]any{"status": "open"}, map[string]any{"tags": "urgent"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := translate(t, b, tt.filter)
			sql, args := s.compileSelect(now, false)
			g.Assert(t, tt.name, renderSQL(sql, args))
		})
	}

	t.Run("count", func(t *testing.T) {
		s := translate(t, b, map[string]any{"done": false})
		sql, args := s.compileCount(now)
		g.Assert(t, "count", renderSQL(sql, args))
	})

	t.Run("paged", func(t *testing.T) {
		s := translate(t, b, nil)
		sql, args := s.compileSelect(now, true)
		g.Assert(t, "paged", renderSQL(sql, args))
	})
}
