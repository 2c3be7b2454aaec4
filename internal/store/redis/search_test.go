package redis

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recordkit/internal/query"
	"github.com/roach88/recordkit/internal/schema"
	"github.com/roach88/recordkit/internal/store"
)

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

// offlineSearch returns a builder that compiles without a client.
func offlineSearch() *search {
	return newSearch(New(nil), todoSchema())
}

func translate(t *testing.T, filter map[string]any) *search {
	t.Helper()
	q, _, err := query.Parse(filter)
	require.NoError(t, err)
	s := offlineSearch()
	require.NoError(t, query.Translate(q, s))
	return s
}

func renderArgs(args []any) []byte {
	lines := make([]string, len(args))
	for i, a := range args {
		lines[i] = fmt.Sprint(a)
	}
	return []byte(strings.Join(lines, "\n") + "\n")
}

func TestCompile_Golden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	due := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		filter map[string]any
	}{
		{"equality", map[string]any{"status": "open"}},
		{"not_equal", map[string]any{"status": map[string]any{"$ne": "done"}}},
		{"range_and_sort", map[string]any{"priority": map[string]any{"$gte": 2}, "$sort": map[string]any{"priority": -1}}},
		{"exclusive_range", map[string]any{"priority": map[string]any{"$gt": 1, "$lt": 5}}},
		{"or_group", map[string]any{"$or": []any{map[string]any{"status": "open"}, map[string]any{"tags": "urgent"}}}},
		{"escaping", map[string]any{"entityId": "0190-ab.c"}},
		{"text", map[string]any{"title": "buy milk!"}},
		{"boolean", map[string]any{"done": true}},
		{"date", map[string]any{"due": due}},
		{"match_all", map[string]any{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := translate(t, tt.filter)
			g.Assert(t, tt.name, renderArgs(s.searchArgs(0, 10)))
		})
	}

	t.Run("create_index", func(t *testing.T) {
		g.Assert(t, "create_index", renderArgs(createIndexArgs(todoSchema(), "entityId")))
	})
}

func TestCompile_Errors(t *testing.T) {
	var qe *store.QueryError

	err := offlineSearch().Where("color").Eq("red")
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, store.ErrNameField, qe.Name)

	err = offlineSearch().Where("status").Gt("a")
	require.ErrorAs(t, err, &qe, "range on a tag field")

	err = offlineSearch().Where("title").Lt(3)
	require.ErrorAs(t, err, &qe, "range on a text field")

	err = offlineSearch().Where("priority").Gt("high")
	require.ErrorAs(t, err, &qe, "range with a string value")

	err = offlineSearch().Where("priority").Eq("high")
	require.ErrorAs(t, err, &qe, "numeric field with a string value")

	err = offlineSearch().Where("status").Eq(nil)
	require.ErrorAs(t, err, &qe, "null match")

	s := offlineSearch()
	require.NoError(t, s.SortBy("priority", false))
	err = s.SortBy("entityId", false)
	require.ErrorAs(t, err, &qe, "second sort field")

	err = offlineSearch().SortBy("status", false)
	require.ErrorAs(t, err, &qe, "not sortable")

	err = offlineSearch().Or(func(store.Search) error { return nil })
	require.ErrorAs(t, err, &qe, "empty OR")
}

func TestCompile_EmptyAndIsNoop(t *testing.T) {
	s := offlineSearch()
	require.NoError(t, s.And(func(store.Search) error { return nil }))
	assert.Equal(t, "*", s.queryString())
}

func TestEscape(t *testing.T) {
	assert.Equal(t, `a\ b\-c`, escapeTag("a b-c"))
	assert.Equal(t, `a b\-c`, escapeText("a b-c"))
	assert.Equal(t, `user\@example\.com`, escapeTag("user@example.com"))
}

func TestParseSearchReply(t *testing.T) {
	reply := []any{
		int64(2),
		"todos:a", []any{"$", `{"entityId":"a","priority":1}`},
		"todos:b", []any{"$", `{"entityId":"b"}`},
	}

	total, records, err := parseSearchReply(reply)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, []store.Record{
		{"entityId": "a", "priority": float64(1)},
		{"entityId": "b"},
	}, records)

	total, records, err = parseSearchReply([]any{int64(7)})
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	assert.Empty(t, records)

	_, _, err = parseSearchReply([]any{"x"})
	assert.Error(t, err)
	_, _, err = parseSearchReply(nil)
	assert.Error(t, err)
}

func TestIsUnknownIndex(t *testing.T) {
	assert.True(t, isUnknownIndex(fmt.Errorf("Unknown Index name")))
	assert.True(t, isUnknownIndex(fmt.Errorf("todos: no such index")))
	assert.False(t, isUnknownIndex(fmt.Errorf("READONLY")))
}
