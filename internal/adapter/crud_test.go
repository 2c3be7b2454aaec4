package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recordkit/internal/apperr"
	"github.com/roach88/recordkit/internal/store"
	"github.com/roach88/recordkit/internal/store/memory"
	"github.com/roach88/recordkit/internal/testutil"
)

func TestNew_AddsIdentityFieldWithoutMutatingSchema(t *testing.T) {
	s := peopleSchema()
	svc, err := New(context.Background(), memory.New(), s, WithLogger(quietLogger()))
	require.NoError(t, err)

	_, ok := svc.Schema().Field("entityId")
	assert.True(t, ok)
	_, ok = s.Field("entityId")
	assert.False(t, ok, "caller's schema is left alone")
}

func TestNew_ReportsIndexRebuild(t *testing.T) {
	ctx := context.Background()
	backend := memory.New(memory.WithLogger(quietLogger()))

	first, err := New(ctx, backend, peopleSchema(), WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.True(t, first.IndexRebuilt())

	again, err := New(ctx, backend, peopleSchema(), WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.False(t, again.IndexRebuilt(), "same schema keeps the index")
}

func TestNew_NilSchema(t *testing.T) {
	_, err := New(context.Background(), memory.New(), nil)
	assert.Error(t, err)
}

func TestCreateThenGet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open backendFactory) {
		svc, _ := newTestService(t, open)
		ctx := context.Background()

		input := store.Record{"name": "Ada", "age": float64(36)}
		created, err := svc.Create(ctx, input, Params{})
		require.NoError(t, err)
		assert.Equal(t, "p-0001", created["entityId"])
		assert.NotContains(t, input, "entityId", "input is not mutated")

		got, err := svc.Get(ctx, "p-0001", Params{})
		require.NoError(t, err)
		assert.Equal(t, store.Record{"entityId": "p-0001", "name": "Ada", "age": float64(36)}, got)
	})
}

func TestCreate_IgnoresCallerIdentity(t *testing.T) {
	svc, _ := newTestService(t, memoryBackend)

	created, err := svc.Create(context.Background(), store.Record{"entityId": "mine", "name": "Ada"}, Params{})
	require.NoError(t, err)
	assert.Equal(t, "p-0001", created["entityId"])

	_, err = svc.Get(context.Background(), "mine", Params{})
	assert.True(t, apperr.IsNotFound(err))
}

func TestCreate_CustomIDField(t *testing.T) {
	svc, _ := newTestService(t, memoryBackend, WithIDField("id"))

	created, err := svc.Create(context.Background(), store.Record{"name": "Ada"}, Params{Select: []string{}})
	require.NoError(t, err)
	assert.Equal(t, store.Record{"id": "p-0001"}, created)
}

func TestCreateMany(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open backendFactory) {
		svc, clock := newTestService(t, open, WithMulti(MethodCreate), WithExpiration(10))
		ctx := context.Background()

		created, err := svc.CreateMany(ctx, []store.Record{{"name": "a"}, {"name": "b"}, {"name": "c"}}, Params{})
		require.NoError(t, err)
		require.Len(t, created, 3)

		for _, r := range created {
			_, err := svc.Get(ctx, r["entityId"].(string), Params{})
			assert.NoError(t, err)
		}

		clock.Advance(11 * time.Second)
		for _, r := range created {
			_, err := svc.Get(ctx, r["entityId"].(string), Params{})
			assert.True(t, apperr.IsNotFound(err), "every batch item expires")
		}
	})
}

// countingBackend records store calls.
type countingBackend struct {
	store.Backend
	saves int
}

func (b *countingBackend) Save(ctx context.Context, id string, r store.Record) error {
	b.saves++
	return b.Backend.Save(ctx, id, r)
}

func TestCreateMany_NotAllowed(t *testing.T) {
	svc, _ := newTestService(t, memoryBackend)
	counter := &countingBackend{Backend: svc.backend}
	svc.backend = counter

	_, err := svc.CreateMany(context.Background(), []store.Record{{"name": "a"}}, Params{})
	assert.True(t, apperr.IsMethodNotAllowed(err))
	assert.Zero(t, counter.saves, "rejected before any store access")

	_, err = svc.CreateAny(context.Background(), []any{map[string]any{"name": "a"}}, Params{})
	assert.True(t, apperr.IsMethodNotAllowed(err))
}

func TestCreateAny(t *testing.T) {
	svc, _ := newTestService(t, memoryBackend, WithMulti(MethodCreate))
	ctx := context.Background()

	one, err := svc.CreateAny(ctx, map[string]any{"name": "a"}, Params{})
	require.NoError(t, err)
	assert.IsType(t, store.Record{}, one)

	many, err := svc.CreateAny(ctx, []any{map[string]any{"name": "b"}, store.Record{"name": "c"}}, Params{})
	require.NoError(t, err)
	assert.Len(t, many, 2)

	_, err = svc.CreateAny(ctx, []any{"nope"}, Params{})
	assert.True(t, apperr.IsBadRequest(err))

	_, err = svc.CreateAny(ctx, 42, Params{})
	assert.True(t, apperr.IsBadRequest(err))
}

// failingExpireBackend fails Expire for one identity.
type failingExpireBackend struct {
	store.Backend
	failID string
}

func (b failingExpireBackend) Expire(ctx context.Context, id string, seconds int) error {
	if id == b.failID {
		return errors.New("connection reset")
	}
	return b.Backend.Expire(ctx, id, seconds)
}

func TestCreateMany_TTLFailureDoesNotStopOthers(t *testing.T) {
	clock := testutil.NewFakeClock(testutil.Epoch)
	backend := failingExpireBackend{
		Backend: memory.New(memory.WithClock(clock), memory.WithLogger(quietLogger())),
		failID:  "p-0002",
	}
	svc, err := New(context.Background(), backend, peopleSchema(),
		WithIDGenerator(testutil.NewSequentialIDs("p")),
		WithLogger(quietLogger()),
		WithMulti(MethodCreate),
		WithExpiration(5),
	)
	require.NoError(t, err)
	ctx := context.Background()

	created, err := svc.CreateMany(ctx, []store.Record{{"name": "a"}, {"name": "b"}, {"name": "c"}}, Params{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Len(t, created, 3, "written records are returned with the error")

	clock.Advance(6 * time.Second)
	_, err = svc.Get(ctx, "p-0001", Params{})
	assert.True(t, apperr.IsNotFound(err))
	_, err = svc.Get(ctx, "p-0002", Params{})
	assert.NoError(t, err, "record whose TTL failed persists")
	_, err = svc.Get(ctx, "p-0003", Params{})
	assert.True(t, apperr.IsNotFound(err))
}

func TestGet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open backendFactory) {
		svc, _ := newTestService(t, open)
		seedPeople(t, svc)
		ctx := context.Background()

		got, err := svc.Get(ctx, "p-0002", Params{Query: map[string]any{"age": map[string]any{"$gt": 80}}})
		require.NoError(t, err)
		assert.Equal(t, "Grace", got["name"])

		_, err = svc.Get(ctx, "p-0001", Params{Query: map[string]any{"age": map[string]any{"$gt": 80}}})
		assert.True(t, apperr.IsNotFound(err), "filter must match too")

		_, err = svc.Get(ctx, "missing", Params{})
		require.True(t, apperr.IsNotFound(err))
		var ae *apperr.Error
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, "missing", ae.ID)

		got, err = svc.Get(ctx, "p-0003", Params{Query: map[string]any{"$select": []any{"name"}}})
		require.NoError(t, err)
		assert.Equal(t, store.Record{"entityId": "p-0003", "name": "Linus"}, got)
	})
}

func TestGet_CollapsesErrorsToNotFound(t *testing.T) {
	svc, _ := newTestService(t, memoryBackend)
	seedPeople(t, svc)
	ctx := context.Background()

	_, err := svc.Get(ctx, "p-0001", Params{Query: map[string]any{"color": "red"}})
	assert.True(t, apperr.IsNotFound(err), "query errors become NotFound")

	_, err = svc.Get(ctx, "p-0001", Params{Query: map[string]any{"name": map[string]any{"$in": []any{"Ada"}}}})
	assert.True(t, apperr.IsNotFound(err))
}

func TestGet_MissingIdentityFieldIsNotFound(t *testing.T) {
	svc, _ := newTestService(t, memoryBackend)
	ctx := context.Background()

	require.NoError(t, svc.backend.Save(ctx, "ghost", store.Record{"name": "no id"}))
	_, err := svc.Get(ctx, "ghost", Params{})
	assert.True(t, apperr.IsNotFound(err))

	require.NoError(t, svc.backend.Save(ctx, "blank", store.Record{"entityId": "", "name": "blank id"}))
	_, err = svc.Get(ctx, "blank", Params{})
	assert.True(t, apperr.IsNotFound(err))
}

func TestUpdate(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open backendFactory) {
		svc, _ := newTestService(t, open)
		seedPeople(t, svc)
		ctx := context.Background()

		updated, err := svc.Update(ctx, "p-0001", store.Record{"name": "Ada L."}, Params{})
		require.NoError(t, err)
		assert.Equal(t, store.Record{"entityId": "p-0001", "name": "Ada L."}, updated)

		got, err := svc.Get(ctx, "p-0001", Params{})
		require.NoError(t, err)
		assert.Equal(t, store.Record{"entityId": "p-0001", "name": "Ada L."}, got, "update replaces, never merges")

		_, err = svc.Update(ctx, "", store.Record{"name": "x"}, Params{})
		assert.True(t, apperr.IsBadRequest(err))

		_, err = svc.Update(ctx, "missing", store.Record{"name": "x"}, Params{})
		assert.True(t, apperr.IsNotFound(err))

		updated, err = svc.Update(ctx, "p-0002", store.Record{"name": "Grace H.", "age": float64(86)}, Params{Select: []string{"age"}})
		require.NoError(t, err)
		assert.Equal(t, store.Record{"entityId": "p-0002", "age": float64(86)}, updated)
	})
}

func TestPatch(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open backendFactory) {
		svc, _ := newTestService(t, open)
		seedPeople(t, svc)
		ctx := context.Background()

		patched, err := svc.Patch(ctx, "p-0003", store.Record{"city": "Helsinki", "entityId": "other"}, Params{})
		require.NoError(t, err)
		assert.Equal(t, store.Record{
			"entityId": "p-0003",
			"name":     "Linus",
			"age":      float64(54),
			"city":     "Helsinki",
		}, patched)

		_, err = svc.Patch(ctx, "", store.Record{"city": "x"}, Params{})
		assert.True(t, apperr.IsMethodNotAllowed(err))

		_, err = svc.Patch(ctx, "p-0003", store.Record{"city": "x"}, Params{Query: map[string]any{"name": "Ada"}})
		assert.True(t, apperr.IsNotFound(err))
	})
}

func TestPatchAndRemove_IgnoreLimit(t *testing.T) {
	svc, _ := newTestService(t, memoryBackend)
	seedPeople(t, svc)
	ctx := context.Background()

	q := map[string]any{"$limit": 0, "$skip": 3, "name": "Ada"}
	_, err := svc.Patch(ctx, "p-0001", store.Record{"city": "Paris"}, Params{Query: q})
	require.NoError(t, err)

	removed, err := svc.Remove(ctx, "p-0001", Params{Query: q})
	require.NoError(t, err)
	assert.Equal(t, "Paris", removed["city"])
}

func TestRemove(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open backendFactory) {
		svc, _ := newTestService(t, open)
		seedPeople(t, svc)
		ctx := context.Background()

		removed, err := svc.Remove(ctx, "p-0004", Params{})
		require.NoError(t, err)
		assert.Equal(t, "Margaret", removed["name"])

		_, err = svc.Get(ctx, "p-0004", Params{})
		assert.True(t, apperr.IsNotFound(err))

		_, err = svc.Remove(ctx, "p-0004", Params{})
		assert.True(t, apperr.IsNotFound(err))

		_, err = svc.Remove(ctx, "", Params{})
		assert.True(t, apperr.IsMethodNotAllowed(err))
	})
}

func TestSelect_AppliesToCreateAndUpdate(t *testing.T) {
	svc, _ := newTestService(t, memoryBackend)
	ctx := context.Background()
	params := Params{Query: map[string]any{"$select": []any{"name"}}}

	created, err := svc.Create(ctx, store.Record{"name": "Ada", "age": 36}, params)
	require.NoError(t, err)
	assert.Equal(t, store.Record{"entityId": "p-0001", "name": "Ada"}, created)

	updated, err := svc.Update(ctx, "p-0001", store.Record{"name": "Ada", "age": 37}, params)
	require.NoError(t, err)
	assert.Equal(t, store.Record{"entityId": "p-0001", "name": "Ada"}, updated)
}

func TestMalformedSelect_IsBadRequest(t *testing.T) {
	svc, _ := newTestService(t, memoryBackend)
	seedPeople(t, svc)
	ctx := context.Background()
	params := Params{Query: map[string]any{"$select": 5}}

	_, err := svc.Get(ctx, "p-0001", params)
	assert.True(t, apperr.IsBadRequest(err), "get: %v", err)

	_, err = svc.Create(ctx, store.Record{"name": "Edsger"}, params)
	assert.True(t, apperr.IsBadRequest(err), "create: %v", err)

	_, err = svc.Update(ctx, "p-0001", store.Record{"name": "Ada"}, params)
	assert.True(t, apperr.IsBadRequest(err), "update: %v", err)

	_, err = svc.Patch(ctx, "p-0001", store.Record{"age": 99}, params)
	assert.True(t, apperr.IsBadRequest(err), "patch: %v", err)

	_, err = svc.Remove(ctx, "p-0001", params)
	assert.True(t, apperr.IsBadRequest(err), "remove: %v", err)

	// Nothing was written or removed.
	res, err := svc.Find(ctx, Params{DisablePagination: true})
	require.NoError(t, err)
	assert.Len(t, res.Data, 4)
	got, err := svc.Get(ctx, "p-0001", Params{})
	require.NoError(t, err)
	assert.Equal(t, float64(36), got["age"])
}
