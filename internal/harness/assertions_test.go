package harness

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recordkit/internal/adapter"
	"github.com/roach88/recordkit/internal/store"
	"github.com/roach88/recordkit/internal/store/memory"
	"github.com/roach88/recordkit/internal/testutil"
)

func sampleTrace() []TraceEvent {
	result := NewResult()
	result.AddTrace(TraceEvent{Op: OpCreate, Outcome: OutcomeOK})
	result.AddTrace(TraceEvent{Op: OpGet, ID: "rec-0001", Outcome: OutcomeOK})
	result.AddTrace(TraceEvent{Op: OpPatch, ID: "rec-0001", Outcome: OutcomeOK})
	result.AddTrace(TraceEvent{Op: OpGet, ID: "rec-0002", Outcome: "NotFound"})
	result.AddTrace(TraceEvent{Op: OpRemove, ID: "rec-0001", Outcome: OutcomeOK})
	return result.Trace
}

// newAssertionContext builds a memory-backed service holding Ada and Grace.
func newAssertionContext(t *testing.T) *AssertionContext {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	backend := memory.New(memory.WithClock(testutil.NewFakeClock(testutil.Epoch)), memory.WithLogger(logger))
	t.Cleanup(func() { backend.Close() })

	svc, err := adapter.New(ctx, backend, peopleSchema(),
		adapter.WithIDGenerator(testutil.NewSequentialIDs("rec")),
		adapter.WithLogger(logger),
	)
	require.NoError(t, err)

	for _, data := range []store.Record{{"name": "Ada", "age": 36}, {"name": "Grace", "age": 85}} {
		_, err := svc.Create(ctx, data, adapter.Params{})
		require.NoError(t, err)
	}
	return &AssertionContext{Service: svc, Ctx: ctx}
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceContains(trace, Assertion{Op: OpPatch}))
	assert.NoError(t, assertTraceContains(trace, Assertion{Op: OpGet, ID: "rec-0002"}))

	err := assertTraceContains(trace, Assertion{Op: OpPatch, ID: "rec-0002"})
	require.Error(t, err)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertTraceContains, ae.Type)
	assert.Len(t, ae.Trace, 5)

	assert.Error(t, assertTraceContains(trace, Assertion{Op: OpUpdate}))
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleTrace()

	tests := []struct {
		name    string
		ops     []string
		wantErr string
	}{
		{"in order", []string{OpCreate, OpPatch, OpRemove}, ""},
		{"intervening steps allowed", []string{OpCreate, OpRemove}, ""},
		{"first occurrence counts", []string{OpGet, OpPatch}, ""},
		{"wrong order", []string{OpRemove, OpCreate}, "should be before"},
		{"missing op", []string{OpCreate, OpExpire}, "missing op: expire"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertTraceOrder(trace, Assertion{Ops: tt.ops})
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceCount(trace, Assertion{Op: OpGet, Count: 2}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Op: OpExpire, Count: 0}))

	err := assertTraceCount(trace, Assertion{Op: OpGet, Count: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 occurrences")
}

func TestAssertFinalState(t *testing.T) {
	actx := newAssertionContext(t)

	tests := []struct {
		name      string
		assertion Assertion
		wantErr   string
	}{
		{"subset match", Assertion{ID: "rec-0001", Expect: map[string]any{"name": "Ada"}}, ""},
		{"int matches stored number", Assertion{ID: "rec-0002", Expect: map[string]any{"age": 85.0}}, ""},
		{"nil matches missing field", Assertion{ID: "rec-0001", Expect: map[string]any{"city": nil}}, ""},
		{"value mismatch", Assertion{ID: "rec-0001", Expect: map[string]any{"age": 37}}, `field "age"`},
		{"missing field", Assertion{ID: "rec-0001", Expect: map[string]any{"city": "London"}}, `field "city" missing`},
		{"type mismatch", Assertion{ID: "rec-0001", Expect: map[string]any{"age": "36"}}, `field "age"`},
		{"missing record", Assertion{ID: "rec-0009", Expect: map[string]any{"name": "Ada"}}, "NotFound"},
		{"absent holds", Assertion{ID: "rec-0009", Absent: true}, ""},
		{"absent fails", Assertion{ID: "rec-0001", Absent: true}, "absent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertFinalState(actx, tt.assertion)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAssertFinalCount(t *testing.T) {
	actx := newAssertionContext(t)

	assert.NoError(t, assertFinalCount(actx, Assertion{Count: 2}))
	assert.NoError(t, assertFinalCount(actx, Assertion{Where: map[string]any{"age": map[string]any{"$gt": 50}}, Count: 1}))

	err := assertFinalCount(actx, Assertion{Where: map[string]any{"name": "Ada"}, Count: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 records where name=Ada")

	err = assertFinalCount(actx, Assertion{Where: map[string]any{"city": "Paris"}, Count: 0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "final_count query")
}

func TestEvaluateAssertions(t *testing.T) {
	actx := newAssertionContext(t)
	result := &Result{Trace: sampleTrace()}

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceContains, Op: OpCreate},
		{Type: AssertTraceOrder, Ops: []string{OpGet, OpRemove}},
		{Type: AssertTraceCount, Op: OpRemove, Count: 1},
		{Type: AssertFinalState, ID: "rec-0002", Expect: map[string]any{"name": "Grace"}},
		{Type: AssertFinalCount, Count: 2},
	}, actx)
	assert.Empty(t, errs)

	errs = EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceCount, Op: OpRemove, Count: 3},
		{Type: "trace_sorted"},
	}, actx)
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "assertions[0]")
	assert.Contains(t, errs[1], `unknown assertion type "trace_sorted"`)
}

func TestCheckExpect(t *testing.T) {
	ada := store.Record{"entityId": "rec-0001", "name": "Ada", "age": 36.0}
	grace := store.Record{"entityId": "rec-0002", "name": "Grace", "age": 85.0}
	ok := func(out any) TraceEvent { return TraceEvent{Outcome: OutcomeOK, Result: out} }

	tests := []struct {
		name   string
		expect *Expect
		event  TraceEvent
		want   []string
	}{
		{"nil expect ok", nil, ok(ada), nil},
		{"nil expect error", nil, TraceEvent{Outcome: "NotFound"}, []string{"expected success, got NotFound"}},
		{"error kind", &Expect{Error: "NotFound"}, TraceEvent{Outcome: "NotFound"}, nil},
		{"result subset", &Expect{Result: map[string]any{"age": 36}}, ok(ada), nil},
		{"result on list", &Expect{Result: map[string]any{"age": 36}}, ok([]store.Record{ada, grace}), []string{"result: expected one record, got 2"}},
		{"count", &Expect{Count: intPtr(2)}, ok([]store.Record{ada, grace}), nil},
		{"count mismatch", &Expect{Count: intPtr(1)}, ok(&adapter.Result{Data: []store.Record{ada, grace}}), []string{"count: expected 1, got 2"}},
		{"total", &Expect{Total: intPtr(7)}, ok(&adapter.Result{Paginated: true, Total: 7, Data: []store.Record{ada}}), nil},
		{"ids in order", &Expect{IDs: []string{"rec-0002", "rec-0001"}}, ok(&adapter.Result{Data: []store.Record{grace, ada}}), nil},
		{"ids mismatch", &Expect{IDs: []string{"rec-0001"}}, ok(&adapter.Result{Data: []store.Record{grace}}), []string{"ids: expected [rec-0001], got [rec-0002]"}},
		{"empty ids", &Expect{IDs: []string{}}, ok(&adapter.Result{}), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := checkExpect(Step{Expect: tt.expect}, tt.event, "entityId")
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, valuesEqual(36, 36.0))
	assert.True(t, valuesEqual("a", "a"))
	assert.True(t, valuesEqual(true, true))
	assert.True(t, valuesEqual([]any{"a", "b"}, []string{"a", "b"}))
	assert.True(t, valuesEqual(nil, nil))

	assert.False(t, valuesEqual(36, "36"))
	assert.False(t, valuesEqual([]any{"a"}, []string{"a", "b"}))
	assert.False(t, valuesEqual([]any{"a", "c"}, []any{"a", "b"}))
}

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     AssertTraceCount,
		Expected: "2 occurrences of get",
		Actual:   "1 occurrences",
		Trace:    []TraceEvent{{Seq: 1, Op: OpGet, ID: "rec-0001", Outcome: OutcomeOK}},
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: trace_count")
	assert.Contains(t, msg, "Expected: 2 occurrences of get")
	assert.Contains(t, msg, "Actual: 1 occurrences")
	assert.Contains(t, msg, "[1] get rec-0001 -> ok")
}

func TestFormatWhere(t *testing.T) {
	assert.Equal(t, "(no conditions)", formatWhere(nil))
	assert.Equal(t, "age=36 AND name=Ada", formatWhere(map[string]any{"name": "Ada", "age": 36}))
}
