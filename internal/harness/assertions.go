package harness

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/recordkit/internal/adapter"
	"github.com/roach88/recordkit/internal/apperr"
	"github.com/roach88/recordkit/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s -> %s\n", event.Seq, event.Op, event.ID, event.Outcome)
		}
	}

	return buf.String()
}

// AssertionContext gives final-state assertions access to the adapter.
type AssertionContext struct {
	Service *adapter.Service
	Ctx     context.Context
}

// EvaluateAssertions runs every assertion and returns the failure
// messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertFinalState:
			err = assertFinalState(actx, a)
		case AssertFinalCount:
			err = assertFinalCount(actx, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

// assertTraceContains checks that the trace has a step with the op and,
// when given, the id.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if event.Op == assertion.Op && (assertion.ID == "" || event.ID == assertion.ID) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("%s %s", assertion.Op, assertion.ID),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that ops first appear in the given order.
// Intervening steps are allowed.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for _, event := range trace {
		if positions[event.Op] == 0 {
			positions[event.Op] = event.Seq
		}
	}

	for _, op := range assertion.Ops {
		if positions[op] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all ops present: %v", assertion.Ops),
				Actual:   fmt.Sprintf("missing op: %s", op),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Ops); i++ {
		prev, curr := assertion.Ops[i-1], assertion.Ops[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("ops in order: %v", assertion.Ops),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks that op appears exactly Count times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Op == assertion.Op {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Op),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}

	return nil
}

// assertFinalState fetches the record and checks it (subset semantics) or
// its absence.
func assertFinalState(actx *AssertionContext, assertion Assertion) error {
	r, err := actx.Service.Get(actx.Ctx, assertion.ID, adapter.Params{})
	if assertion.Absent {
		if apperr.IsNotFound(err) {
			return nil
		}
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("record %s absent", assertion.ID),
			Actual:   fmt.Sprintf("found %v", r),
		}
	}
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("record %s", assertion.ID),
			Actual:   err.Error(),
		}
	}
	if msg := matchSubset(assertion.Expect, r); msg != "" {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("record %s matching %v", assertion.ID, assertion.Expect),
			Actual:   msg,
		}
	}
	return nil
}

// assertFinalCount counts the live records matching Where.
func assertFinalCount(actx *AssertionContext, assertion Assertion) error {
	res, err := actx.Service.Find(actx.Ctx, adapter.Params{Query: assertion.Where, DisablePagination: true})
	if err != nil {
		return fmt.Errorf("final_count query: %w", err)
	}
	if len(res.Data) != assertion.Count {
		return &AssertionError{
			Type:     AssertFinalCount,
			Expected: fmt.Sprintf("%d records where %s", assertion.Count, formatWhere(assertion.Where)),
			Actual:   fmt.Sprintf("%d records", len(res.Data)),
		}
	}
	return nil
}

// checkExpect validates one flow step against its expect clause and
// returns the mismatches.
func checkExpect(step Step, event TraceEvent, idField string) []string {
	exp := step.Expect
	if exp == nil {
		if event.Outcome != OutcomeOK {
			return []string{fmt.Sprintf("expected success, got %s", event.Outcome)}
		}
		return nil
	}

	want := exp.Error
	if want == "" {
		want = OutcomeOK
	}
	if event.Outcome != want {
		return []string{fmt.Sprintf("expected %s, got %s", want, event.Outcome)}
	}
	if event.Outcome != OutcomeOK {
		return nil
	}

	var msgs []string
	records, total, paged := unpack(event.Result)

	if exp.Result != nil {
		if len(records) != 1 {
			msgs = append(msgs, fmt.Sprintf("result: expected one record, got %d", len(records)))
		} else if msg := matchSubset(exp.Result, records[0]); msg != "" {
			msgs = append(msgs, "result: "+msg)
		}
	}
	if exp.Count != nil && len(records) != *exp.Count {
		msgs = append(msgs, fmt.Sprintf("count: expected %d, got %d", *exp.Count, len(records)))
	}
	if exp.Total != nil {
		switch {
		case !paged:
			msgs = append(msgs, "total: result is not paginated")
		case total != *exp.Total:
			msgs = append(msgs, fmt.Sprintf("total: expected %d, got %d", *exp.Total, total))
		}
	}
	if exp.IDs != nil {
		got := make([]string, len(records))
		for i, r := range records {
			got[i] = fmt.Sprint(r[idField])
		}
		if !reflect.DeepEqual(exp.IDs, got) {
			msgs = append(msgs, fmt.Sprintf("ids: expected %v, got %v", exp.IDs, got))
		}
	}
	return msgs
}

// unpack flattens a step result into records.
func unpack(out any) (records []store.Record, total int, paged bool) {
	switch v := out.(type) {
	case store.Record:
		return []store.Record{v}, 1, false
	case []store.Record:
		return v, len(v), false
	case *adapter.Result:
		return v.Data, v.Total, v.Paginated
	}
	return nil, 0, false
}

// matchSubset checks every expected field against actual and returns a
// description of the first mismatch, or "".
func matchSubset(expected map[string]any, actual store.Record) string {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		want := expected[k]
		got, ok := actual[k]
		if !ok {
			if want == nil {
				continue
			}
			return fmt.Sprintf("field %q missing", k)
		}
		if !valuesEqual(want, got) {
			return fmt.Sprintf("field %q = %v (type %T), want %v (type %T)", k, got, got, want, want)
		}
	}
	return ""
}

// valuesEqual compares scalars by value (so YAML ints equal stored
// floats) and everything else structurally.
func valuesEqual(want, got any) bool {
	if store.Equal(want, got) {
		return true
	}
	wl, wok := want.([]any)
	gl, gok := store.Normalize(got).([]any)
	if wok && gok {
		if len(wl) != len(gl) {
			return false
		}
		for i := range wl {
			if !valuesEqual(wl[i], gl[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(want, got)
}

// formatWhere creates a human-readable description of a filter.
func formatWhere(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}
