package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/recordkit/internal/adapter"
	"github.com/roach88/recordkit/internal/apperr"
	"github.com/roach88/recordkit/internal/store"
	"github.com/roach88/recordkit/internal/store/memory"
	"github.com/roach88/recordkit/internal/store/sqlite"
	"github.com/roach88/recordkit/internal/testutil"
)

// DefaultIDPrefix prefixes generated identities: rec-0001, rec-0002, ...
const DefaultIDPrefix = "rec"

// Harness executes one scenario.
type Harness struct {
	service *adapter.Service
	backend store.Backend
	clock   *testutil.FakeClock
	logger  *slog.Logger
}

// Option configures Run.
type Option func(*runConfig)

type runConfig struct {
	logger  *slog.Logger
	backend string
}

// WithLogger sets the logger passed to the backend and adapter.
// Default: a logger that discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(c *runConfig) {
		c.logger = l
	}
}

// WithBackend runs the scenario against backend instead of the one it
// names. Traces are backend independent, so golden files still apply.
func WithBackend(backend string) Option {
	return func(c *runConfig) {
		c.backend = backend
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh backend (in-memory SQLite for
// "sqlite") with a fake clock starting at testutil.Epoch and sequential
// identities.
//
// Execution flow:
//  1. Open the backend and build the adapter (index included)
//  2. Execute setup steps; any failure aborts the run
//  3. Execute flow steps, checking expect clauses
//  4. Evaluate assertions
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&cfg)
	}
	ctx := context.Background()

	if scenario.Schema == nil {
		if err := scenario.resolveSchema(); err != nil {
			return nil, err
		}
	}

	backend := scenario.Backend
	if cfg.backend != "" {
		backend = cfg.backend
	}
	h, err := newHarness(ctx, scenario, backend, cfg.logger)
	if err != nil {
		return nil, err
	}
	defer h.backend.Close()

	result := NewResult()
	for i, step := range scenario.Setup {
		event := h.execute(ctx, step)
		result.AddTrace(event)
		if event.Outcome != OutcomeOK {
			return nil, fmt.Errorf("setup step %d (%s): failed with %s", i, step.Op, event.Outcome)
		}
	}

	for i, step := range scenario.Flow {
		event := h.execute(ctx, step)
		result.AddTrace(event)
		for _, msg := range checkExpect(step, event, h.service.IDField()) {
			result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, step.Op, msg))
		}
	}

	actx := &AssertionContext{Service: h.service, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}

func newHarness(ctx context.Context, scenario *Scenario, backendName string, logger *slog.Logger) (*Harness, error) {
	clock := testutil.NewFakeClock(testutil.Epoch)

	var backend store.Backend
	switch backendName {
	case "", "memory":
		backend = memory.New(memory.WithClock(clock), memory.WithLogger(logger))
	case "sqlite":
		b, err := sqlite.Open(":memory:", sqlite.WithClock(clock), sqlite.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory store: %w", err)
		}
		backend = b
	default:
		return nil, fmt.Errorf("unknown backend %q", backendName)
	}

	prefix := scenario.IDPrefix
	if prefix == "" {
		prefix = DefaultIDPrefix
	}
	opts := []adapter.Option{
		adapter.WithIDGenerator(testutil.NewSequentialIDs(prefix)),
		adapter.WithLogger(logger),
		adapter.WithMulti(scenario.Multi...),
		adapter.WithPaginate(scenario.Paginate),
	}
	if scenario.IDField != "" {
		opts = append(opts, adapter.WithIDField(scenario.IDField))
	}
	if scenario.Expiration != nil {
		opts = append(opts, adapter.WithExpiration(*scenario.Expiration))
	}

	svc, err := adapter.New(ctx, backend, scenario.Schema, opts...)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to build adapter: %w", err)
	}
	return &Harness{service: svc, backend: backend, clock: clock, logger: logger}, nil
}

// execute runs one step and records its outcome.
func (h *Harness) execute(ctx context.Context, step Step) TraceEvent {
	event := TraceEvent{Op: step.Op, ID: step.ID}
	params := adapter.Params{
		Query:             step.Query,
		Select:            step.Select,
		RefreshExpiration: step.Refresh,
		DisablePagination: step.NoPaginate,
		Provider:          "harness",
	}

	var out any
	var err error
	switch step.Op {
	case OpCreate:
		out, err = h.service.CreateAny(ctx, step.Data, params)
	case OpGet:
		out, err = h.service.Get(ctx, step.ID, params)
	case OpFind:
		out, err = h.service.Find(ctx, params)
	case OpUpdate:
		out, err = h.service.Update(ctx, step.ID, record(step.Data), params)
	case OpPatch:
		out, err = h.service.Patch(ctx, step.ID, record(step.Data), params)
	case OpRemove:
		out, err = h.service.Remove(ctx, step.ID, params)
	case OpExpire:
		event.Seconds = step.Seconds
		err = h.service.Expire(ctx, step.ID, step.Seconds)
	case OpAdvance:
		event.Seconds = step.Seconds
		h.clock.Advance(time.Duration(step.Seconds) * time.Second)
	default:
		err = fmt.Errorf("unknown op %q", step.Op)
	}

	event.Outcome = outcome(err)
	if err == nil {
		event.Result = out
	} else {
		h.logger.Debug("step failed", "op", step.Op, "id", step.ID, "error", err)
	}
	return event
}

func outcome(err error) string {
	if err == nil {
		return OutcomeOK
	}
	if kind := apperr.KindOf(err); kind != "" {
		return string(kind)
	}
	return "Error"
}

func record(data any) store.Record {
	if m, ok := data.(map[string]any); ok {
		return store.Record(m)
	}
	return store.Record{}
}
