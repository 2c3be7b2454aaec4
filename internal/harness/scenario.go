package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/recordkit/internal/adapter"
	"github.com/roach88/recordkit/internal/schema"
)

// Scenario is one adapter conformance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Backend selects the store: "memory" (default) or "sqlite".
	Backend string `yaml:"backend,omitempty"`

	// Schema is the inline collection schema.
	Schema *schema.Schema `yaml:"schema,omitempty"`

	// SchemaFile is a YAML or CUE schema path, relative to the scenario.
	SchemaFile string `yaml:"schema_file,omitempty"`

	// IDField overrides the identity field.
	IDField string `yaml:"id_field,omitempty"`

	// IDPrefix prefixes generated identities. Default: "rec".
	IDPrefix string `yaml:"id_prefix,omitempty"`

	// Expiration is the default TTL in seconds.
	Expiration *int `yaml:"expiration,omitempty"`

	// Multi lists operations allowed to take multiple records.
	Multi []string `yaml:"multi,omitempty"`

	// Paginate enables paged find results.
	Paginate *adapter.Paginate `yaml:"paginate,omitempty"`

	// Setup runs before the flow. Setup steps must succeed.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow is the main sequence of calls.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final trace and store.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one adapter call, or a clock advance.
type Step struct {
	// Op is create, get, find, update, patch, remove, expire or advance.
	Op string `yaml:"op"`

	// ID targets get, update, patch, remove and expire.
	ID string `yaml:"id,omitempty"`

	// Data is the payload: an object, or a list of objects for create.
	Data any `yaml:"data,omitempty"`

	// Query is the filter, including $limit, $skip, $select and $sort.
	Query map[string]any `yaml:"query,omitempty"`

	// Select is the field whitelist.
	Select []string `yaml:"select,omitempty"`

	// Refresh sets RefreshExpiration on update and patch.
	Refresh bool `yaml:"refresh,omitempty"`

	// NoPaginate disables pagination for a find.
	NoPaginate bool `yaml:"no_paginate,omitempty"`

	// Seconds is the TTL for expire or the duration for advance.
	Seconds int `yaml:"seconds,omitempty"`

	// Expect validates the outcome. Nil expects success.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect describes the expected outcome of a step.
type Expect struct {
	// Error is the expected error kind (e.g. "NotFound"). Empty expects
	// success.
	Error string `yaml:"error,omitempty"`

	// Result is a subset match against a single returned record.
	Result map[string]any `yaml:"result,omitempty"`

	// Count is the number of returned records.
	Count *int `yaml:"count,omitempty"`

	// Total is the paged find total.
	Total *int `yaml:"total,omitempty"`

	// IDs are the returned identities, in order.
	IDs []string `yaml:"ids,omitempty"`
}

// Assertion validates the trace or the final store contents.
type Assertion struct {
	// Type is trace_contains, trace_order, trace_count, final_state or
	// final_count.
	Type string `yaml:"type"`

	// Op is the operation (trace_contains, trace_count).
	Op string `yaml:"op,omitempty"`

	// Ops is the expected operation order (trace_order).
	Ops []string `yaml:"ops,omitempty"`

	// ID is the record identity (trace_contains, final_state).
	ID string `yaml:"id,omitempty"`

	// Expect is a subset match against the stored record (final_state).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Absent asserts the record does not exist (final_state).
	Absent bool `yaml:"absent,omitempty"`

	// Where filters the records counted (final_count).
	Where map[string]any `yaml:"where,omitempty"`

	// Count is the expected number (trace_count, final_count).
	Count int `yaml:"count,omitempty"`
}

// Step operations.
const (
	OpCreate  = "create"
	OpGet     = "get"
	OpFind    = "find"
	OpUpdate  = "update"
	OpPatch   = "patch"
	OpRemove  = "remove"
	OpExpire  = "expire"
	OpAdvance = "advance"
)

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertFinalCount    = "final_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// A schema_file is resolved relative to the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.SchemaFile != "" && !filepath.IsAbs(scenario.SchemaFile) {
		scenario.SchemaFile = filepath.Join(filepath.Dir(path), scenario.SchemaFile)
	}
	if err := scenario.resolveSchema(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return scenario, nil
}

// ParseScenario parses scenario YAML. A schema_file is left unresolved.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// resolveSchema loads SchemaFile into Schema.
func (s *Scenario) resolveSchema() error {
	if s.SchemaFile == "" {
		return nil
	}
	loaded, err := schema.LoadFile(s.SchemaFile)
	if err != nil {
		return fmt.Errorf("schema_file: %w", err)
	}
	s.Schema = loaded
	return nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	switch {
	case s.Schema == nil && s.SchemaFile == "":
		return fmt.Errorf("schema or schema_file is required")
	case s.Schema != nil && s.SchemaFile != "":
		return fmt.Errorf("schema and schema_file are mutually exclusive")
	}

	switch s.Backend {
	case "", "memory", "sqlite":
	default:
		return fmt.Errorf("unknown backend %q (want memory or sqlite)", s.Backend)
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	for i, step := range s.Setup {
		if err := validateStep(fmt.Sprintf("setup[%d]", i), step); err != nil {
			return err
		}
		if step.Expect != nil {
			return fmt.Errorf("setup[%d]: expect is not allowed in setup", i)
		}
	}
	for i, step := range s.Flow {
		if err := validateStep(fmt.Sprintf("flow[%d]", i), step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(where string, step Step) error {
	switch step.Op {
	case OpCreate:
		if step.Data == nil {
			return fmt.Errorf("%s: data is required for create", where)
		}
	case OpUpdate, OpPatch:
		if _, ok := step.Data.(map[string]any); !ok {
			return fmt.Errorf("%s: data must be an object for %s", where, step.Op)
		}
	case OpExpire:
		if step.ID == "" {
			return fmt.Errorf("%s: id is required for expire", where)
		}
	case OpAdvance:
		if step.Seconds <= 0 {
			return fmt.Errorf("%s: seconds must be positive for advance", where)
		}
	case OpGet, OpFind, OpRemove:
	case "":
		return fmt.Errorf("%s: op is required", where)
	default:
		return fmt.Errorf("%s: unknown op %q", where, step.Op)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertTraceContains:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for final_state", index)
		}
		if len(a.Expect) == 0 && !a.Absent {
			return fmt.Errorf("assertions[%d]: expect or absent is required for final_state", index)
		}
	case AssertFinalCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for final_count", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
