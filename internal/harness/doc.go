// Package harness runs record adapter scenarios.
//
// A scenario is a YAML file describing a collection, a sequence of adapter
// calls with their expected outcomes, and assertions over the resulting
// trace and the final store contents. Every scenario runs against a fresh
// backend with a fake clock and sequential identities, so its trace is
// byte-identical across runs and can be compared with a golden file.
//
// # Scenario Format
//
//	name: ttl_on_create
//	description: "Created records expire after the default TTL"
//	backend: memory            # memory (default) or sqlite
//	expiration: 30             # default TTL in seconds
//	multi: [create]
//	paginate: { default: 10, max: 50 }
//	schema:
//	  name: people
//	  fields:
//	    - { name: name, type: string }
//	    - { name: age, type: number, sortable: true }
//	setup:
//	  - op: create
//	    data: { name: Ada, age: 36 }
//	flow:
//	  - op: advance
//	    seconds: 31
//	  - op: get
//	    id: rec-0001
//	    expect: { error: NotFound }
//	assertions:
//	  - type: final_count
//	    count: 0
//
// Operations: create, get, find, update, patch, remove, expire, advance.
// A schema may be given inline or as schema_file, a YAML or CUE path
// relative to the scenario.
//
// # Assertion Types
//
//   - trace_contains: an operation (optionally on an id) appears in the trace
//   - trace_order: operations appear in the given order
//   - trace_count: an operation appears exactly N times
//   - final_state: the record with id exists and matches expect, or is absent
//   - final_count: the number of live records matching where
package harness
