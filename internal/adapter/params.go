package adapter

import (
	"encoding/json"

	"github.com/roach88/recordkit/internal/store"
)

// Paginate configures paged find results.
type Paginate struct {
	// Default is the page size used when the query has no $limit. Zero
	// disables pagination.
	Default int `yaml:"default" json:"default"`

	// Max caps $limit. Zero means no cap.
	Max int `yaml:"max" json:"max"`
}

// Params is the per-call options bag.
type Params struct {
	// Query is the wire filter, including $limit, $skip, $select and $sort.
	Query map[string]any

	// Paginate overrides the service pagination for this call.
	Paginate *Paginate

	// DisablePagination turns pagination off for this call.
	DisablePagination bool

	// Select is a field whitelist. It takes precedence over $select.
	Select []string

	// RefreshExpiration re-applies the default TTL on update and patch.
	RefreshExpiration bool

	// Provider names the caller's transport. It is only logged.
	Provider string
}

// Result is the outcome of Find: a bare list, or a page envelope when
// pagination is active.
type Result struct {
	Paginated bool
	Total     int
	Limit     int
	Skip      int
	Data      []store.Record
}

type envelope struct {
	Total int            `json:"total"`
	Limit int            `json:"limit"`
	Skip  int            `json:"skip"`
	Data  []store.Record `json:"data"`
}

// MarshalJSON renders the envelope {total, limit, skip, data} when
// paginated and a bare array otherwise.
func (r *Result) MarshalJSON() ([]byte, error) {
	data := r.Data
	if data == nil {
		data = []store.Record{}
	}
	if !r.Paginated {
		return json.Marshal(data)
	}
	return json.Marshal(envelope{Total: r.Total, Limit: r.Limit, Skip: r.Skip, Data: data})
}
