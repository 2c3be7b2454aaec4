// Package projection trims records to a field whitelist.
package projection

import "github.com/roach88/recordkit/internal/store"

// Select returns a copy of r holding only the fields in whitelist plus
// idField. A nil whitelist returns r unchanged; an empty, non-nil
// whitelist keeps only the identity.
func Select(r store.Record, whitelist []string, idField string) store.Record {
	if whitelist == nil || r == nil {
		return r
	}
	out := make(store.Record, len(whitelist)+1)
	for _, f := range whitelist {
		if v, ok := r[f]; ok {
			out[f] = v
		}
	}
	if v, ok := r[idField]; ok {
		out[idField] = v
	}
	return out
}

// SelectAll applies Select to every record.
func SelectAll(rs []store.Record, whitelist []string, idField string) []store.Record {
	if whitelist == nil {
		return rs
	}
	out := make([]store.Record, len(rs))
	for i, r := range rs {
		out[i] = Select(r, whitelist, idField)
	}
	return out
}
