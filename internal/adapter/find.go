package adapter

import (
	"context"

	"github.com/roach88/recordkit/internal/projection"
	"github.com/roach88/recordkit/internal/query"
	"github.com/roach88/recordkit/internal/store"
)

// Find returns the records matching params.Query.
//
// Pagination is active when a Paginate with a positive Default applies
// (params.Paginate, else the service's) and the call did not disable it.
// Paged results carry the total match count; $limit defaults to
// Paginate.Default and is capped at Paginate.Max.
//
// Without pagination, $limit and $skip slice the full result: limit only
// returns the first page, skip only returns everything from skip on, and
// neither returns all matches.
//
// A $limit of zero returns no records and never touches the store, paged
// or not. A paged result then reports a Total of zero.
func (s *Service) Find(ctx context.Context, params Params) (*Result, error) {
	q, d, err := query.Parse(params.Query)
	if err != nil {
		return nil, err
	}
	selected := s.selection(params, d)
	s.logger.Debug("find", "collection", s.schema.Name, "provider", params.Provider)

	if p := s.pagination(params); p != nil {
		return s.findPage(ctx, q, d, p, selected)
	}

	if d.Limit != nil && *d.Limit == 0 {
		return &Result{Data: []store.Record{}}, nil
	}

	search, err := s.search(q)
	if err != nil {
		return nil, err
	}

	var records []store.Record
	switch {
	case d.Limit != nil:
		skip := 0
		if d.Skip != nil {
			skip = *d.Skip
		}
		records, err = search.Page(ctx, skip, *d.Limit)
	case d.Skip != nil:
		var total int
		total, err = search.Count(ctx)
		if err != nil {
			return nil, query.NormalizeError(err)
		}
		if *d.Skip >= total {
			records = []store.Record{}
			break
		}
		records, err = search.Page(ctx, *d.Skip, total-*d.Skip)
	default:
		records, err = search.All(ctx)
	}
	if err != nil {
		return nil, query.NormalizeError(err)
	}
	return &Result{Data: projection.SelectAll(records, selected, s.idField)}, nil
}

// findPage runs a paginated find.
func (s *Service) findPage(ctx context.Context, q *query.Query, d query.Directives, p *Paginate, selected []string) (*Result, error) {
	limit := p.Default
	if d.Limit != nil {
		limit = *d.Limit
	}
	if p.Max > 0 && limit > p.Max {
		limit = p.Max
	}
	skip := 0
	if d.Skip != nil {
		skip = *d.Skip
	}
	if limit == 0 {
		return &Result{Paginated: true, Skip: skip, Data: []store.Record{}}, nil
	}

	search, err := s.search(q)
	if err != nil {
		return nil, err
	}
	total, err := search.Count(ctx)
	if err != nil {
		return nil, query.NormalizeError(err)
	}

	result := &Result{Paginated: true, Total: total, Limit: limit, Skip: skip, Data: []store.Record{}}
	if skip >= total {
		return result, nil
	}
	records, err := search.Page(ctx, skip, limit)
	if err != nil {
		return nil, query.NormalizeError(err)
	}
	result.Data = projection.SelectAll(records, selected, s.idField)
	return result, nil
}

// pagination returns the effective pagination, or nil when inactive.
func (s *Service) pagination(params Params) *Paginate {
	if params.DisablePagination {
		return nil
	}
	p := params.Paginate
	if p == nil {
		p = s.paginate
	}
	if p == nil || p.Default <= 0 {
		return nil
	}
	return p
}

// selection returns the field whitelist: params.Select, else $select.
func (s *Service) selection(params Params, d query.Directives) []string {
	if params.Select != nil {
		return params.Select
	}
	return d.Select
}

// search starts a backend search with q applied.
func (s *Service) search(q *query.Query) (store.Search, error) {
	search := s.backend.Search()
	if err := query.Translate(q, search); err != nil {
		return nil, err
	}
	return search, nil
}
