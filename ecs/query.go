package ecs

import (
	"slices"
	"sort"

	"github.com/rotisserie/eris"
)

// QueryHandle identifies a query defined on a World.
type QueryHandle uint32

// QueryResult is the buffered outcome of one evaluation. All three slices are
// in ascending entity index order and are not modified afterwards.
type QueryResult struct {
	Current []EntityId
	Enter   []EntityId
	Exit    []EntityId
}

type queryState struct {
	signature []ComponentId
	previous  []EntityId
	result    QueryResult
	evaluated bool
	frame     uint64
}

// Define registers a query over the given components. Duplicate components
// are collapsed; unknown components make the signature invalid.
func (w *World) Define(signature ...ComponentId) (QueryHandle, error) {
	if len(signature) == 0 {
		return 0, eris.Wrap(ErrInvalidSignature, "empty query signature")
	}

	sig := make([]ComponentId, 0, len(signature))
	for _, cid := range signature {
		if _, ok := w.registry.Schema(cid); !ok {
			return 0, eris.Wrapf(ErrInvalidSignature, "component id %d is not registered", cid)
		}
		if !slices.Contains(sig, cid) {
			sig = append(sig, cid)
		}
	}

	w.queries = append(w.queries, &queryState{signature: sig})
	return QueryHandle(len(w.queries) - 1), nil
}

// DefineNames is Define with components resolved by name.
func (w *World) DefineNames(names ...string) (QueryHandle, error) {
	sig := make([]ComponentId, 0, len(names))
	for _, name := range names {
		cid, ok := w.registry.Lookup(name)
		if !ok {
			return 0, eris.Wrapf(ErrInvalidSignature, "component %q is not registered", name)
		}
		sig = append(sig, cid)
	}
	return w.Define(sig...)
}

// Signature returns the components a query requires.
func (w *World) Signature(h QueryHandle) ([]ComponentId, error) {
	q, err := w.query(h)
	if err != nil {
		return nil, err
	}
	return slices.Clone(q.signature), nil
}

func (w *World) query(h QueryHandle) (*queryState, error) {
	if int(h) >= len(w.queries) {
		return nil, eris.Wrapf(ErrNotFound, "query handle %d", h)
	}
	return w.queries[h], nil
}

// Evaluate recomputes the matching set of a query and its delta against the
// previous evaluation. Within one frame only the first call computes; later
// calls return the same buffered result so the delta is never lost.
func (w *World) Evaluate(h QueryHandle) (QueryResult, error) {
	q, err := w.query(h)
	if err != nil {
		return QueryResult{}, err
	}
	if q.evaluated && q.frame == w.frame {
		return q.result, nil
	}

	current := w.intersect(q.signature)
	enter, exit := diff(q.previous, current)

	q.result = QueryResult{Current: current, Enter: enter, Exit: exit}
	q.previous = current
	q.evaluated = true
	q.frame = w.frame
	return q.result, nil
}

// intersect walks the smallest table and probes the rest.
func (w *World) intersect(signature []ComponentId) []EntityId {
	tables := make([]*Table, 0, len(signature))
	for _, cid := range signature {
		t := w.Table(cid)
		if t == nil || t.Len() == 0 {
			return nil
		}
		tables = append(tables, t)
	}
	sort.SliceStable(tables, func(i, j int) bool {
		return tables[i].Len() < tables[j].Len()
	})

	matches := make([]EntityId, 0, tables[0].Len())
outer:
	for id := range tables[0].Entities() {
		for _, t := range tables[1:] {
			if !t.Has(id) {
				continue outer
			}
		}
		matches = append(matches, id)
	}
	return matches
}

// diff merges two index-ordered sets. An index whose occupant changed counts
// as an exit of the old id and an enter of the new one.
func diff(previous, current []EntityId) (enter, exit []EntityId) {
	i, j := 0, 0
	for i < len(previous) && j < len(current) {
		p, c := previous[i], current[j]
		switch {
		case p.Index() < c.Index():
			exit = append(exit, p)
			i++
		case p.Index() > c.Index():
			enter = append(enter, c)
			j++
		default:
			if p != c {
				exit = append(exit, p)
				enter = append(enter, c)
			}
			i++
			j++
		}
	}
	exit = append(exit, previous[i:]...)
	enter = append(enter, current[j:]...)
	return enter, exit
}

// Query binds a query handle to its world.
type Query struct {
	world  *World
	handle QueryHandle
}

// NewQuery defines a query over the given components.
func NewQuery(w *World, signature ...ComponentId) (*Query, error) {
	h, err := w.Define(signature...)
	if err != nil {
		return nil, err
	}
	return &Query{world: w, handle: h}, nil
}

// Handle returns the underlying query handle.
func (q *Query) Handle() QueryHandle {
	return q.handle
}

// Evaluate evaluates the query for the current frame.
func (q *Query) Evaluate() (QueryResult, error) {
	return q.world.Evaluate(q.handle)
}
