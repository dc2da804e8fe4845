package scope

import "github.com/nine5427/memengine/internal/domain/memengine/manager"

// Registry holds Views in a slice and vends index-based handles. This is
// the "use indices into a slice held by the driver" alternative the scope
// tree's cyclic-reference design note calls out for when a raw parent
// pointer would be awkward — the demo CLI uses it to build a scope tree
// without tracking individual *View values.
type Registry struct {
	views []*View
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Create registers a new View under the given parent index (-1 for a
// top-level scope) and returns its index.
func (r *Registry) Create(state State, mgr *manager.Manager, parentIdx int) int {
	var parent *View
	if parentIdx >= 0 && parentIdx < len(r.views) {
		parent = r.views[parentIdx]
	}
	r.views = append(r.views, New(state, mgr, parent))
	return len(r.views) - 1
}

// Get returns the View at idx, or nil if out of range.
func (r *Registry) Get(idx int) *View {
	if idx < 0 || idx >= len(r.views) {
		return nil
	}
	return r.views[idx]
}

// Len returns the number of registered views.
func (r *Registry) Len() int {
	return len(r.views)
}
