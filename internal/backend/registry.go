package backend

import "context"

// Registry holds the fixed adapter set, built once at startup and read-only
// afterwards.
type Registry struct {
	order    []ID
	adapters map[ID]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[ID]Adapter, len(adapters))}
	for _, a := range adapters {
		r.order = append(r.order, a.ID())
		r.adapters[a.ID()] = a
	}
	return r
}

func (r *Registry) Get(id ID) (Adapter, bool) {
	a, ok := r.adapters[id]
	return a, ok
}

func (r *Registry) IDs() []ID {
	out := make([]ID, len(r.order))
	copy(out, r.order)
	return out
}

type Info struct {
	ID     ID        `json:"id"`
	Kind   StoreKind `json:"kind"`
	Status string    `json:"status"`
}

func (r *Registry) Describe(ctx context.Context) []Info {
	infos := make([]Info, 0, len(r.order))
	for _, id := range r.order {
		a := r.adapters[id]
		status := "connected"
		if err := a.Ping(ctx); err != nil {
			status = "unreachable"
		}
		infos = append(infos, Info{ID: id, Kind: a.Kind(), Status: status})
	}
	return infos
}

func (r *Registry) Close(ctx context.Context) {
	for _, id := range r.order {
		r.adapters[id].Close(ctx)
	}
}
