package backend

import (
	"log/slog"
)

// Entry is one backend in a bulk configuration.
type Entry struct {
	Addr   string
	Weight uint32
}

// Backend holds the live state of one backend server.
type Backend struct {
	Addr   string
	Weight uint32

	active uint32
}

// ActiveRequests returns the number of requests currently in flight on this
// backend.
func (b *Backend) ActiveRequests() uint32 {
	return b.active
}

// Registry is the ordered list of backends. The registry is owned by a
// single cooperative context; callbacks never run concurrently, so no
// locking is needed or taken.
type Registry struct {
	log      *slog.Logger
	backends []*Backend
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{log: log}
}

// Set replaces the whole backend list. Active-request counts start at zero
// for every entry.
func (r *Registry) Set(entries []Entry) {
	r.backends = r.backends[:0]
	for _, e := range entries {
		if e.Weight == 0 {
			r.log.Warn("backend added with zero weight, some algorithms will never select it",
				slog.String("addr", e.Addr))
		}
		r.backends = append(r.backends, &Backend{Addr: e.Addr, Weight: e.Weight})
	}
}

// Add registers a new backend, or updates the weight of an existing one.
// The active-request count of an existing backend is kept.
func (r *Registry) Add(addr string, weight uint32) {
	if weight == 0 {
		r.log.Warn("backend added with zero weight, some algorithms will never select it",
			slog.String("addr", addr))
	}
	if b := r.Find(addr); b != nil {
		r.log.Info("backend already registered, updating weight",
			slog.String("addr", addr),
			slog.Uint64("old_weight", uint64(b.Weight)),
			slog.Uint64("new_weight", uint64(weight)))
		b.Weight = weight
		return
	}
	r.backends = append(r.backends, &Backend{Addr: addr, Weight: weight})
}

// Find returns the backend with the given address, or nil.
func (r *Registry) Find(addr string) *Backend {
	for _, b := range r.backends {
		if b.Addr == addr {
			return b
		}
	}
	return nil
}

// All returns the backends in registration order. Callers must not mutate
// the slice.
func (r *Registry) All() []*Backend {
	return r.backends
}

func (r *Registry) Len() int {
	return len(r.backends)
}

// MarkSent increments the in-flight count for addr.
func (r *Registry) MarkSent(addr string) {
	b := r.Find(addr)
	if b == nil {
		r.log.Warn("request-sent notification for unknown backend", slog.String("addr", addr))
		return
	}
	b.active++
}

// MarkFinished decrements the in-flight count for addr, flooring at zero.
func (r *Registry) MarkFinished(addr string) {
	b := r.Find(addr)
	if b == nil {
		r.log.Warn("request-finished notification for unknown backend", slog.String("addr", addr))
		return
	}
	if b.active == 0 {
		r.log.Warn("active request count would go negative", slog.String("addr", addr))
		return
	}
	b.active--
}

// ActiveTotal sums the in-flight counts over all backends.
func (r *Registry) ActiveTotal() uint64 {
	var total uint64
	for _, b := range r.backends {
		total += uint64(b.active)
	}
	return total
}
