package breaker

import (
	"sync"

	"github.com/rs/zerolog"
)

// Registry hands out one breaker per upstream name.
type Registry struct {
	cfg    Config
	logger zerolog.Logger
	hook   func(name string, from, to State)

	mu       sync.Mutex
	breakers map[string]*Breaker
}

func NewRegistry(cfg Config, logger zerolog.Logger) *Registry {
	return &Registry{
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
}

// SetStateChangeHook applies the hook to all current and future breakers.
// Call during wiring, before traffic.
func (r *Registry) SetStateChangeHook(hook func(name string, from, to State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hook = hook
	for _, b := range r.breakers {
		b.SetStateChangeHook(hook)
	}
}

func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := New(name, r.cfg, r.logger)
	if r.hook != nil {
		b.SetStateChangeHook(r.hook)
	}
	r.breakers[name] = b
	return b
}

// Snapshots returns the state of every breaker seen so far.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Snapshot())
	}
	return out
}
