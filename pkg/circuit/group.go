package circuit

import "sync"

// Group lazily creates one Breaker per name, all sharing the same options.
type Group struct {
	mu       sync.Mutex
	opts     []Option
	breakers map[string]*Breaker
}

func NewGroup(opts ...Option) *Group {
	return &Group{opts: opts, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for name, creating it on first use.
func (g *Group) Get(name string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.breakers[name]
	if !ok {
		b = New(g.opts...)
		g.breakers[name] = b
	}
	return b
}

// States returns a snapshot of every known breaker state.
func (g *Group) States() map[string]State {
	g.mu.Lock()
	names := make(map[string]*Breaker, len(g.breakers))
	for k, v := range g.breakers {
		names[k] = v
	}
	g.mu.Unlock()

	out := make(map[string]State, len(names))
	for k, b := range names {
		out[k] = b.State()
	}
	return out
}
