package search

import "sync"

// InFlightGuard tracks origins that have a batch request running.
type InFlightGuard struct {
	mu  sync.Mutex
	set map[int64]struct{}
}

func NewInFlightGuard() *InFlightGuard {
	return &InFlightGuard{set: map[int64]struct{}{}}
}

// TryEnter marks origin busy. It returns false if origin was already busy.
func (g *InFlightGuard) TryEnter(origin int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.set[origin]; busy {
		return false
	}
	g.set[origin] = struct{}{}
	return true
}

func (g *InFlightGuard) Exit(origin int64) {
	g.mu.Lock()
	delete(g.set, origin)
	g.mu.Unlock()
}

func (g *InFlightGuard) Busy(origin int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.set[origin]
	return busy
}
