package gate

import (
	"context"
	"sync"
)

// Navigation is a Navigator for headless shells. It records the last route
// and forwards it to an optional callback.
type Navigation struct {
	ready     chan struct{}
	readyOnce sync.Once

	mu       sync.Mutex
	last     *Route
	onRoute  func(context.Context, Route) error
	navCount int
}

// NewNavigation returns a Navigation that is not yet ready. onRoute may be nil.
func NewNavigation(onRoute func(context.Context, Route) error) *Navigation {
	return &Navigation{ready: make(chan struct{}), onRoute: onRoute}
}

// MarkReady signals that routes can be delivered. It is safe to call more
// than once.
func (n *Navigation) MarkReady() {
	n.readyOnce.Do(func() { close(n.ready) })
}

// Ready implements Navigator.
func (n *Navigation) Ready() <-chan struct{} {
	return n.ready
}

// Navigate implements Navigator.
func (n *Navigation) Navigate(ctx context.Context, route Route) error {
	n.mu.Lock()
	n.last = &route
	n.navCount++
	fn := n.onRoute
	n.mu.Unlock()

	if fn != nil {
		return fn(ctx, route)
	}
	return nil
}

// Last returns the most recent route.
func (n *Navigation) Last() (Route, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.last == nil {
		return Route{}, false
	}
	return *n.last, true
}

// Count reports how many routes were delivered.
func (n *Navigation) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.navCount
}
