package tedapi

import (
	"sync"
	"time"
)

// DefaultCooldown is the backoff window opened by a 429 reply.
const DefaultCooldown = 5 * time.Minute

// Governor suspends outbound gateway requests after the gateway signals
// overload. The window is fixed; a repeated trip only moves the end forward.
type Governor struct {
	mu    sync.Mutex
	until time.Time
	now   func() time.Time
}

// NewGovernor creates a governor with no active cooldown.
func NewGovernor() *Governor {
	return &Governor{now: time.Now}
}

// Allowed reports whether a gateway request may be issued now.
func (g *Governor) Allowed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.now().Before(g.until)
}

// Trip opens a cooldown window of d starting now.
func (g *Governor) Trip(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.until = g.now().Add(d)
}

// Reset clears any active cooldown.
func (g *Governor) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.until = time.Time{}
}

// Until returns the end of the current cooldown window. The zero time means
// no cooldown has been tripped.
func (g *Governor) Until() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.until
}
