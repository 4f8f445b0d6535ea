package dispatch

import "sync"

// claimRegistry hands out per-position exclusive claims. It is the only
// exclusive lock in the engine: a claim must be held across the whole
// broker round-trip so two triggers racing for the same position produce
// exactly one close order.
type claimRegistry struct {
	mu   sync.Mutex
	held map[int64]struct{}
}

func newClaimRegistry() *claimRegistry {
	return &claimRegistry{held: make(map[int64]struct{})}
}

// TryClaim acquires the claim for a position id. It never blocks; the
// losing trigger observes false and no-ops.
func (c *claimRegistry) TryClaim(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, taken := c.held[id]; taken {
		return false
	}
	c.held[id] = struct{}{}
	return true
}

// Release frees the claim. Safe to call for an unheld id.
func (c *claimRegistry) Release(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.held, id)
}

// Held reports whether a claim is currently taken. Used by tests.
func (c *claimRegistry) Held(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, taken := c.held[id]
	return taken
}
