package cockpit

import (
	"sync"

	"github.com/atinyakov/koracockpit/internal/models"
)

type identity struct {
	userID   string
	regionID string
	role     models.Role
}

// Coordinator hands out a refresh key that views compare against the key
// of the data they hold. The value itself means nothing; only changes do.
type Coordinator struct {
	mu   sync.Mutex
	key  uint64
	seen bool
	last identity
}

// Key returns the current refresh key.
func (c *Coordinator) Key() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key
}

// Bump advances the key and returns the new value.
func (c *Coordinator) Bump() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key++
	return c.key
}

// Observe bumps the key the first time it is called and whenever the
// user, region or role differs from the previous call.
func (c *Coordinator) Observe(userID, regionID string, role models.Role) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := identity{userID: userID, regionID: regionID, role: role}
	if c.seen && next == c.last {
		return false
	}
	c.seen = true
	c.last = next
	c.key++
	return true
}
