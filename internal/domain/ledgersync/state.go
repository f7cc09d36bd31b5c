package ledgersync

import (
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"homeledger/internal/shared/principal"
)

const (
	DefaultStateTTL = 10 * time.Minute
	stateCacheSize  = 1024
)

// StateCache holds pending authorization states. A state can be redeemed
// once and expires after the TTL.
type StateCache struct {
	states *expirable.LRU[string, principal.Principal]
}

func NewStateCache(ttl time.Duration) *StateCache {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateCache{states: expirable.NewLRU[string, principal.Principal](stateCacheSize, nil, ttl)}
}

// Issue creates a new random state bound to p.
func (c *StateCache) Issue(p principal.Principal) string {
	state := uuid.NewString()
	c.states.Add(state, p)
	return state
}

// Redeem returns the principal bound to state and forgets the state. Of
// several concurrent redeems of one state only the one that removes it wins.
func (c *StateCache) Redeem(state string) (principal.Principal, bool) {
	p, ok := c.states.Peek(state)
	if !ok || !c.states.Remove(state) {
		return principal.Principal{}, false
	}
	return p, true
}
