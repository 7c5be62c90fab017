// Package features holds the in-memory feature toggles and admin access policy.
package features

import (
	"strconv"
	"sync"

	"herald/pkg/herald"
)

// Flags is the process-wide toggle state. It is not persisted.
type Flags struct {
	mu     sync.RWMutex
	states map[herald.Feature]bool
}

// NewFlags creates flags with the given initial states; unspecified features start enabled.
func NewFlags(initial map[herald.Feature]bool) *Flags {
	states := make(map[herald.Feature]bool, len(herald.Features()))
	for _, feature := range herald.Features() {
		enabled, ok := initial[feature]
		states[feature] = !ok || enabled
	}

	return &Flags{states: states}
}

// Enabled reports the current state of feature.
func (f *Flags) Enabled(feature herald.Feature) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.states[feature]
}

// Toggle flips feature and returns its new state.
func (f *Flags) Toggle(feature herald.Feature) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.states[feature] = !f.states[feature]
	return f.states[feature]
}

// Snapshot returns a copy of every state.
func (f *Flags) Snapshot() map[herald.Feature]bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	snapshot := make(map[herald.Feature]bool, len(f.states))
	for feature, enabled := range f.states {
		snapshot[feature] = enabled
	}

	return snapshot
}

// Policy answers admin and allowed-chat questions from configured id sets.
type Policy struct {
	admins map[int64]struct{}
	chats  map[int64]struct{}
}

// NewPolicy builds a policy. An empty chat set allows every chat; an empty admin set admits nobody.
func NewPolicy(adminIDs, allowedChatIDs []int64) *Policy {
	return &Policy{
		admins: toSet(adminIDs),
		chats:  toSet(allowedChatIDs),
	}
}

// IsAdmin reports whether userID is a configured admin.
func (p *Policy) IsAdmin(userID string) bool {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return false
	}
	_, ok := p.admins[id]
	return ok
}

// ChatAllowed reports whether the bot serves conversationID.
func (p *Policy) ChatAllowed(conversationID string) bool {
	if len(p.chats) == 0 {
		return true
	}
	id, err := strconv.ParseInt(conversationID, 10, 64)
	if err != nil {
		return false
	}
	_, ok := p.chats[id]
	return ok
}

func toSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}

	return set
}

var (
	_ herald.FeatureFlags = (*Flags)(nil)
	_ herald.AccessPolicy = (*Policy)(nil)
)
