// Package lifecycle tracks bot-authored messages and removes them once their TTL elapses.
package lifecycle

import (
	"sort"
	"sync"
	"time"

	"herald/pkg/herald"
)

// TestModeTTL is the lifetime of every registered message in test mode.
const TestModeTTL = 20 * time.Second

// FallbackTTL applies when no positive default is configured, e.g. autodelete
// enabled at runtime with AUTO_DELETE_SECONDS=0.
const FallbackTTL = 60 * time.Second

// TTLPolicy resolves how long a message kind stays in the chat.
type TTLPolicy struct {
	// Mode selects the fixed test lifetime when set to test.
	Mode herald.BotMode
	// Default applies to every kind without an override.
	Default time.Duration
	// Overrides holds per-kind lifetimes.
	Overrides map[herald.MessageKind]time.Duration
}

// TTLFor returns the lifetime of kind under p.
func (p TTLPolicy) TTLFor(kind herald.MessageKind) time.Duration {
	if p.Mode == herald.BotModeTest {
		return TestModeTTL
	}
	if ttl, ok := p.Overrides[kind]; ok && ttl > 0 {
		return ttl
	}
	if p.Default <= 0 {
		return FallbackTTL
	}

	return p.Default
}

// Entry is one registered message.
type Entry struct {
	MessageID    int
	Conversation herald.Conversation
	Kind         herald.MessageKind
	RegisteredAt time.Time
}

type record struct {
	registeredAt time.Time
	kind         herald.MessageKind
}

// Registry maps message ids to their registration time and kind.
//
// A parallel map keeps the owning conversation of each message id.
type Registry struct {
	clock func() time.Time

	mu     sync.Mutex
	policy TTLPolicy
	items  map[int]record
	chats  map[int]herald.Conversation
}

// RegistryOption mutates registry construction.
type RegistryOption func(*Registry)

// WithRegistryClock overrides the registration time source.
func WithRegistryClock(clock func() time.Time) RegistryOption {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewRegistry creates an empty registry governed by policy.
func NewRegistry(policy TTLPolicy, options ...RegistryOption) *Registry {
	registry := &Registry{
		clock:  time.Now,
		policy: policy,
		items:  make(map[int]record),
		chats:  make(map[int]herald.Conversation),
	}
	for _, option := range options {
		option(registry)
	}

	return registry
}

// Register records a sent message, overwriting any entry with the same id.
func (r *Registry) Register(messageID int, conversation herald.Conversation, kind herald.MessageKind) {
	now := r.clock()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[messageID] = record{registeredAt: now, kind: kind}
	r.chats[messageID] = conversation
}

// Expired snapshots the entries older than their kind's TTL at now, oldest first.
func (r *Registry) Expired(now time.Time) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	expired := make([]Entry, 0)
	for messageID, item := range r.items {
		if now.Sub(item.registeredAt) <= r.policy.TTLFor(item.kind) {
			continue
		}
		expired = append(expired, Entry{
			MessageID:    messageID,
			Conversation: r.chats[messageID],
			Kind:         item.kind,
			RegisteredAt: item.registeredAt,
		})
	}
	sort.Slice(expired, func(i, j int) bool {
		if expired[i].RegisteredAt.Equal(expired[j].RegisteredAt) {
			return expired[i].MessageID < expired[j].MessageID
		}
		return expired[i].RegisteredAt.Before(expired[j].RegisteredAt)
	})

	return expired
}

// RemoveEntry drops entry only if its message id still maps to the same registration.
// A message registered under the same id after entry was snapshotted is kept.
func (r *Registry) RemoveEntry(entry Entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, exists := r.items[entry.MessageID]
	if !exists || !item.registeredAt.Equal(entry.RegisteredAt) || item.kind != entry.Kind {
		return false
	}
	if r.chats[entry.MessageID].ID != entry.Conversation.ID {
		return false
	}
	delete(r.items, entry.MessageID)
	delete(r.chats, entry.MessageID)

	return true
}

// Contains reports whether messageID is registered.
func (r *Registry) Contains(messageID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.items[messageID]
	return exists
}

// CountByKind returns how many registered messages carry kind.
func (r *Registry) CountByKind(kind herald.MessageKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, item := range r.items {
		if item.kind == kind {
			count++
		}
	}

	return count
}

// Len returns the number of registered messages.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.items)
}

var _ herald.MessageRegistry = (*Registry)(nil)
