package lifecycle

import (
	"sync"
	"testing"
	"time"

	"herald/pkg/herald"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(delta time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(delta)
	c.mu.Unlock()
}

var testChat = herald.Conversation{ID: "-1001", Type: herald.ConversationTypeSupergroup}

func TestTTLPolicyTTLFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		policy TTLPolicy
		kind   herald.MessageKind
		want   time.Duration
	}{
		{
			name:   "test mode ignores configuration",
			policy: TTLPolicy{Mode: herald.BotModeTest, Default: time.Hour},
			kind:   herald.MessageKindAdmin,
			want:   TestModeTTL,
		},
		{
			name:   "prod uses default for every kind",
			policy: TTLPolicy{Mode: herald.BotModeProd, Default: time.Minute},
			kind:   herald.MessageKindStorageUser,
			want:   time.Minute,
		},
		{
			name: "prod override",
			policy: TTLPolicy{
				Mode:      herald.BotModeProd,
				Default:   time.Minute,
				Overrides: map[herald.MessageKind]time.Duration{herald.MessageKindWelcome: 3 * time.Minute},
			},
			kind: herald.MessageKindWelcome,
			want: 3 * time.Minute,
		},
		{
			name:   "zero default falls back",
			policy: TTLPolicy{Mode: herald.BotModeProd},
			kind:   herald.MessageKindAbout,
			want:   FallbackTTL,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if got := testCase.policy.TTLFor(testCase.kind); got != testCase.want {
				t.Fatalf("ttl = %s, want %s", got, testCase.want)
			}
		})
	}
}

func TestRegistryRegisterOverwrites(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(TTLPolicy{Default: time.Minute})
	registry.Register(10, testChat, herald.MessageKindWelcome)
	other := herald.Conversation{ID: "-1002", Type: herald.ConversationTypeSupergroup}
	registry.Register(10, other, herald.MessageKindRules)

	if registry.Len() != 1 {
		t.Fatalf("len = %d, want 1", registry.Len())
	}
	if registry.CountByKind(herald.MessageKindWelcome) != 0 || registry.CountByKind(herald.MessageKindRules) != 1 {
		t.Fatal("overwrite did not replace kind")
	}
}

func TestRegistryResolvesKindOverrideAtSweepTime(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	registry := NewRegistry(TTLPolicy{
		Mode:      herald.BotModeProd,
		Default:   time.Hour,
		Overrides: map[herald.MessageKind]time.Duration{herald.MessageKindRules: time.Minute},
	}, WithRegistryClock(clock.Now))
	registry.Register(1, testChat, herald.MessageKindAbout)
	registry.Register(2, testChat, herald.MessageKindRules)

	clock.Advance(time.Minute + time.Second)
	expired := registry.Expired(clock.Now())
	if len(expired) != 1 || expired[0].MessageID != 2 || expired[0].Conversation != testChat {
		t.Fatalf("expired = %+v, want only the rules message", expired)
	}
}

func TestRegistryRemoveEntryKeepsNewerRegistration(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	registry := NewRegistry(TTLPolicy{Default: time.Second}, WithRegistryClock(clock.Now))
	otherChat := herald.Conversation{ID: "-1002", Type: herald.ConversationTypeSupergroup}

	registry.Register(77, testChat, herald.MessageKindWelcome)
	clock.Advance(2 * time.Second)
	stale := registry.Expired(clock.Now())
	if len(stale) != 1 {
		t.Fatalf("expired = %+v, want one entry", stale)
	}

	registry.Register(77, otherChat, herald.MessageKindRules)
	if registry.RemoveEntry(stale[0]) {
		t.Fatal("stale entry removed the newer registration")
	}
	if !registry.Contains(77) || registry.CountByKind(herald.MessageKindRules) != 1 {
		t.Fatal("newer registration lost")
	}

	current := Entry{MessageID: 77, Conversation: otherChat, Kind: herald.MessageKindRules, RegisteredAt: clock.Now()}
	if !registry.RemoveEntry(current) || registry.Len() != 0 {
		t.Fatalf("current entry not removed, len = %d", registry.Len())
	}
}
