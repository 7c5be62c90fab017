// Package heraldtest provides in-memory collaborators for module tests.
package heraldtest

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"herald/pkg/herald"
)

// Dispatcher records outbound calls and returns sequential message ids.
type Dispatcher struct {
	mu sync.Mutex

	NextID      int
	SendErr     error
	DeleteErr   error
	RestrictErr error
	AnswerErr   error
	Permissions herald.MemberPermissions
	// PermissionsErr fails MemberPermissions when set.
	PermissionsErr error

	Sent       []herald.SendMessageRequest
	Deleted    []herald.DeleteMessageRequest
	Restricted []herald.RestrictMemberRequest
	Answered   []herald.AnswerCallbackRequest
	Probes     int
}

// SendMessage records request and returns the next id.
func (d *Dispatcher) SendMessage(_ context.Context, request herald.SendMessageRequest) (*herald.OutboundMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.Sent = append(d.Sent, request)
	if d.SendErr != nil {
		return nil, d.SendErr
	}
	d.NextID++

	return &herald.OutboundMessage{ID: strconv.Itoa(d.NextID), Target: request.Target}, nil
}

// DeleteMessage records request.
func (d *Dispatcher) DeleteMessage(_ context.Context, request herald.DeleteMessageRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.Deleted = append(d.Deleted, request)
	return d.DeleteErr
}

// RestrictMember records request.
func (d *Dispatcher) RestrictMember(_ context.Context, request herald.RestrictMemberRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.Restricted = append(d.Restricted, request)
	return d.RestrictErr
}

// MemberPermissions returns the configured permissions.
func (d *Dispatcher) MemberPermissions(context.Context, herald.MemberPermissionsRequest) (herald.MemberPermissions, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.Probes++
	if d.PermissionsErr != nil {
		return herald.MemberPermissions{}, d.PermissionsErr
	}

	return d.Permissions, nil
}

// AnswerCallback records request.
func (d *Dispatcher) AnswerCallback(_ context.Context, request herald.AnswerCallbackRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.Answered = append(d.Answered, request)
	return d.AnswerErr
}

// SentTexts returns the text of every sent message.
func (d *Dispatcher) SentTexts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	texts := make([]string, 0, len(d.Sent))
	for _, request := range d.Sent {
		texts = append(texts, request.Text)
	}

	return texts
}

// Services is a map-backed service registry.
type Services map[string]any

// Register binds service to name.
func (s Services) Register(name string, service any) error {
	if _, exists := s[name]; exists {
		return herald.ErrServiceAlreadyRegistered
	}
	s[name] = service

	return nil
}

// Resolve returns a registered service.
func (s Services) Resolve(name string) (any, error) {
	service, ok := s[name]
	if !ok {
		return nil, herald.ErrServiceNotFound
	}

	return service, nil
}

// Runtime exposes Services to OnRegister and refuses subscriptions.
type Runtime struct {
	Registry Services
}

// Services returns the registry.
func (r Runtime) Services() herald.ServiceRegistry {
	return r.Registry
}

// Subscribe is unsupported; modules declare handlers through their spec.
func (Runtime) Subscribe(
	context.Context,
	herald.InterestSet,
	herald.SubscriptionSpec,
	herald.EventHandler,
) (herald.Subscription, error) {
	return nil, errors.New("heraldtest: subscribe unsupported")
}

// Flags is a concurrency-safe feature flag set.
type Flags struct {
	mu     sync.Mutex
	states map[herald.Feature]bool
}

// NewFlags returns flags with the given features enabled.
func NewFlags(enabled ...herald.Feature) *Flags {
	states := make(map[herald.Feature]bool)
	for _, feature := range enabled {
		states[feature] = true
	}

	return &Flags{states: states}
}

// Enabled reports feature state.
func (f *Flags) Enabled(feature herald.Feature) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.states[feature]
}

// Toggle flips feature.
func (f *Flags) Toggle(feature herald.Feature) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.states[feature] = !f.states[feature]
	return f.states[feature]
}

// Snapshot copies every state.
func (f *Flags) Snapshot() map[herald.Feature]bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	snapshot := make(map[herald.Feature]bool, len(herald.Features()))
	for _, feature := range herald.Features() {
		snapshot[feature] = f.states[feature]
	}

	return snapshot
}

// Policy is a static access policy. Empty Chats allows every chat.
type Policy struct {
	Admins map[string]bool
	Chats  map[string]bool
}

// IsAdmin reports whether userID is listed.
func (p Policy) IsAdmin(userID string) bool {
	return p.Admins[userID]
}

// ChatAllowed reports whether conversationID is served.
func (p Policy) ChatAllowed(conversationID string) bool {
	return len(p.Chats) == 0 || p.Chats[conversationID]
}

// Registered is one message registry entry.
type Registered struct {
	MessageID    int
	Conversation herald.Conversation
	Kind         herald.MessageKind
}

// MessageRegistry records registrations.
type MessageRegistry struct {
	mu      sync.Mutex
	Entries []Registered
}

// Register appends one entry.
func (r *MessageRegistry) Register(messageID int, conversation herald.Conversation, kind herald.MessageKind) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Entries = append(r.Entries, Registered{MessageID: messageID, Conversation: conversation, Kind: kind})
}

// CountByKind counts entries with kind.
func (r *MessageRegistry) CountByKind(kind herald.MessageKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, entry := range r.Entries {
		if entry.Kind == kind {
			count++
		}
	}

	return count
}

// Len returns the number of registrations.
func (r *MessageRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.Entries)
}

// Gate allows each key once until Reset.
type Gate struct {
	mu       sync.Mutex
	seen     map[int64]bool
	Windows  []time.Duration
	Attempts int
}

// TryAcquire allows a key the first time it is seen.
func (g *Gate) TryAcquire(key int64, window time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.Attempts++
	g.Windows = append(g.Windows, window)
	if g.seen == nil {
		g.seen = make(map[int64]bool)
	}
	if g.seen[key] {
		return false
	}
	g.seen[key] = true

	return true
}

// UserRegistry records join observations.
type UserRegistry struct {
	mu        sync.Mutex
	Records   []herald.JoinRecord
	RecordErr error
	Summary   herald.UserRegistryStats
}

// Record appends record.
func (r *UserRegistry) Record(_ context.Context, record herald.JoinRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Records = append(r.Records, record)
	return r.RecordErr
}

// Stats returns Summary.
func (r *UserRegistry) Stats() herald.UserRegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.Summary
}

// CommandCatalog returns a fixed command list.
type CommandCatalog struct {
	Commands []herald.RegisteredCommand
	Err      error
}

// ListCommands returns a copy of Commands.
func (c CommandCatalog) ListCommands(context.Context) ([]herald.RegisteredCommand, error) {
	if c.Err != nil {
		return nil, c.Err
	}

	return append([]herald.RegisteredCommand(nil), c.Commands...), nil
}

var (
	_ herald.SinkDispatcher  = (*Dispatcher)(nil)
	_ herald.ServiceRegistry = Services(nil)
	_ herald.ModuleRuntime   = Runtime{}
	_ herald.FeatureFlags    = (*Flags)(nil)
	_ herald.AccessPolicy    = Policy{}
	_ herald.MessageRegistry = (*MessageRegistry)(nil)
	_ herald.DedupGate       = (*Gate)(nil)
	_ herald.UserRegistry    = (*UserRegistry)(nil)
	_ herald.CommandCatalog  = CommandCatalog{}
)
