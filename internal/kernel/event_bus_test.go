package kernel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"herald/pkg/herald"
)

func TestEventBusPublishDeliversMatchingSubscriptions(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(8, 1, time.Second, nil)
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	received := make(chan *herald.Event, 2)
	_, err := bus.Subscribe(context.Background(), herald.InterestSet{
		Kinds: []herald.EventKind{herald.EventKindMemberJoined},
	}, herald.SubscriptionSpec{Name: "joins"}, func(_ context.Context, event *herald.Event) error {
		received <- event
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := bus.Publish(context.Background(), newTestEvent("m1", herald.EventKindMessageCreated)); err != nil {
		t.Fatalf("publish message failed: %v", err)
	}
	if err := bus.Publish(context.Background(), newTestEvent("j1", herald.EventKindMemberJoined)); err != nil {
		t.Fatalf("publish join failed: %v", err)
	}

	if event := waitEvent(t, received); event.ID != "j1" {
		t.Fatalf("event id = %s, want j1", event.ID)
	}
}

func TestEventBusBackpressurePolicies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		policy     herald.BackpressurePolicy
		wantEvents []string
		wantDrops  int
	}{
		{
			name:       "drop newest keeps queued event",
			policy:     herald.BackpressureDropNewest,
			wantEvents: []string{"e1", "e2"},
			wantDrops:  1,
		},
		{
			name:       "drop oldest keeps latest event",
			policy:     herald.BackpressureDropOldest,
			wantEvents: []string{"e1", "e3"},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			var (
				dropsMu sync.Mutex
				drops   int
			)
			bus := NewEventBus(1, 1, time.Second, func(_ context.Context, _ string, err error) {
				if errors.Is(err, herald.ErrEventDropped) {
					dropsMu.Lock()
					drops++
					dropsMu.Unlock()
				}
			})
			t.Cleanup(func() {
				_ = bus.Close(context.Background())
			})

			release := make(chan struct{})
			blocked := make(chan struct{}, 1)
			var (
				first     sync.Once
				mu        sync.Mutex
				processed []string
			)
			_, err := bus.Subscribe(context.Background(), herald.InterestSet{}, herald.SubscriptionSpec{
				Name:         "policy",
				Workers:      1,
				Buffer:       1,
				Backpressure: testCase.policy,
			}, func(_ context.Context, event *herald.Event) error {
				first.Do(func() {
					blocked <- struct{}{}
					<-release
				})
				mu.Lock()
				processed = append(processed, event.ID)
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Fatalf("subscribe failed: %v", err)
			}

			if err := bus.Publish(context.Background(), newTestEvent("e1", herald.EventKindMessageCreated)); err != nil {
				t.Fatalf("publish e1 failed: %v", err)
			}
			select {
			case <-blocked:
			case <-time.After(time.Second):
				t.Fatal("handler did not start")
			}
			for _, id := range []string{"e2", "e3"} {
				if err := bus.Publish(context.Background(), newTestEvent(id, herald.EventKindMessageCreated)); err != nil {
					t.Fatalf("publish %s failed: %v", id, err)
				}
			}

			close(release)
			eventually(t, 2*time.Second, func() bool {
				mu.Lock()
				defer mu.Unlock()
				return len(processed) == 2
			})

			mu.Lock()
			got := append([]string(nil), processed...)
			mu.Unlock()
			if got[0] != testCase.wantEvents[0] || got[1] != testCase.wantEvents[1] {
				t.Fatalf("processed = %v, want %v", got, testCase.wantEvents)
			}
			dropsMu.Lock()
			defer dropsMu.Unlock()
			if drops != testCase.wantDrops {
				t.Fatalf("drops = %d, want %d", drops, testCase.wantDrops)
			}
		})
	}
}

func TestEventBusHandlerTimeoutAndPanic(t *testing.T) {
	t.Parallel()

	errs := make(chan error, 2)
	bus := NewEventBus(8, 1, 20*time.Millisecond, func(_ context.Context, _ string, err error) {
		errs <- err
	})
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	_, err := bus.Subscribe(context.Background(), herald.InterestSet{}, herald.SubscriptionSpec{Name: "faulty"},
		func(ctx context.Context, event *herald.Event) error {
			if event.ID == "panic" {
				panic("boom")
			}
			<-ctx.Done()
			return ctx.Err()
		})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	for _, id := range []string{"slow", "panic"} {
		if err := bus.Publish(context.Background(), newTestEvent(id, herald.EventKindMessageCreated)); err != nil {
			t.Fatalf("publish %s failed: %v", id, err)
		}
	}

	for _, want := range []func(error) bool{
		func(err error) bool { return errors.Is(err, context.DeadlineExceeded) },
		func(err error) bool { return err != nil && !errors.Is(err, context.DeadlineExceeded) },
	} {
		select {
		case err := <-errs:
			if !want(err) {
				t.Fatalf("unexpected async error: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for async error")
		}
	}
}

func TestEventBusRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(8, 1, time.Second, nil)
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	if err := bus.Publish(context.Background(), nil); err == nil {
		t.Fatal("expected nil event publish to fail")
	}
	if err := bus.Publish(context.Background(), &herald.Event{ID: "x"}); !errors.Is(err, herald.ErrInvalidEvent) {
		t.Fatalf("publish invalid event error = %v", err)
	}
	_, err := bus.Subscribe(context.Background(), herald.InterestSet{}, herald.SubscriptionSpec{
		Backpressure: "spill",
	}, func(context.Context, *herald.Event) error { return nil })
	if !errors.Is(err, herald.ErrInvalidSubscription) {
		t.Fatalf("subscribe with unknown policy error = %v", err)
	}
}

func TestEventBusCloseRejectsNewWork(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(8, 1, time.Second, nil)
	if err := bus.Close(context.Background()); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := bus.Close(context.Background()); err != nil {
		t.Fatalf("second close failed: %v", err)
	}

	if err := bus.Publish(context.Background(), newTestEvent("e1", herald.EventKindMessageCreated)); err == nil {
		t.Fatal("expected publish on closed bus to fail")
	}
	_, err := bus.Subscribe(context.Background(), herald.InterestSet{}, herald.SubscriptionSpec{},
		func(context.Context, *herald.Event) error { return nil })
	if err == nil {
		t.Fatal("expected subscribe on closed bus to fail")
	}
}

func newTestEvent(id string, kind herald.EventKind) *herald.Event {
	event := &herald.Event{
		ID:         id,
		Kind:       kind,
		OccurredAt: time.Now().UTC(),
		Platform:   herald.PlatformTelegram,
		Conversation: herald.Conversation{
			ID:   "-1001",
			Type: herald.ConversationTypeSupergroup,
		},
		Actor: herald.Actor{ID: "42", DisplayName: "Ann"},
	}

	switch kind {
	case herald.EventKindMessageCreated:
		event.Message = &herald.Message{ID: "10", Text: "hello"}
	case herald.EventKindMemberJoined:
		event.Join = &herald.JoinChange{
			Members: []herald.Actor{{ID: "42"}},
			Pathway: herald.JoinPathwayMessage,
		}
	case herald.EventKindCallbackReceived:
		event.Callback = &herald.Callback{QueryID: "q1", Data: "rules:en", MessageID: "10"}
	}

	return event
}

func waitEvent(t *testing.T, events <-chan *herald.Event) *herald.Event {
	t.Helper()

	select {
	case event := <-events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func eventually(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatal("condition not met before timeout")
}
