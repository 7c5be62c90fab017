package herald

import "testing"

func TestInterestSetMatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		interest InterestSet
		event    *Event
		want     bool
	}{
		{
			name:     "nil event",
			interest: InterestSet{},
			event:    nil,
			want:     false,
		},
		{
			name:     "kind filter",
			interest: InterestSet{Kinds: []EventKind{EventKindMemberJoined}},
			event:    &Event{Kind: EventKindMessageCreated},
			want:     false,
		},
		{
			name: "command name matches",
			interest: InterestSet{
				Kinds:          []EventKind{EventKindCommandReceived},
				RequireCommand: true,
				CommandNames:   []string{"rules", "about"},
			},
			event: &Event{Kind: EventKindCommandReceived, Command: &CommandInvocation{Name: "about"}},
			want:  true,
		},
		{
			name:     "command name mismatch",
			interest: InterestSet{CommandNames: []string{"rules"}},
			event:    &Event{Kind: EventKindCommandReceived, Command: &CommandInvocation{Name: "health"}},
			want:     false,
		},
		{
			name:     "callback prefix matches",
			interest: InterestSet{CallbackPrefixes: []string{"rules:"}},
			event:    &Event{Kind: EventKindCallbackReceived, Callback: &Callback{QueryID: "q", Data: "rules:en"}},
			want:     true,
		},
		{
			name:     "callback prefix mismatch",
			interest: InterestSet{CallbackPrefixes: []string{"rules:"}},
			event:    &Event{Kind: EventKindCallbackReceived, Callback: &Callback{QueryID: "q", Data: "admin:toggle:mute"}},
			want:     false,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if got := testCase.interest.Matches(testCase.event); got != testCase.want {
				t.Fatalf("matches = %v, want %v", got, testCase.want)
			}
		})
	}
}

func TestInterestSetAllows(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		allowed   InterestSet
		filter    InterestSet
		wantAllow bool
	}{
		{
			name:      "same interest",
			allowed:   InterestSet{Kinds: []EventKind{EventKindCallbackReceived}, CallbackPrefixes: []string{"rules:"}},
			filter:    InterestSet{Kinds: []EventKind{EventKindCallbackReceived}, CallbackPrefixes: []string{"rules:"}},
			wantAllow: true,
		},
		{
			name:      "filter without kinds is broader",
			allowed:   InterestSet{Kinds: []EventKind{EventKindCallbackReceived}},
			filter:    InterestSet{},
			wantAllow: false,
		},
		{
			name:      "command subset",
			allowed:   InterestSet{CommandNames: []string{"rules", "about"}},
			filter:    InterestSet{CommandNames: []string{"rules"}},
			wantAllow: true,
		},
		{
			name:      "require command rejects weaker filter",
			allowed:   InterestSet{RequireCommand: true},
			filter:    InterestSet{},
			wantAllow: false,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if got := testCase.allowed.Allows(testCase.filter); got != testCase.wantAllow {
				t.Fatalf("allows = %v, want %v", got, testCase.wantAllow)
			}
		})
	}
}
