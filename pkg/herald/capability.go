package herald

import "strings"

// Capability describes what a module can process and what resources it requires.
type Capability struct {
	Name             string
	Description      string
	Interest         InterestSet
	RequiredServices []string
}

// InterestSet describes event selection criteria for capability negotiation.
type InterestSet struct {
	Kinds []EventKind
	// RequireCommand restricts delivery to events carrying a bound command.
	RequireCommand bool
	// CommandNames restricts command events to the listed names.
	CommandNames []string
	// CallbackPrefixes restricts callback events to payloads with one of the prefixes.
	CallbackPrefixes []string
}

// Matches reports whether an event satisfies the declared interest set.
func (i InterestSet) Matches(event *Event) bool {
	if event == nil {
		return false
	}
	if len(i.Kinds) > 0 && !containsKind(i.Kinds, event.Kind) {
		return false
	}
	if i.RequireCommand && event.Command == nil {
		return false
	}
	if len(i.CommandNames) > 0 {
		if event.Command == nil || !containsString(i.CommandNames, event.Command.Name) {
			return false
		}
	}
	if len(i.CallbackPrefixes) > 0 {
		if event.Callback == nil || !hasAnyPrefix(event.Callback.Data, i.CallbackPrefixes) {
			return false
		}
	}

	return true
}

// Allows reports whether this interest set can safely satisfy another filter.
func (i InterestSet) Allows(filter InterestSet) bool {
	if len(i.Kinds) > 0 && !allIncluded(filter.Kinds, i.Kinds) {
		return false
	}
	if i.RequireCommand && !filter.RequireCommand {
		return false
	}
	if len(i.CommandNames) > 0 && !allIncluded(filter.CommandNames, i.CommandNames) {
		return false
	}
	if len(i.CallbackPrefixes) > 0 && !allIncluded(filter.CallbackPrefixes, i.CallbackPrefixes) {
		return false
	}

	return true
}

func containsKind(kinds []EventKind, target EventKind) bool {
	for _, candidate := range kinds {
		if candidate == target {
			return true
		}
	}

	return false
}

func containsString(values []string, target string) bool {
	for _, candidate := range values {
		if candidate == target {
			return true
		}
	}

	return false
}

func hasAnyPrefix(value string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(value, prefix) {
			return true
		}
	}

	return false
}

// allIncluded reports whether subset is fully contained in allowed.
// An empty subset is only allowed by an empty allowed set.
func allIncluded[T comparable](subset, allowed []T) bool {
	if len(subset) == 0 {
		return len(allowed) == 0
	}
	for _, item := range subset {
		found := false
		for _, candidate := range allowed {
			if candidate == item {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}
