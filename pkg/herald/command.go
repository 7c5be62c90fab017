package herald

import (
	"fmt"
	"strings"
)

// CommandPrefix is the leading character introducing a command.
const CommandPrefix = "/"

// CommandCandidate is a parsed command-looking message before command-spec binding.
type CommandCandidate struct {
	// Name is the normalized command name without prefix and mention suffix.
	Name string
	// Mention is the optional mention suffix from `/<name>@<mention>`.
	Mention string
	// RawInput is the original untrimmed message text.
	RawInput string
	// Tokens stores tail tokens after the command header token.
	Tokens []string
}

// CommandInvocation carries one validated command event payload.
type CommandInvocation struct {
	// Name is the normalized command name.
	Name string
	// Mention is the optional mention suffix from `/<name>@<mention>`.
	Mention string
	// Args stores tail tokens after the command header.
	Args []string
	// Value stores Args joined by single spaces.
	Value string
	// SourceEventID identifies the inbound source event that produced this command.
	SourceEventID string
	// RawInput stores the original inbound message text.
	RawInput string
}

// Validate checks command invocation contract fields.
func (c *CommandInvocation) Validate() error {
	if c == nil {
		return fmt.Errorf("validate command invocation: nil invocation")
	}
	if normalizeCommandName(c.Name) == "" {
		return fmt.Errorf("validate command invocation: missing name")
	}
	if c.SourceEventID == "" {
		return fmt.Errorf("validate command invocation: missing source_event_id")
	}

	return nil
}

// CommandSpec declares one module command registration.
type CommandSpec struct {
	// Name is the command name without prefix and mention suffix.
	Name string
	// Description describes command behavior for help text.
	Description string
	// Usage is an optional argument synopsis such as "<feature>".
	Usage string
	// AdminOnly hides the command from non-admin help listings.
	AdminOnly bool
}

// Validate checks command specification coherence.
func (s CommandSpec) Validate() error {
	name := normalizeCommandName(s.Name)
	if name == "" {
		return fmt.Errorf("validate command spec: missing name")
	}
	if strings.ContainsAny(name, " \t\r\n@/") {
		return fmt.Errorf("validate command spec: invalid name %q", s.Name)
	}

	return nil
}

// ParseCommandCandidate parses one input text into a command candidate.
//
// matched is false when text does not start with the command prefix.
// err reports a prefix without a command name.
func ParseCommandCandidate(text string) (candidate CommandCandidate, matched bool, err error) {
	candidate.RawInput = text

	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return candidate, false, nil
	}
	header := fields[0]
	if !strings.HasPrefix(header, CommandPrefix) {
		return candidate, false, nil
	}

	name, mention, _ := strings.Cut(strings.TrimPrefix(header, CommandPrefix), "@")
	candidate.Name = normalizeCommandName(name)
	candidate.Mention = strings.TrimSpace(mention)
	if candidate.Name == "" {
		return candidate, true, fmt.Errorf("parse command candidate: missing command name")
	}
	if len(fields) > 1 {
		candidate.Tokens = append([]string(nil), fields[1:]...)
	}

	return candidate, true, nil
}

// BindCommand validates one parsed candidate against one command spec.
func BindCommand(candidate CommandCandidate, spec CommandSpec, sourceEvent *Event) (CommandInvocation, error) {
	if sourceEvent == nil {
		return CommandInvocation{}, fmt.Errorf("bind command: nil source event")
	}
	if err := spec.Validate(); err != nil {
		return CommandInvocation{}, fmt.Errorf("bind command %s: %w", spec.Name, err)
	}
	if normalizeCommandName(candidate.Name) != normalizeCommandName(spec.Name) {
		return CommandInvocation{}, fmt.Errorf("bind command %s: name mismatch, got %q", spec.Name, candidate.Name)
	}

	args := append([]string(nil), candidate.Tokens...)

	return CommandInvocation{
		Name:          normalizeCommandName(spec.Name),
		Mention:       candidate.Mention,
		Args:          args,
		Value:         strings.Join(args, " "),
		SourceEventID: sourceEvent.ID,
		RawInput:      candidate.RawInput,
	}, nil
}

// NormalizeCommandName returns the canonical lookup form of a command name.
func NormalizeCommandName(value string) string {
	return normalizeCommandName(value)
}

func normalizeCommandName(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
