package admin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"herald/pkg/herald"
)

func renderVersion(version string) string {
	return fmt.Sprintf("ℹ️ <b>Welcome Bot</b>\nVersion: %s\nChannel: Stable (%s)", version, releaseChannel(version))
}

// releaseChannel reduces a semantic version to its minor line, 1.2.16 to 1.2.x.
func releaseChannel(version string) string {
	parts := strings.SplitN(strings.TrimPrefix(version, "v"), ".", 3)
	if len(parts) < 2 {
		return version
	}

	return parts[0] + "." + parts[1] + ".x"
}

func (m *Module) renderHealth(ctx context.Context, event *herald.Event) string {
	var permissions herald.MemberPermissions
	if target, err := herald.OutboundTargetFromEvent(event); err == nil {
		probed, err := m.dispatcher.MemberPermissions(ctx, herald.MemberPermissionsRequest{Target: target})
		if err != nil {
			m.logger.WarnContext(ctx, "health permission probe failed", "chat_id", event.Conversation.ID, "error", err)
		} else {
			permissions = probed
		}
	}

	var warnings []string
	if !permissions.CanDelete {
		warnings = append(warnings, "No permission to delete messages")
	}
	if !permissions.CanRestrict {
		warnings = append(warnings, "No permission to restrict members")
	}
	warnings = append(warnings, m.cfg.Warnings...)

	status := "✅ OK"
	if len(warnings) > 0 {
		status = "⚠️ WARN"
	}
	uptime := m.clock().Sub(m.cfg.StartedAt) / time.Second

	var builder strings.Builder
	builder.WriteString("🩺 <b>Welcome Bot — Health</b>\n\n")
	fmt.Fprintf(&builder, "Status: %s\n", status)
	fmt.Fprintf(&builder, "Version: %s\n", m.cfg.Version)
	fmt.Fprintf(&builder, "Mode: %s\n", m.cfg.Mode)
	fmt.Fprintf(&builder, "Uptime: %ds\n\n", int64(uptime))
	builder.WriteString("Permissions:\n")
	fmt.Fprintf(&builder, "• Delete messages: %t\n", permissions.CanDelete)
	fmt.Fprintf(&builder, "• Restrict members: %t\n\n", permissions.CanRestrict)
	builder.WriteString("Runtime:\n")
	fmt.Fprintf(&builder, "• Active welcome messages: %d\n", m.messages.CountByKind(herald.MessageKindWelcome))
	fmt.Fprintf(&builder, "• Active rules messages: %d\n", m.messages.CountByKind(herald.MessageKindRules))
	builder.WriteString("\nFeatures:\n")
	snapshot := m.flags.Snapshot()
	for _, feature := range herald.Features() {
		fmt.Fprintf(&builder, "• %s: %s\n", feature, stateLabel(snapshot[feature]))
	}
	if len(warnings) > 0 {
		builder.WriteString("\n⚠️ <b>Warnings:</b>\n")
		for _, warning := range warnings {
			fmt.Fprintf(&builder, "• %s\n", warning)
		}
	}

	return builder.String()
}

func renderToggleUsage() string {
	names := make([]string, 0, len(herald.Features()))
	for _, feature := range herald.Features() {
		names = append(names, string(feature))
	}

	return fmt.Sprintf("Usage: /%s &lt;feature&gt;\nFeatures: %s", toggleCommandName, strings.Join(names, ", "))
}

func renderToggled(feature herald.Feature, enabled bool) string {
	return fmt.Sprintf("⚙️ <b>%s</b>: %s", feature, stateLabel(enabled))
}

func renderPanel(snapshot map[herald.Feature]bool) string {
	lines := []string{"🛠 <b>Admin panel</b>", ""}
	for _, feature := range herald.Features() {
		lines = append(lines, fmt.Sprintf("• %s: %s", feature, stateLabel(snapshot[feature])))
	}

	return strings.Join(lines, "\n")
}

// panelKeyboard lays out one toggle button per feature.
func panelKeyboard(snapshot map[herald.Feature]bool) herald.InlineKeyboard {
	rows := make([][]herald.InlineButton, 0, len(herald.Features()))
	for _, feature := range herald.Features() {
		rows = append(rows, []herald.InlineButton{{
			Text:         fmt.Sprintf("%s %s", stateIcon(snapshot[feature]), feature),
			CallbackData: ToggleCallbackPrefix + string(feature),
		}})
	}

	return herald.InlineKeyboard{Rows: rows}
}

func renderUsers(stats herald.UserRegistryStats) string {
	var builder strings.Builder
	builder.WriteString("👥 <b>User registry</b>\n\n")
	fmt.Fprintf(&builder, "Users: %d\n", stats.Users)
	fmt.Fprintf(&builder, "Read-only: %t\n", stats.ReadOnly)
	if len(stats.BySource) == 0 {
		return builder.String()
	}

	sources := make([]herald.JoinSource, 0, len(stats.BySource))
	for source := range stats.BySource {
		sources = append(sources, source)
	}
	sort.Slice(sources, func(i, j int) bool {
		left, right := stats.BySource[sources[i]], stats.BySource[sources[j]]
		if left == right {
			return sources[i] < sources[j]
		}
		return left > right
	})

	builder.WriteString("\nBy source:\n")
	for _, source := range sources {
		label := string(source)
		if badge := source.Badge(); badge != "" {
			label = badge + " " + label
		}
		fmt.Fprintf(&builder, "• %s: %d\n", label, stats.BySource[source])
	}

	return builder.String()
}

func stateLabel(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}

func stateIcon(enabled bool) string {
	if enabled {
		return "✅"
	}
	return "❌"
}
