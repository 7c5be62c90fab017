package admin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"herald/pkg/catalog"
	"herald/pkg/herald"
	"herald/pkg/herald/heraldtest"
)

var testStartedAt = time.Unix(1_700_000_000, 0).UTC()

type adminFixture struct {
	module     *Module
	dispatcher *heraldtest.Dispatcher
	flags      *heraldtest.Flags
	messages   *heraldtest.MessageRegistry
	users      *heraldtest.UserRegistry
}

func newAdminFixture(t *testing.T, mode herald.BotMode, warnings ...string) *adminFixture {
	t.Helper()

	texts, err := catalog.Default()
	if err != nil {
		t.Fatalf("load catalog failed: %v", err)
	}
	module, err := New(Config{
		Catalog:   texts,
		Mode:      mode,
		Version:   "1.2.16",
		StartedAt: testStartedAt,
		Warnings:  warnings,
	})
	if err != nil {
		t.Fatalf("new module failed: %v", err)
	}
	module.clock = func() time.Time { return testStartedAt.Add(90 * time.Second) }

	fixture := &adminFixture{
		module: module,
		dispatcher: &heraldtest.Dispatcher{
			Permissions: herald.MemberPermissions{CanDelete: true, CanRestrict: true},
		},
		flags:    heraldtest.NewFlags(herald.Features()...),
		messages: &heraldtest.MessageRegistry{},
		users:    &heraldtest.UserRegistry{},
	}
	runtime := heraldtest.Runtime{Registry: heraldtest.Services{
		herald.ServiceSinkDispatcher:  fixture.dispatcher,
		herald.ServiceLogger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		herald.ServiceFeatureFlags:    herald.FeatureFlags(fixture.flags),
		herald.ServiceAccessPolicy:    herald.AccessPolicy(heraldtest.Policy{Admins: map[string]bool{"1": true}}),
		herald.ServiceMessageRegistry: herald.MessageRegistry(fixture.messages),
		herald.ServiceUserRegistry:    herald.UserRegistry(fixture.users),
	}}
	if err := module.OnRegister(context.Background(), runtime); err != nil {
		t.Fatalf("OnRegister failed: %v", err)
	}

	return fixture
}

func TestModuleHandleCommand(t *testing.T) {
	t.Parallel()

	admin := heraldtest.Actor("1", "Root", "en")
	member := heraldtest.Actor("2", "Guest", "en")

	tests := []struct {
		name         string
		mode         herald.BotMode
		warnings     []string
		actor        herald.Actor
		text         string
		prepare      func(f *adminFixture)
		wantSent     bool
		wantContains []string
		wantAbsent   []string
		assert       func(t *testing.T, f *adminFixture)
	}{
		{
			name:         "version for admin",
			mode:         herald.BotModeProd,
			actor:        admin,
			text:         "/version",
			wantSent:     true,
			wantContains: []string{"<b>Welcome Bot</b>", "Version: 1.2.16", "Channel: Stable (1.2.x)"},
		},
		{
			name:  "version denied silently in prod",
			mode:  herald.BotModeProd,
			actor: member,
			text:  "/version",
		},
		{
			name:         "version denied with notice in test mode",
			mode:         herald.BotModeTest,
			actor:        member,
			text:         "/version",
			wantSent:     true,
			wantContains: []string{herald.TestModePrefix, "⛔ Access denied"},
			wantAbsent:   []string{"1.2.16"},
		},
		{
			name:  "healthy report",
			mode:  herald.BotModeProd,
			actor: admin,
			text:  "/health",
			prepare: func(f *adminFixture) {
				f.messages.Register(10, heraldtest.Supergroup, herald.MessageKindWelcome)
				f.messages.Register(11, heraldtest.Supergroup, herald.MessageKindWelcome)
				f.messages.Register(12, heraldtest.Supergroup, herald.MessageKindRules)
			},
			wantSent: true,
			wantContains: []string{
				"Status: ✅ OK",
				"Mode: prod",
				"Uptime: 90s",
				"• Delete messages: true",
				"• Active welcome messages: 2",
				"• Active rules messages: 1",
				"• autodelete: on",
			},
			wantAbsent: []string{"Warnings"},
		},
		{
			name:     "degraded report lists warnings",
			mode:     herald.BotModeProd,
			warnings: []string{"ADMIN_IDS is empty"},
			actor:    admin,
			text:     "/health",
			prepare: func(f *adminFixture) {
				f.dispatcher.PermissionsErr = herald.ErrOutboundUnsupported
			},
			wantSent: true,
			wantContains: []string{
				"Status: ⚠️ WARN",
				"• Restrict members: false",
				"⚠️ <b>Warnings:</b>",
				"• No permission to delete messages",
				"• No permission to restrict members",
				"• ADMIN_IDS is empty",
			},
		},
		{
			name:         "toggle flips the feature",
			mode:         herald.BotModeProd,
			actor:        admin,
			text:         "/toggle MUTE",
			wantSent:     true,
			wantContains: []string{"<b>mute</b>: off"},
			assert: func(t *testing.T, f *adminFixture) {
				t.Helper()
				if f.flags.Enabled(herald.FeatureMute) {
					t.Fatal("mute still enabled after toggle")
				}
			},
		},
		{
			name:         "toggle without a known feature prints usage",
			mode:         herald.BotModeProd,
			actor:        admin,
			text:         "/toggle captcha",
			wantSent:     true,
			wantContains: []string{"Usage: /toggle", "welcome, mute, autodelete"},
			assert:       assertAllEnabled,
		},
		{
			name:   "toggle by non admin never mutates",
			mode:   herald.BotModeProd,
			actor:  member,
			text:   "/toggle welcome",
			assert: assertAllEnabled,
		},
		{
			name:         "panel offers a button per feature",
			mode:         herald.BotModeProd,
			actor:        admin,
			text:         "/admin",
			wantSent:     true,
			wantContains: []string{"Admin panel", "• welcome: on"},
			assert: func(t *testing.T, f *adminFixture) {
				t.Helper()
				keyboard := f.dispatcher.Sent[0].Keyboard
				if keyboard == nil || len(keyboard.Rows) != len(herald.Features()) {
					t.Fatalf("keyboard = %+v, want one row per feature", keyboard)
				}
				if keyboard.Rows[1][0].CallbackData != "admin:toggle:mute" {
					t.Fatalf("second button = %+v, want mute toggle", keyboard.Rows[1][0])
				}
			},
		},
		{
			name:  "users summarizes the registry",
			mode:  herald.BotModeProd,
			actor: admin,
			text:  "/users",
			prepare: func(f *adminFixture) {
				f.users.Summary = herald.UserRegistryStats{
					Users:    5,
					ReadOnly: true,
					BySource: map[herald.JoinSource]int{
						herald.JoinSourceTelegram: 3,
						herald.JoinSourceDiscord:  2,
					},
				}
			},
			wantSent:     true,
			wantContains: []string{"Users: 5", "Read-only: true", "• telegram: 3\n• 🎮 Discord discord: 2"},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			fixture := newAdminFixture(t, testCase.mode, testCase.warnings...)
			if testCase.prepare != nil {
				testCase.prepare(fixture)
			}
			registeredBefore := fixture.messages.CountByKind(herald.MessageKindAdmin)

			err := fixture.module.handleCommand(context.Background(), heraldtest.CommandEvent(testCase.actor, testCase.text))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if !testCase.wantSent {
				if len(fixture.dispatcher.Sent) != 0 {
					t.Fatalf("sent = %v, want none", fixture.dispatcher.SentTexts())
				}
			} else {
				if len(fixture.dispatcher.Sent) != 1 {
					t.Fatalf("sent = %d, want 1", len(fixture.dispatcher.Sent))
				}
				text := fixture.dispatcher.Sent[0].Text
				for _, want := range testCase.wantContains {
					if !strings.Contains(text, want) {
						t.Fatalf("text = %q, missing %q", text, want)
					}
				}
				for _, absent := range testCase.wantAbsent {
					if strings.Contains(text, absent) {
						t.Fatalf("text = %q, unexpected %q", text, absent)
					}
				}
				if got := fixture.messages.CountByKind(herald.MessageKindAdmin) - registeredBefore; got != 1 {
					t.Fatalf("registered admin replies = %d, want 1", got)
				}
			}
			if testCase.assert != nil {
				testCase.assert(t, fixture)
			}
		})
	}
}

func TestModuleHandleCallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		mode        herald.BotMode
		actorID     string
		data        string
		answerErr   error
		wantErr     bool
		wantText    string
		wantAlert   bool
		wantWelcome bool
	}{
		{
			name:        "admin toggles from the panel",
			mode:        herald.BotModeProd,
			actorID:     "1",
			data:        "admin:toggle:welcome",
			wantText:    "welcome: off",
			wantWelcome: false,
		},
		{
			name:        "non admin gets a silent answer in prod",
			mode:        herald.BotModeProd,
			actorID:     "2",
			data:        "admin:toggle:welcome",
			wantWelcome: true,
		},
		{
			name:        "non admin gets an alert in test mode",
			mode:        herald.BotModeTest,
			actorID:     "2",
			data:        "admin:toggle:welcome",
			wantText:    "⛔ Access denied",
			wantAlert:   true,
			wantWelcome: true,
		},
		{
			name:        "unknown feature is answered without change",
			mode:        herald.BotModeProd,
			actorID:     "1",
			data:        "admin:toggle:captcha",
			wantWelcome: true,
		},
		{
			name:        "answer failure is returned",
			mode:        herald.BotModeProd,
			actorID:     "1",
			data:        "admin:toggle:welcome",
			answerErr:   errors.New("query expired"),
			wantErr:     true,
			wantText:    "welcome: off",
			wantWelcome: false,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			fixture := newAdminFixture(t, testCase.mode)
			fixture.dispatcher.AnswerErr = testCase.answerErr
			event := heraldtest.CallbackEvent(heraldtest.Actor(testCase.actorID, "", "en"), testCase.data)

			err := fixture.module.handleCallback(context.Background(), event)
			if testCase.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !testCase.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(fixture.dispatcher.Answered) != 1 {
				t.Fatalf("answered = %d, want exactly 1", len(fixture.dispatcher.Answered))
			}
			answer := fixture.dispatcher.Answered[0]
			if answer.QueryID != "555" || answer.Text != testCase.wantText || answer.Alert != testCase.wantAlert {
				t.Fatalf("answer = %+v, want text %q alert %v", answer, testCase.wantText, testCase.wantAlert)
			}
			if got := fixture.flags.Enabled(herald.FeatureWelcome); got != testCase.wantWelcome {
				t.Fatalf("welcome enabled = %v, want %v", got, testCase.wantWelcome)
			}
			if len(fixture.dispatcher.Sent) != 0 {
				t.Fatalf("sent = %d, want none from callbacks", len(fixture.dispatcher.Sent))
			}
		})
	}
}

func TestToggleRoundTripRestoresFeature(t *testing.T) {
	t.Parallel()

	fixture := newAdminFixture(t, herald.BotModeProd)
	admin := heraldtest.Actor("1", "Root", "en")
	for range 2 {
		if err := fixture.module.handleCommand(context.Background(), heraldtest.CommandEvent(admin, "/toggle autodelete")); err != nil {
			t.Fatalf("toggle failed: %v", err)
		}
	}
	if !fixture.flags.Enabled(herald.FeatureAutodelete) {
		t.Fatal("autodelete disabled after two toggles")
	}
}

func TestReleaseChannel(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"1.2.16":  "1.2.x",
		"v2.0.1":  "2.0.x",
		"1.3":     "1.3.x",
		"nightly": "nightly",
	}
	for version, want := range tests {
		if got := releaseChannel(version); got != want {
			t.Fatalf("releaseChannel(%q) = %q, want %q", version, got, want)
		}
	}
}

func TestSpecMarksEveryCommandAdminOnly(t *testing.T) {
	t.Parallel()

	fixture := newAdminFixture(t, herald.BotModeProd)
	for _, command := range fixture.module.Spec().Commands {
		if !command.AdminOnly {
			t.Fatalf("command /%s is not admin only", command.Name)
		}
	}
}

func assertAllEnabled(t *testing.T, f *adminFixture) {
	t.Helper()
	for _, feature := range herald.Features() {
		if !f.flags.Enabled(feature) {
			t.Fatalf("feature %s disabled, want untouched", feature)
		}
	}
}
