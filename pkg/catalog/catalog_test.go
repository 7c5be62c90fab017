package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"herald/pkg/herald"
)

func TestDefaultCatalog(t *testing.T) {
	t.Parallel()

	catalog, err := Default()
	if err != nil {
		t.Fatalf("Default failed: %v", err)
	}
	if catalog.DefaultLanguage != "ru" {
		t.Fatalf("default language = %q, want ru", catalog.DefaultLanguage)
	}
	for _, lang := range []string{"ru", "en"} {
		texts := catalog.Texts(lang)
		if texts.ButtonRules == "" || texts.Welcome == "" {
			t.Fatalf("language %s incomplete: %+v", lang, texts)
		}
	}
	if got := catalog.Texts("en").ButtonStorage; got != "📦 Storage" {
		t.Fatalf("en storage button = %q", got)
	}
}

func TestDetectLang(t *testing.T) {
	t.Parallel()

	catalog, err := Default()
	if err != nil {
		t.Fatalf("Default failed: %v", err)
	}

	tests := []struct {
		code string
		want string
	}{
		{code: "en", want: "en"},
		{code: "en-US", want: "en"},
		{code: "EN_gb", want: "en"},
		{code: "ru", want: "ru"},
		{code: "de", want: "ru"},
		{code: "", want: "ru"},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.code, func(t *testing.T) {
			t.Parallel()

			if got := catalog.DetectLang(testCase.code); got != testCase.want {
				t.Fatalf("DetectLang(%q) = %q, want %q", testCase.code, got, testCase.want)
			}
		})
	}
}

func TestMatchTrigger(t *testing.T) {
	t.Parallel()

	catalog, err := Default()
	if err != nil {
		t.Fatalf("Default failed: %v", err)
	}

	tests := []struct {
		name     string
		text     string
		wantName string
		wantOK   bool
	}{
		{name: "russian keyword", text: "А где Хранилище?", wantName: "storage", wantOK: true},
		{name: "english keyword", text: "link to download please", wantName: "storage", wantOK: true},
		{name: "rules phrase", text: "what are the chat rules", wantName: "rules", wantOK: true},
		{name: "no keyword", text: "hello there"},
		{name: "command ignored", text: "/storage"},
		{name: "blank", text: "   "},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			trigger, ok := catalog.MatchTrigger(testCase.text)
			if ok != testCase.wantOK {
				t.Fatalf("matched = %v, want %v", ok, testCase.wantOK)
			}
			if ok && trigger.Name != testCase.wantName {
				t.Fatalf("trigger = %q, want %q", trigger.Name, testCase.wantName)
			}
		})
	}
}

func TestLoadOverride(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	override := `
languages:
  en:
    rules: "custom rules"
triggers:
  - name: faq
    text: about
    kind: about
    keywords: [faq]
`
	if err := os.WriteFile(path, []byte(override), 0o600); err != nil {
		t.Fatalf("write override: %v", err)
	}

	catalog, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := catalog.Texts("en").Rules; got != "custom rules" {
		t.Fatalf("rules = %q, want override", got)
	}
	if got := catalog.Texts("en").ButtonRules; got != "📜 Rules" {
		t.Fatalf("button kept = %q", got)
	}
	if len(catalog.Triggers) != 1 || catalog.Triggers[0].Kind != herald.MessageKindAbout {
		t.Fatalf("triggers = %+v", catalog.Triggers)
	}
}

func TestLoadRejectsInvalidOverride(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{name: "unknown default language", content: "default_language: de\n"},
		{name: "bad trigger kind", content: "triggers:\n  - name: x\n    text: rules\n    kind: banner\n    keywords: [x]\n"},
		{name: "unknown trigger text", content: "triggers:\n  - name: x\n    text: nope\n    kind: rules\n    keywords: [x]\n"},
		{name: "malformed yaml", content: "languages: [\n"},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "catalog.yaml")
			if err := os.WriteFile(path, []byte(testCase.content), 0o600); err != nil {
				t.Fatalf("write override: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestRender(t *testing.T) {
	t.Parallel()

	got := Render("Hi {name} from {project}", Vars{Name: "<Bob>", Project: "TU"})
	if got != "Hi &lt;Bob&gt; from TU" {
		t.Fatalf("Render = %q", got)
	}
	if SafeName("  ") != "User" || SafeName("Ann") != "Ann" {
		t.Fatal("SafeName fallback broken")
	}
}

func TestWelcomeKeyboard(t *testing.T) {
	t.Parallel()

	catalog, err := Default()
	if err != nil {
		t.Fatalf("Default failed: %v", err)
	}
	texts := catalog.Texts("en")

	plain := WelcomeKeyboard(texts, "en", Links{Storage: "https://s"})
	if len(plain.Rows) != 1 || plain.Rows[0][1].CallbackData != "rules:en" {
		t.Fatalf("plain keyboard = %+v", plain)
	}
	if err := plain.Validate(); err != nil {
		t.Fatalf("plain keyboard invalid: %v", err)
	}

	full := WelcomeKeyboard(texts, "en", Links{Storage: "https://s", FAQ: "https://f", Support: "https://h"})
	if len(full.Rows) != 2 || len(full.Rows[1]) != 2 {
		t.Fatalf("full keyboard = %+v", full)
	}

	lang, ok := ParseRulesCallback(plain.Rows[0][1].CallbackData)
	if !ok || lang != "en" {
		t.Fatalf("ParseRulesCallback = %q %v", lang, ok)
	}
	if _, ok := ParseRulesCallback("rules:"); ok {
		t.Fatal("empty language accepted")
	}
	if !strings.HasPrefix(StorageKeyboard(texts, "https://s").Rows[0][0].URL, "https://") {
		t.Fatal("storage keyboard url missing")
	}
}
