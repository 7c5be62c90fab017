// Package catalog holds the localized bot texts and keyword triggers.
//
// The catalog ships embedded and can be overridden field by field from a YAML file.
package catalog

import (
	_ "embed"
	"fmt"
	"html"
	"os"
	"strings"

	"herald/pkg/herald"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

// Text keys resolvable through Texts.Lookup.
const (
	KeyWelcome        = "welcome"
	KeyRules          = "rules"
	KeyAbout          = "about"
	KeyStorage        = "storage"
	KeyStorageUser    = "storage_user"
	KeyAccessDenied   = "access_denied"
	KeyUnknownCommand = "unknown_command"
)

// Texts is one language's string table.
type Texts struct {
	Welcome        string `yaml:"welcome"`
	Rules          string `yaml:"rules"`
	About          string `yaml:"about"`
	Storage        string `yaml:"storage"`
	StorageUser    string `yaml:"storage_user"`
	AccessDenied   string `yaml:"access_denied"`
	UnknownCommand string `yaml:"unknown_command"`
	ButtonStorage  string `yaml:"btn_storage"`
	ButtonRules    string `yaml:"btn_rules"`
	ButtonFAQ      string `yaml:"btn_faq"`
	ButtonSupport  string `yaml:"btn_support"`
	HealthOK       string `yaml:"health_ok"`
}

// Lookup resolves a text key.
func (t Texts) Lookup(key string) (string, bool) {
	var value string
	switch key {
	case KeyWelcome:
		value = t.Welcome
	case KeyRules:
		value = t.Rules
	case KeyAbout:
		value = t.About
	case KeyStorage:
		value = t.Storage
	case KeyStorageUser:
		value = t.StorageUser
	case KeyAccessDenied:
		value = t.AccessDenied
	case KeyUnknownCommand:
		value = t.UnknownCommand
	default:
		return "", false
	}

	return value, value != ""
}

// merge overrides every non-empty field of override.
func (t Texts) merge(override Texts) Texts {
	pick := func(base, next string) string {
		if next != "" {
			return next
		}
		return base
	}

	return Texts{
		Welcome:        pick(t.Welcome, override.Welcome),
		Rules:          pick(t.Rules, override.Rules),
		About:          pick(t.About, override.About),
		Storage:        pick(t.Storage, override.Storage),
		StorageUser:    pick(t.StorageUser, override.StorageUser),
		AccessDenied:   pick(t.AccessDenied, override.AccessDenied),
		UnknownCommand: pick(t.UnknownCommand, override.UnknownCommand),
		ButtonStorage:  pick(t.ButtonStorage, override.ButtonStorage),
		ButtonRules:    pick(t.ButtonRules, override.ButtonRules),
		ButtonFAQ:      pick(t.ButtonFAQ, override.ButtonFAQ),
		ButtonSupport:  pick(t.ButtonSupport, override.ButtonSupport),
		HealthOK:       pick(t.HealthOK, override.HealthOK),
	}
}

// Trigger replies with a catalog text when a message contains one of its keywords.
type Trigger struct {
	Name     string             `yaml:"name"`
	Keywords []string           `yaml:"keywords"`
	Text     string             `yaml:"text"`
	Kind     herald.MessageKind `yaml:"kind"`
}

// Matches reports whether text contains any keyword, ignoring case.
func (t Trigger) Matches(text string) bool {
	lowered := strings.ToLower(text)
	for _, keyword := range t.Keywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword != "" && strings.Contains(lowered, keyword) {
			return true
		}
	}

	return false
}

// Catalog is the complete localized text and trigger set.
type Catalog struct {
	DefaultLanguage string           `yaml:"default_language"`
	Languages       map[string]Texts `yaml:"languages"`
	Triggers        []Trigger        `yaml:"triggers"`
}

// Default parses the embedded catalog.
func Default() (*Catalog, error) {
	catalog, err := parse(embeddedCatalog)
	if err != nil {
		return nil, fmt.Errorf("parse embedded catalog: %w", err)
	}
	if err := catalog.Validate(); err != nil {
		return nil, fmt.Errorf("validate embedded catalog: %w", err)
	}

	return catalog, nil
}

// Load returns the embedded catalog overridden by the YAML file at path.
//
// An empty path returns the embedded catalog. Override texts replace embedded
// texts field by field; a non-empty trigger list replaces the embedded triggers.
func Load(path string) (*Catalog, error) {
	catalog, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return catalog, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file %s: %w", path, err)
	}
	override, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse catalog file %s: %w", path, err)
	}

	catalog.apply(override)
	if err := catalog.Validate(); err != nil {
		return nil, fmt.Errorf("validate catalog file %s: %w", path, err)
	}

	return catalog, nil
}

func parse(data []byte) (*Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, err
	}

	return &catalog, nil
}

func (c *Catalog) apply(override *Catalog) {
	if override.DefaultLanguage != "" {
		c.DefaultLanguage = override.DefaultLanguage
	}
	if c.Languages == nil {
		c.Languages = make(map[string]Texts, len(override.Languages))
	}
	for lang, texts := range override.Languages {
		c.Languages[lang] = c.Languages[lang].merge(texts)
	}
	if len(override.Triggers) > 0 {
		c.Triggers = override.Triggers
	}
}

// Validate checks that every language is complete and triggers resolve.
func (c *Catalog) Validate() error {
	if _, ok := c.Languages[c.DefaultLanguage]; !ok {
		return fmt.Errorf("default language %q has no texts", c.DefaultLanguage)
	}
	for lang, texts := range c.Languages {
		required := map[string]string{
			KeyWelcome:    texts.Welcome,
			KeyRules:      texts.Rules,
			"btn_storage": texts.ButtonStorage,
			"btn_rules":   texts.ButtonRules,
		}
		for key, value := range required {
			if strings.TrimSpace(value) == "" {
				return fmt.Errorf("language %q: missing %s", lang, key)
			}
		}
	}
	for _, trigger := range c.Triggers {
		if len(trigger.Keywords) == 0 {
			return fmt.Errorf("trigger %q: no keywords", trigger.Name)
		}
		if err := trigger.Kind.Validate(); err != nil {
			return fmt.Errorf("trigger %q: %w", trigger.Name, err)
		}
		if _, ok := c.Languages[c.DefaultLanguage].Lookup(trigger.Text); !ok {
			return fmt.Errorf("trigger %q: unknown text %q", trigger.Name, trigger.Text)
		}
	}

	return nil
}

// DetectLang maps a client language code to a supported language.
//
// Only the primary subtag is considered; unknown or empty codes get the default language.
func (c *Catalog) DetectLang(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if index := strings.IndexAny(code, "-_"); index >= 0 {
		code = code[:index]
	}
	if _, ok := c.Languages[code]; ok {
		return code
	}

	return c.DefaultLanguage
}

// Texts returns the table for lang, falling back to the default language.
func (c *Catalog) Texts(lang string) Texts {
	if texts, ok := c.Languages[lang]; ok {
		return texts
	}

	return c.Languages[c.DefaultLanguage]
}

// MatchTrigger returns the first trigger whose keywords occur in text.
func (c *Catalog) MatchTrigger(text string) (Trigger, bool) {
	if strings.TrimSpace(text) == "" || strings.HasPrefix(text, herald.CommandPrefix) {
		return Trigger{}, false
	}
	for _, trigger := range c.Triggers {
		if trigger.Matches(text) {
			return trigger, true
		}
	}

	return Trigger{}, false
}

// Vars are the placeholders substituted into texts.
type Vars struct {
	Name    string
	Project string
}

// Render substitutes {name} and {project}, escaping them for HTML parse mode.
func Render(template string, vars Vars) string {
	return strings.NewReplacer(
		"{name}", html.EscapeString(vars.Name),
		"{project}", html.EscapeString(vars.Project),
	).Replace(template)
}

// SafeName returns a display name usable in greetings.
func SafeName(displayName string) string {
	if name := strings.TrimSpace(displayName); name != "" {
		return name
	}

	return "User"
}
