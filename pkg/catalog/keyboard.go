package catalog

import (
	"strings"

	"herald/pkg/herald"
)

// RulesCallbackPrefix starts the callback data of the rules button.
const RulesCallbackPrefix = "rules:"

// RulesCallbackData encodes the rules button payload for lang.
func RulesCallbackData(lang string) string {
	return RulesCallbackPrefix + lang
}

// ParseRulesCallback extracts the language from rules button data.
func ParseRulesCallback(data string) (string, bool) {
	lang, ok := strings.CutPrefix(data, RulesCallbackPrefix)
	if !ok || lang == "" {
		return "", false
	}

	return lang, true
}

// Links are the external URLs offered on keyboards.
type Links struct {
	Storage string
	FAQ     string
	Support string
}

// WelcomeKeyboard builds the storage and rules row plus an optional FAQ and support row.
func WelcomeKeyboard(texts Texts, lang string, links Links) herald.InlineKeyboard {
	keyboard := herald.InlineKeyboard{
		Rows: [][]herald.InlineButton{{
			{Text: texts.ButtonStorage, URL: links.Storage},
			{Text: texts.ButtonRules, CallbackData: RulesCallbackData(lang)},
		}},
	}

	var extra []herald.InlineButton
	if links.FAQ != "" && texts.ButtonFAQ != "" {
		extra = append(extra, herald.InlineButton{Text: texts.ButtonFAQ, URL: links.FAQ})
	}
	if links.Support != "" && texts.ButtonSupport != "" {
		extra = append(extra, herald.InlineButton{Text: texts.ButtonSupport, URL: links.Support})
	}
	if len(extra) > 0 {
		keyboard.Rows = append(keyboard.Rows, extra)
	}

	return keyboard
}

// StorageKeyboard builds the single storage link button.
func StorageKeyboard(texts Texts, storageURL string) herald.InlineKeyboard {
	return herald.InlineKeyboard{
		Rows: [][]herald.InlineButton{{
			{Text: texts.ButtonStorage, URL: storageURL},
		}},
	}
}
