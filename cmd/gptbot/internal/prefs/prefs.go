// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package prefs validates user-entered preferences and command arguments.
package prefs

import (
	"math"
	"strconv"
	"strings"

	"go.astrophena.name/gptbot/internal/syncx"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// AutoLanguage lets the transcription API detect the language.
const AutoLanguage = "auto"

// Speed limits and the value used for invalid input.
const (
	MinSpeed      = 0.8
	MaxSpeed      = 1.8
	FallbackSpeed = 1.0
)

// Languages lists the codes of languages the transcription API supports.
var Languages = []string{
	"af", "ar", "hy", "az", "be", "bs", "bg", "ca", "zh", "hr", "cs", "da",
	"nl", "en", "et", "fi", "fr", "gl", "de", "el", "he", "hi", "hu", "is",
	"id", "it", "ja", "kn", "kk", "ko", "lv", "lt", "mk", "ms", "mr", "mi",
	"ne", "no", "fa", "pl", "pt", "ro", "ru", "sr", "sk", "sl", "es", "sw",
	"sv", "tl", "ta", "th", "tr", "uk", "ur", "vi", "cy",
}

type languageIndex struct {
	matcher language.Matcher
	byName  map[string]string
}

var langs syncx.Lazy[*languageIndex]

func loadLanguages() *languageIndex {
	fold := cases.Fold()
	idx := &languageIndex{byName: make(map[string]string)}
	tags := make([]language.Tag, len(Languages))
	for i, code := range Languages {
		tag := language.MustParse(code)
		tags[i] = tag
		for _, name := range []string{
			display.English.Languages().Name(tag),
			display.Self.Name(tag),
		} {
			if name != "" {
				idx.byName[fold.String(name)] = code
			}
		}
	}
	idx.matcher = language.NewMatcher(tags)
	return idx
}

// ValidateLanguage turns user input into one of [Languages] or [AutoLanguage].
// The input may be a language tag ("de", "pt-BR") or a language name in
// English or in the language itself ("German", "Deutsch"). Anything that
// can't be matched yields [AutoLanguage].
func ValidateLanguage(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, AutoLanguage) {
		return AutoLanguage
	}
	idx := langs.Get(loadLanguages)

	if len(s) > 3 {
		if code, ok := idx.byName[cases.Fold().String(s)]; ok {
			return code
		}
	}
	tag, err := language.Parse(s)
	if err != nil {
		return AutoLanguage
	}
	_, i, conf := idx.matcher.Match(tag)
	if conf == language.No {
		return AutoLanguage
	}
	return Languages[i]
}

// ValidateSpeed parses an audio speed. Empty, malformed or out of range input
// yields [FallbackSpeed].
func ValidateSpeed(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || v < MinSpeed || v > MaxSpeed {
		return FallbackSpeed
	}
	return v
}

// FormatFloat formats v the way it is shown to users: the shortest
// representation that keeps at least one decimal, like "1.0" or "1.25".
func FormatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEN") {
		s += ".0"
	}
	return s
}

// FormatCost rounds a dollar amount to cents and formats it with
// [FormatFloat].
func FormatCost(v float64) string {
	return FormatFloat(math.Round(v*100) / 100)
}

// CommandArgument returns the trimmed text following the command cmd (such as
// "/speed") at the start of text. The command may carry a bot username
// suffix, like "/speed@gptbot". It returns "" if text doesn't start with cmd
// or has nothing after it.
func CommandArgument(cmd, text string) string {
	text = strings.TrimSpace(text)
	word, rest, _ := strings.Cut(text, " ")
	if nl := strings.IndexByte(word, '\n'); nl >= 0 {
		word, rest = word[:nl], word[nl+1:]+" "+rest
	}
	name, _, _ := strings.Cut(word, "@")
	if name != cmd {
		return ""
	}
	return strings.TrimSpace(rest)
}
