// Package intent decides whether an utterance needs live web context
// before it is answered.
package intent

import (
	"regexp"
	"strings"
)

// Triggers are the phrases that mark an utterance as needing a web
// search. Each matches on word boundaries, ignoring case, anywhere in
// the text.
var Triggers = []string{
	"search",
	"look up",
	"latest",
	"current",
	"today",
	"recent",
	"news",
	"weather",
	"price of",
	"how much is",
}

var triggerPattern = compile(Triggers)

// compile folds the phrases into a single alternation. Interior spaces
// match any run of whitespace so "look  up" still triggers.
func compile(phrases []string) *regexp.Regexp {
	alts := make([]string, len(phrases))
	for i, p := range phrases {
		alts[i] = strings.ReplaceAll(regexp.QuoteMeta(p), " ", `\s+`)
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(alts, "|") + `)\b`)
}

// NeedsAugmentation reports whether text contains any trigger phrase.
// Empty or garbage input returns false.
func NeedsAugmentation(text string) bool {
	if text == "" {
		return false
	}
	return triggerPattern.MatchString(text)
}

// Trigger returns the first trigger phrase found in text, as written in
// the utterance, or "" if none matched. Used for logging the route.
func Trigger(text string) string {
	return triggerPattern.FindString(text)
}
