package proctor

import "strings"

// KeyRule matches a restricted key. Ctrl also matches Meta, so Cmd+U and the
// like are caught on macOS; its devtools shortcuts use Cmd+Option and have Alt rules.
type KeyRule struct {
	Key   string `json:"key"`
	Ctrl  bool   `json:"ctrl,omitempty"`
	Shift bool   `json:"shift,omitempty"`
	Alt   bool   `json:"alt,omitempty"`
	Label string `json:"label"`
}

// KeyPolicy is the list of restricted key combinations.
type KeyPolicy []KeyRule

// DefaultKeyPolicy blocks developer tools, view source, saving, printing and refreshing.
func DefaultKeyPolicy() KeyPolicy {
	return KeyPolicy{
		{Key: "F12", Label: "F12"},
		{Key: "I", Ctrl: true, Shift: true, Label: "Ctrl+Shift+I"},
		{Key: "J", Ctrl: true, Shift: true, Label: "Ctrl+Shift+J"},
		{Key: "C", Ctrl: true, Shift: true, Label: "Ctrl+Shift+C"},
		{Key: "I", Ctrl: true, Alt: true, Label: "Cmd+Option+I"},
		{Key: "J", Ctrl: true, Alt: true, Label: "Cmd+Option+J"},
		{Key: "C", Ctrl: true, Alt: true, Label: "Cmd+Option+C"},
		{Key: "U", Ctrl: true, Label: "Ctrl+U"},
		{Key: "S", Ctrl: true, Label: "Ctrl+S"},
		{Key: "P", Ctrl: true, Label: "Ctrl+P"},
		{Key: "R", Ctrl: true, Label: "Ctrl+R"},
		{Key: "F5", Label: "F5"},
	}
}

// Match returns the rule the combo hits, if any.
func (p KeyPolicy) Match(k KeyCombo) (KeyRule, bool) {
	ctrl := k.Ctrl || k.Meta
	letter := k.letter()
	for _, r := range p {
		if !strings.EqualFold(r.Key, k.Key) && !strings.EqualFold(r.Key, letter) {
			continue
		}
		if r.Ctrl && !ctrl {
			continue
		}
		if r.Shift && !k.Shift {
			continue
		}
		if r.Alt && !k.Alt {
			continue
		}
		return r, true
	}
	return KeyRule{}, false
}

// Labels lists the human-readable combos, for the pre-start screen.
func (p KeyPolicy) Labels() []string {
	out := make([]string, len(p))
	for i, r := range p {
		out[i] = r.Label
	}
	return out
}
