package proctor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyPolicy_Match(t *testing.T) {
	policy := DefaultKeyPolicy()

	tests := []struct {
		name  string
		combo KeyCombo
		want  string
	}{
		{"devtools f12", KeyCombo{Key: "F12"}, "F12"},
		{"inspect", KeyCombo{Key: "i", Ctrl: true, Shift: true}, "Ctrl+Shift+I"},
		{"inspect with cmd shift", KeyCombo{Key: "I", Meta: true, Shift: true}, "Ctrl+Shift+I"},
		{"inspect on mac", KeyCombo{Key: "ˆ", Code: "KeyI", Meta: true, Alt: true}, "Cmd+Option+I"},
		{"console on mac", KeyCombo{Key: "∆", Code: "KeyJ", Meta: true, Alt: true}, "Cmd+Option+J"},
		{"element picker on mac", KeyCombo{Key: "c", Code: "KeyC", Meta: true, Alt: true}, "Cmd+Option+C"},
		{"option letter alone", KeyCombo{Key: "ˆ", Code: "KeyI", Alt: true}, ""},
		{"console", KeyCombo{Key: "j", Ctrl: true, Shift: true}, "Ctrl+Shift+J"},
		{"view source", KeyCombo{Key: "u", Ctrl: true}, "Ctrl+U"},
		{"save", KeyCombo{Key: "s", Ctrl: true}, "Ctrl+S"},
		{"print", KeyCombo{Key: "p", Meta: true}, "Ctrl+P"},
		{"reload", KeyCombo{Key: "r", Ctrl: true}, "Ctrl+R"},
		{"hard reload", KeyCombo{Key: "R", Ctrl: true, Shift: true}, "Ctrl+R"},
		{"refresh key", KeyCombo{Key: "F5"}, "F5"},
		{"plain copy", KeyCombo{Key: "c", Ctrl: true}, ""},
		{"plain letter", KeyCombo{Key: "i"}, ""},
		{"shift only", KeyCombo{Key: "I", Shift: true}, ""},
		{"arrow", KeyCombo{Key: "ArrowDown"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, ok := policy.Match(tt.combo)
			if tt.want == "" {
				assert.False(t, ok)
				return
			}
			assert.True(t, ok)
			assert.Equal(t, tt.want, rule.Label)
		})
	}
}

func TestKeyCombo_String(t *testing.T) {
	assert.Equal(t, "Ctrl+Shift+I", KeyCombo{Key: "i", Ctrl: true, Shift: true}.String())
	assert.Equal(t, "F12", KeyCombo{Key: "F12"}.String())
}
