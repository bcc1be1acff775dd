package syncer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoteDelta(t *testing.T) {
	tests := []struct {
		name     string
		previous string
		current  string
		want     string
		ok       bool
	}{
		{"prepended", "A", "BA", "B", true},
		{"prepended journal entry", "old entry", "new entry\n\nold entry", "new entry", true},
		{"appended", "first", "first\nsecond", "second", true},
		{"no previous value", "", " fresh ", "fresh", true},
		{"unchanged", "same", "same", "", false},
		{"shrunk", "long text", "long", "", false},
		{"rewritten", "abc", "xyzw", "", false},
		{"whitespace only growth", "A", "  A", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := NoteDelta(tc.previous, tc.current)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}
