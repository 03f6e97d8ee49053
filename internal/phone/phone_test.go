// ABOUTME: Tests for phone number normalization helpers
// ABOUTME: Covers country prefix rewriting, device suffixes, and handle classification

package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"no digits", "abc", ""},
		{"local zero prefix", "081234567890", "6281234567890"},
		{"already international", "6281234567890", "6281234567890"},
		{"plus prefix", "+62 812-3456-7890", "6281234567890"},
		{"bare subscriber", "81234567890", "6281234567890"},
		{"other country", "4915112345678", "4915112345678"},
		{"user handle", "6281234567890@s.whatsapp.net", "6281234567890"},
		{"device suffix", "6281234567890:12@s.whatsapp.net", "6281234567890"},
		{"lid handle", "123456789@lid", "123456789"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestCounterKey(t *testing.T) {
	assert.Equal(t, "6281234567890", CounterKey("6281234567890@s.whatsapp.net"))
	assert.Equal(t, "081234567890", CounterKey("0812-3456-7890"))
	assert.Equal(t, "", CounterKey("@s.whatsapp.net"))
}

func TestToJID(t *testing.T) {
	assert.Equal(t, "6281234567890@s.whatsapp.net", ToJID("+62 812 3456 7890"))
}

func TestClassification(t *testing.T) {
	assert.True(t, IsGroup("12036302@g.us"))
	assert.False(t, IsGroup("62812@s.whatsapp.net"))

	assert.True(t, IsBroadcast("status@broadcast"))
	assert.True(t, IsBroadcast("1234@broadcast"))
	assert.False(t, IsBroadcast("62812@s.whatsapp.net"))
}

func TestSameNumber(t *testing.T) {
	assert.True(t, SameNumber("62812@s.whatsapp.net", "62812"))
	assert.False(t, SameNumber("62812@s.whatsapp.net", "62813@s.whatsapp.net"))
	assert.False(t, SameNumber("@g.us", ""))
}
