// ABOUTME: Tests for inbound message normalization
// ABOUTME: Covers text extraction order, sender selection, skips, and timestamps

package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/wa-gateway/internal/protocol"
)

func TestExtractText(t *testing.T) {
	tests := []struct {
		name    string
		content *protocol.Content
		want    string
	}{
		{"conversation wins", &protocol.Content{Conversation: "a", ExtendedText: "b"}, "a"},
		{"extended text", &protocol.Content{ExtendedText: "b", ImageCaption: "c"}, "b"},
		{"image caption", &protocol.Content{ImageCaption: "c"}, "c"},
		{"video caption", &protocol.Content{VideoCaption: "v"}, "v"},
		{"document caption", &protocol.Content{DocumentCaption: "d"}, "d"},
		{"button reply", &protocol.Content{ButtonsReply: "yes"}, "yes"},
		{"list title", &protocol.Content{ListTitle: "menu"}, "menu"},
		{"template reply", &protocol.Content{TemplateReply: "ok"}, "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractText(tt.content)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, *got)
		})
	}

	assert.Nil(t, extractText(nil))
	assert.Nil(t, extractText(&protocol.Content{}))
}

func TestSkipInbound(t *testing.T) {
	tests := []struct {
		key  protocol.MessageKey
		skip bool
	}{
		{protocol.MessageKey{RemoteJID: "62811@s.whatsapp.net"}, false},
		{protocol.MessageKey{RemoteJID: "62811@s.whatsapp.net", FromMe: true}, true},
		{protocol.MessageKey{RemoteJID: ""}, true},
		{protocol.MessageKey{RemoteJID: "status@broadcast"}, true},
		{protocol.MessageKey{RemoteJID: "1234@broadcast"}, true},
		{protocol.MessageKey{RemoteJID: "1203@g.us", Participant: "62811@s.whatsapp.net"}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.skip, skipInbound(protocol.Message{Key: tt.key}), "%+v", tt.key)
	}
}

func TestToItem(t *testing.T) {
	now := time.UnixMilli(1700000000123)

	item, ok := toItem(protocol.Message{
		Key:      protocol.MessageKey{ID: "m1", RemoteJID: "1203@g.us", Participant: "0811-2222@s.whatsapp.net"},
		PushName: "Budi",
		Type:     "extendedTextMessage",
		Content:  &protocol.Content{ExtendedText: "halo"},
	}, now)
	require.True(t, ok)
	assert.Equal(t, "628112222", item.From)
	assert.Equal(t, "0811-2222@s.whatsapp.net", item.SenderJID)
	assert.Equal(t, "1203@g.us", item.ChatJID)
	assert.Equal(t, "extendedTextMessage", item.Type)
	assert.Equal(t, int64(1700000000123), item.Timestamp, "missing timestamp uses receive time")
	require.NotNil(t, item.Text)
	assert.Equal(t, "halo", *item.Text)

	item, ok = toItem(protocol.Message{
		Key:       protocol.MessageKey{RemoteJID: "62811@s.whatsapp.net"},
		Timestamp: 1700000000,
	}, now)
	require.True(t, ok)
	assert.Equal(t, int64(1700000000000), item.Timestamp)
	assert.Equal(t, "unknown", item.Type)
	assert.Nil(t, item.Text)

	_, ok = toItem(protocol.Message{Key: protocol.MessageKey{RemoteJID: "abc@lid"}}, now)
	assert.False(t, ok)
}

func TestTraceEntry(t *testing.T) {
	now := time.UnixMilli(42)
	e := traceEntry(protocol.Message{
		Key:     protocol.MessageKey{RemoteJID: "62811@s.whatsapp.net"},
		Type:    "conversation",
		Content: &protocol.Content{Conversation: "secret"},
	}, now)

	assert.Equal(t, int64(42), e.TS)
	assert.Equal(t, "62811", e.SenderPhone)
	assert.Equal(t, "conversation", e.MsgType)
}
