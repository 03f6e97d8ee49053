// ABOUTME: Converts raw protocol messages into inbox items and debug trace entries
// ABOUTME: Text is taken from the first text-bearing content field

package session

import (
	"time"

	"github.com/2389/wa-gateway/internal/inbox"
	"github.com/2389/wa-gateway/internal/phone"
	"github.com/2389/wa-gateway/internal/protocol"
)

const unknownType = "unknown"

// extractText returns the message's readable text, or nil.
func extractText(c *protocol.Content) *string {
	if c == nil {
		return nil
	}
	for _, s := range []string{
		c.Conversation,
		c.ExtendedText,
		c.ImageCaption,
		c.VideoCaption,
		c.DocumentCaption,
		c.ButtonsReply,
		c.ListTitle,
		c.TemplateReply,
	} {
		if s != "" {
			return &s
		}
	}
	return nil
}

func messageType(m protocol.Message) string {
	if m.Content == nil || m.Type == "" {
		return unknownType
	}
	return m.Type
}

// senderOf returns the sending handle: the participant in groups, the chat otherwise.
func senderOf(m protocol.Message) string {
	if m.Key.Participant != "" {
		return m.Key.Participant
	}
	return m.Key.RemoteJID
}

// skipInbound reports messages that never reach the inbox or trace.
func skipInbound(m protocol.Message) bool {
	return m.Key.FromMe || m.Key.RemoteJID == "" || phone.IsBroadcast(m.Key.RemoteJID)
}

func traceEntry(m protocol.Message, now time.Time) inbox.TraceEntry {
	sender := senderOf(m)
	return inbox.TraceEntry{
		TS:          now.UnixMilli(),
		RemoteJID:   m.Key.RemoteJID,
		SenderJID:   sender,
		SenderPhone: phone.Normalize(sender),
		FromMe:      m.Key.FromMe,
		MsgType:     messageType(m),
	}
}

// toItem normalizes m. ok is false when the sender has no usable number.
func toItem(m protocol.Message, now time.Time) (inbox.Item, bool) {
	sender := senderOf(m)
	from := phone.Normalize(sender)
	if from == "" {
		return inbox.Item{}, false
	}

	ts := now.UnixMilli()
	if m.Timestamp > 0 {
		ts = m.Timestamp * 1000
	}

	return inbox.Item{
		ID:        m.Key.ID,
		From:      from,
		SenderJID: sender,
		ChatJID:   m.Key.RemoteJID,
		PushName:  m.PushName,
		Type:      messageType(m),
		Text:      extractText(m.Content),
		Timestamp: ts,
	}, true
}
