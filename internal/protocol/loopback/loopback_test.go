// ABOUTME: Tests for the in-process loopback network
// ABOUTME: Covers pairing, delivery, disconnects, sends, and contact lookups

package loopback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/wa-gateway/internal/protocol"
)

type memAuth struct {
	mu    sync.Mutex
	creds []byte
	keys  map[string][]byte
}

func (m *memAuth) Credentials() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds
}

func (m *memAuth) GetKeys(_ context.Context, category string, ids []string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte)
	for _, id := range ids {
		if v, ok := m.keys[category+"-"+id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (m *memAuth) SetKeys(_ context.Context, data map[string]map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = make(map[string][]byte)
	}
	for cat, ids := range data {
		for id, v := range ids {
			if v == nil {
				delete(m.keys, cat+"-"+id)
				continue
			}
			m.keys[cat+"-"+id] = v
		}
	}
	return nil
}

func next(t *testing.T, c protocol.Conn) protocol.Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		require.True(t, ok, "event stream closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return protocol.Event{}
}

func dial(t *testing.T, n *Network, tenant string, auth *memAuth) protocol.Conn {
	t.Helper()
	c, err := n.Dial(context.Background(), protocol.DialOptions{Tenant: tenant, Auth: auth})
	require.NoError(t, err)
	return c
}

func TestDial_WithoutCredentialsIssuesChallenge(t *testing.T) {
	n := NewNetwork()
	c := dial(t, n, "acme", &memAuth{})

	ev := next(t, c)
	require.Equal(t, protocol.EventConnection, ev.Kind)
	assert.Equal(t, protocol.StateConnecting, ev.Connection.State)
	assert.Contains(t, ev.Connection.Challenge, "loopback-pair:acme:")
	assert.False(t, c.IsWritable())
}

func TestPair_EmitsCredentialsThenOpen(t *testing.T) {
	n := NewNetwork()
	auth := &memAuth{}
	c := dial(t, n, "acme", auth)
	next(t, c)

	require.NoError(t, n.Pair("acme"))

	ev := next(t, c)
	require.Equal(t, protocol.EventCredentials, ev.Kind)
	assert.NotEmpty(t, ev.Credentials)

	ev = next(t, c)
	require.Equal(t, protocol.EventConnection, ev.Kind)
	assert.Equal(t, protocol.StateOpen, ev.Connection.State)
	assert.True(t, c.IsWritable())

	keys, err := auth.GetKeys(context.Background(), "pre-key", []string{"1", "2", "3"})
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	assert.Error(t, n.Pair("acme"), "second pair has nothing pending")
}

func TestAutoPair(t *testing.T) {
	n := NewNetwork(WithAutoPair(10 * time.Millisecond))
	c := dial(t, n, "acme", &memAuth{})

	assert.Equal(t, protocol.StateConnecting, next(t, c).Connection.State)
	assert.Equal(t, protocol.EventCredentials, next(t, c).Kind)
	assert.Equal(t, protocol.StateOpen, next(t, c).Connection.State)
}

func TestDial_WithCredentialsOpensAndAnnounces(t *testing.T) {
	n := NewNetwork()
	n.SetChats("acme", protocol.Chat{JID: "628111@s.whatsapp.net", Name: "Budi"})
	n.SetGroups("acme", protocol.Group{JID: "123@g.us", Subject: "Team"})

	c := dial(t, n, "acme", &memAuth{creds: []byte(`{}`)})

	assert.Equal(t, protocol.StateOpen, next(t, c).Connection.State)
	ev := next(t, c)
	require.Equal(t, protocol.EventChats, ev.Kind)
	assert.Equal(t, "Budi", ev.Chats[0].Name)
	ev = next(t, c)
	require.Equal(t, protocol.EventGroups, ev.Kind)
	assert.Equal(t, "Team", ev.Groups[0].Subject)

	groups, err := c.Groups(context.Background())
	require.NoError(t, err)
	assert.Len(t, groups, 1)
}

func TestDeliverAndDrop(t *testing.T) {
	n := NewNetwork()
	c := dial(t, n, "acme", &memAuth{creds: []byte(`{}`)})
	next(t, c)

	msg := protocol.Message{Key: protocol.MessageKey{ID: "m1", RemoteJID: "628111@s.whatsapp.net"}}
	require.NoError(t, n.Deliver("acme", msg))
	ev := next(t, c)
	require.Equal(t, protocol.EventMessages, ev.Kind)
	assert.Equal(t, "m1", ev.Messages[0].Key.ID)

	assert.Equal(t, 1, n.Live("acme"))
	require.NoError(t, n.Drop("acme", protocol.CloseConnectionLost))
	ev = next(t, c)
	assert.Equal(t, protocol.StateClose, ev.Connection.State)
	assert.Equal(t, protocol.CloseConnectionLost, ev.Connection.Reason)

	_, ok := <-c.Events()
	assert.False(t, ok, "stream closes after the close update")
	assert.Equal(t, 0, n.Live("acme"))
	assert.ErrorIs(t, n.Deliver("acme", msg), protocol.ErrClosed)

	// Closing twice is harmless.
	assert.NoError(t, c.Close())
}

func TestLogout(t *testing.T) {
	n := NewNetwork()
	c := dial(t, n, "acme", &memAuth{creds: []byte(`{}`)})
	next(t, c)

	require.NoError(t, c.Logout(context.Background()))
	ev := next(t, c)
	assert.Equal(t, protocol.CloseLoggedOut, ev.Connection.Reason)
	assert.ErrorIs(t, c.Logout(context.Background()), protocol.ErrClosed)
}

func TestSend(t *testing.T) {
	n := NewNetwork()
	ctx := context.Background()
	c := dial(t, n, "acme", &memAuth{})
	next(t, c)

	assert.ErrorIs(t, c.Send(ctx, "628111@s.whatsapp.net", protocol.Payload{Text: "hi"}), protocol.ErrClosed,
		"sends fail before pairing")

	require.NoError(t, n.Pair("acme"))
	next(t, c)
	next(t, c)

	require.NoError(t, c.Send(ctx, "628111@s.whatsapp.net", protocol.Payload{Text: "hi"}))
	sent := n.Sent("acme")
	require.Len(t, sent, 1)
	assert.Equal(t, "hi", sent[0].Payload.Text)

	boom := errors.New("boom")
	n.FailSends("acme", boom)
	assert.ErrorIs(t, c.Send(ctx, "628111@s.whatsapp.net", protocol.Payload{Text: "again"}), boom)
	assert.Len(t, n.Sent("acme"), 1)
}

func TestIsKnownContact(t *testing.T) {
	n := NewNetwork()
	ctx := context.Background()
	n.SetContacts("acme", protocol.Contact{JID: "628111@s.whatsapp.net", Name: "Budi"})
	c := dial(t, n, "acme", &memAuth{creds: []byte(`{}`)})
	next(t, c)

	known, err := c.IsKnownContact(ctx, "628111@s.whatsapp.net")
	require.NoError(t, err)
	assert.True(t, known)

	known, err = c.IsKnownContact(ctx, "628222@s.whatsapp.net")
	require.NoError(t, err)
	assert.False(t, known)

	contacts, err := c.Contacts(ctx)
	require.NoError(t, err)
	assert.Len(t, contacts, 1)
}

func TestSimulationWithoutConnection(t *testing.T) {
	n := NewNetwork()
	assert.ErrorIs(t, n.Pair("ghost"), ErrNoConnection)
	assert.ErrorIs(t, n.Drop("ghost", protocol.CloseConnectionLost), ErrNoConnection)
	assert.Equal(t, protocol.StateClose, n.State("ghost"))
}
