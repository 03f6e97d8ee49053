// ABOUTME: Backend-independent behavior tests shared by every Store implementation
// ABOUTME: Covers auth round trips, atomic counters, tenant isolation, whitelist, keys, and message log

package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("LoadAuthFresh", func(t *testing.T) {
		s := newStore(t)
		rec, err := s.LoadAuth(context.Background(), "nobody")
		require.NoError(t, err)
		assert.Equal(t, "nobody", rec.Tenant)
		assert.True(t, rec.IsFresh())
	})

	t.Run("CredentialsRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SaveCredentials(ctx, "Acme", []byte(`{"me":"1"}`)))
		require.NoError(t, s.SaveCredentials(ctx, "acme", []byte(`{"me":"2"}`)))

		rec, err := s.LoadAuth(ctx, "ACME")
		require.NoError(t, err)
		assert.Equal(t, "acme", rec.Tenant)
		assert.Equal(t, `{"me":"2"}`, string(rec.Credentials))
		assert.False(t, rec.UpdatedAt.IsZero())
	})

	t.Run("KeysRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		entries := map[string][]byte{
			"pre-key-1":                      []byte("one"),
			"pre-key-2":                      []byte("two"),
			"session-62812:3@s.whatsapp.net": []byte("sess"),
			"app-state-sync-key-AB/CD":       []byte("sync"),
		}
		require.NoError(t, s.SetKeys(ctx, "acme", entries))

		names := []string{"pre-key-1", "pre-key-2", "session-62812:3@s.whatsapp.net", "app-state-sync-key-AB/CD", "pre-key-404"}
		got, err := s.GetKeys(ctx, "acme", names)
		require.NoError(t, err)
		assert.Equal(t, entries, got)
		_, present := got["pre-key-404"]
		assert.False(t, present, "missing names must be omitted")
	})

	t.Run("KeysNilDeletes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SetKeys(ctx, "acme", map[string][]byte{"pre-key-1": []byte("one"), "pre-key-2": []byte("two")}))
		require.NoError(t, s.SetKeys(ctx, "acme", map[string][]byte{"pre-key-1": nil, "pre-key-2": []byte("TWO")}))

		got, err := s.GetKeys(ctx, "acme", []string{"pre-key-1", "pre-key-2"})
		require.NoError(t, err)
		assert.Equal(t, map[string][]byte{"pre-key-2": []byte("TWO")}, got)
	})

	t.Run("KeysDistinctAfterEscaping", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SetKeys(ctx, "acme", map[string][]byte{
			"a-b":  []byte("dash"),
			"a:b":  []byte("colon"),
			"a/b":  []byte("slash"),
			"a__b": []byte("underscores"),
		}))

		got, err := s.GetKeys(ctx, "acme", []string{"a-b", "a:b", "a/b", "a__b"})
		require.NoError(t, err)
		assert.Equal(t, "dash", string(got["a-b"]))
		assert.Equal(t, "colon", string(got["a:b"]))
		assert.Equal(t, "slash", string(got["a/b"]))
		assert.Equal(t, "underscores", string(got["a__b"]))
	})

	t.Run("ClearAuth", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SaveCredentials(ctx, "acme", []byte("creds")))
		require.NoError(t, s.SetKeys(ctx, "acme", map[string][]byte{"pre-key-1": []byte("x")}))
		require.NoError(t, s.SaveCredentials(ctx, "other", []byte("other-creds")))
		require.NoError(t, s.SetKeys(ctx, "other", map[string][]byte{"pre-key-1": []byte("y")}))

		require.NoError(t, s.ClearAuth(ctx, "acme"))

		rec, err := s.LoadAuth(ctx, "acme")
		require.NoError(t, err)
		assert.True(t, rec.IsFresh())
		keys, err := s.GetKeys(ctx, "acme", []string{"pre-key-1"})
		require.NoError(t, err)
		assert.Empty(t, keys)

		// Other tenants are untouched.
		rec, err = s.LoadAuth(ctx, "other")
		require.NoError(t, err)
		assert.Equal(t, "other-creds", string(rec.Credentials))
		keys, err = s.GetKeys(ctx, "other", []string{"pre-key-1"})
		require.NoError(t, err)
		assert.Equal(t, "y", string(keys["pre-key-1"]))
	})

	t.Run("QuotaAbsentIsZero", func(t *testing.T) {
		s := newStore(t)
		n, err := s.GetQuotaCount(context.Background(), "acme", "62812", "2026-03-01")
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("QuotaIncrement", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for want := 1; want <= 3; want++ {
			n, err := s.IncrementQuota(ctx, "acme", "62812", "2026-03-01")
			require.NoError(t, err)
			assert.Equal(t, want, n)
		}

		n, err := s.GetQuotaCount(ctx, "acme", "62812", "2026-03-01")
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		// New day, other recipient and other tenant all start at zero.
		for _, k := range [][3]string{
			{"acme", "62812", "2026-03-02"},
			{"acme", "62813", "2026-03-01"},
			{"other", "62812", "2026-03-01"},
		} {
			n, err := s.GetQuotaCount(ctx, k[0], k[1], k[2])
			require.NoError(t, err)
			assert.Equal(t, 0, n, "%v", k)
		}
	})

	t.Run("QuotaConcurrentIncrements", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		const n = 25

		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.IncrementQuota(ctx, "acme", "62812", "2026-03-01"); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Errorf("IncrementQuota failed: %v", err)
		}

		got, err := s.GetQuotaCount(ctx, "acme", "62812", "2026-03-01")
		require.NoError(t, err)
		assert.Equal(t, n, got)
	})

	t.Run("Whitelist", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		list, err := s.ListWhitelist(ctx, "acme")
		require.NoError(t, err)
		assert.Empty(t, list)

		require.NoError(t, s.AddToWhitelist(ctx, "acme", "+62 813"))
		require.NoError(t, s.AddToWhitelist(ctx, "acme", "62812"))
		require.NoError(t, s.AddToWhitelist(ctx, "acme", "62812"))
		assert.Error(t, s.AddToWhitelist(ctx, "acme", "no digits"))

		list, err = s.ListWhitelist(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, []string{"62812", "62813"}, list)

		require.NoError(t, s.RemoveFromWhitelist(ctx, "acme", "62812@s.whatsapp.net"))
		require.NoError(t, s.RemoveFromWhitelist(ctx, "acme", "999"))
		list, err = s.ListWhitelist(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, []string{"62813"}, list)

		other, err := s.ListWhitelist(ctx, "other")
		require.NoError(t, err)
		assert.Empty(t, other)
	})

	t.Run("APIKeys", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		k1, err := s.CreateAPIKey(ctx, "Acme")
		require.NoError(t, err)
		assert.Equal(t, "acme", k1.Tenant)

		again, err := s.CreateAPIKey(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, k1.Key, again.Key, "existing key is returned")

		tid, err := s.GetTenantByAPIKey(ctx, k1.Key)
		require.NoError(t, err)
		assert.Equal(t, "acme", tid)

		_, err = s.GetTenantByAPIKey(ctx, "sk_unknown")
		assert.True(t, errors.Is(err, ErrNotFound))
		_, err = s.GetTenantByAPIKey(ctx, "")
		assert.True(t, errors.Is(err, ErrNotFound))

		_, err = s.CreateAPIKey(ctx, "beta")
		require.NoError(t, err)
		keys, err := s.ListAPIKeys(ctx)
		require.NoError(t, err)
		require.Len(t, keys, 2)
		assert.Equal(t, "acme", keys[0].Tenant)
		assert.Equal(t, "beta", keys[1].Tenant)

		require.NoError(t, s.DeleteAPIKey(ctx, "acme"))
		assert.True(t, errors.Is(s.DeleteAPIKey(ctx, "acme"), ErrNotFound))
		_, err = s.GetTenantByAPIKey(ctx, k1.Key)
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("MessageLog", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		text := "hello"
		for i, ts := range []int64{1000, 2000, 3000} {
			msg := &IncomingMessage{
				Tenant:      "acme",
				From:        "62812",
				SenderJID:   "62812@s.whatsapp.net",
				ChatJID:     "62812@s.whatsapp.net",
				Type:        "conversation",
				TimestampMS: ts,
			}
			if i == 0 {
				msg.Text = &text
			}
			require.NoError(t, s.SaveIncomingMessage(ctx, msg))
			assert.NotEmpty(t, msg.ID)
			assert.False(t, msg.CreatedAt.IsZero())
		}

		msgs, err := s.ListIncomingMessages(ctx, "acme", 2)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, int64(2000), msgs[0].TimestampMS)
		assert.Equal(t, int64(3000), msgs[1].TimestampMS)
		assert.Nil(t, msgs[0].Text)

		msgs, err = s.ListIncomingMessages(ctx, "acme", 10)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		require.NotNil(t, msgs[0].Text)
		assert.Equal(t, "hello", *msgs[0].Text)

		none, err := s.ListIncomingMessages(ctx, "other", 10)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}
