// ABOUTME: Per-connection dispatcher applying protocol events to a session in delivery order
// ABOUTME: A superseded connection still delivers its messages; its other events are ignored

package session

import (
	"context"

	"github.com/2389/wa-gateway/internal/dedupe"
	"github.com/2389/wa-gateway/internal/inbox"
	"github.com/2389/wa-gateway/internal/metrics"
	"github.com/2389/wa-gateway/internal/protocol"
	"github.com/2389/wa-gateway/internal/store"
)

// dispatch consumes conn's events until the stream closes.
func (r *Registry) dispatch(s *Session, conn protocol.Conn, auth *authState, gen uint64) {
	logger := r.logger.With("tenant", s.tenant, "generation", gen)
	logger.Debug("dispatcher started")
	defer logger.Debug("dispatcher stopped")

	for ev := range conn.Events() {
		if !s.current(gen) && ev.Kind != protocol.EventMessages {
			continue
		}

		switch ev.Kind {
		case protocol.EventCredentials:
			auth.updateCredentials(ev.Credentials)
			r.goBackground("save_credentials", s.tenant, auth.persist)
		case protocol.EventChats:
			s.mergeChats(ev.Chats)
		case protocol.EventGroups:
			s.mergeGroups(ev.Groups)
		case protocol.EventMessages:
			r.handleMessages(s, ev.Messages)
		case protocol.EventConnection:
			if ev.Connection != nil {
				r.handleConnection(s, auth, gen, *ev.Connection)
			}
		default:
			logger.Debug("ignoring event", "kind", ev.Kind.String())
		}
	}
}

func (r *Registry) handleConnection(s *Session, auth *authState, gen uint64, upd protocol.ConnectionUpdate) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}

	if upd.Challenge != "" {
		s.challenge = upd.Challenge
		s.setStateLocked(StateConnecting)
		metrics.PairingChallenges.Inc()
	}

	switch upd.State {
	case protocol.StateOpen:
		s.challenge = ""
		s.setStateLocked(StateOpen)
		s.mu.Unlock()
		r.logger.Info("connection open", "tenant", s.tenant)

	case protocol.StateClose:
		loggedOut := upd.Reason == protocol.CloseLoggedOut
		if loggedOut {
			s.loggedOut = true
			s.purgeAuth = true
			s.clearCachesLocked()
		}
		s.detachLocked(StateDisconnected)
		s.mu.Unlock()

		r.logger.Info("connection closed", "tenant", s.tenant, "reason", string(upd.Reason), "error", upd.Err)
		if loggedOut {
			// The device was unlinked remotely; stored credentials are dead.
			auth.revoke()
			r.goBackground("clear_auth", s.tenant, func(ctx context.Context) error {
				s.lifecycle.Lock()
				defer s.lifecycle.Unlock()
				return r.purgePending(ctx, s)
			})
			return
		}
		r.scheduleReconnect(s)

	default:
		s.mu.Unlock()
	}
}

func (r *Registry) handleMessages(s *Session, msgs []protocol.Message) {
	now := r.now()
	s.inbox.RecordUpsert(now)

	for _, m := range msgs {
		if m.Key == (protocol.MessageKey{}) {
			continue
		}
		s.inbox.RecordMessage()

		if skipInbound(m) {
			metrics.InboundMessages.WithLabelValues("skipped").Inc()
			continue
		}
		if m.Key.ID != "" && r.seen.Seen(dedupe.Key(s.tenant, m.Key.ID)) {
			metrics.InboundMessages.WithLabelValues("duplicate").Inc()
			continue
		}

		s.inbox.Trace(traceEntry(m, now))

		item, ok := toItem(m, now)
		if !ok {
			metrics.InboundMessages.WithLabelValues("skipped").Inc()
			continue
		}
		s.inbox.Push(item)
		metrics.InboundMessages.WithLabelValues("buffered").Inc()

		if r.deps.Feed != nil {
			r.deps.Feed.Publish(s.tenant, item)
		}
		r.fanOut(s.tenant, item)
	}
}

// fanOut starts the webhook forward and durable log write for item.
func (r *Registry) fanOut(tid string, item inbox.Item) {
	if fw := r.deps.Forwarder; fw != nil && fw.Wants(item.From) {
		r.goBackground("webhook", tid, func(ctx context.Context) error {
			return fw.Forward(ctx, tid, item)
		})
	}

	if log := r.deps.Messages; log != nil {
		msg := &store.IncomingMessage{
			Tenant:      tid,
			From:        item.From,
			SenderJID:   item.SenderJID,
			ChatJID:     item.ChatJID,
			PushName:    item.PushName,
			Type:        item.Type,
			Text:        item.Text,
			TimestampMS: item.Timestamp,
		}
		r.goBackground("message_log", tid, func(ctx context.Context) error {
			return log.SaveIncomingMessage(ctx, msg)
		})
	}
}
