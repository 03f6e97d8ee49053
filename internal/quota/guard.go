// ABOUTME: Send guard combining daily quota checks with the unknown-recipient delay
// ABOUTME: Check and increment are separate so only delivered messages count

package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/wa-gateway/internal/metrics"
	"github.com/2389/wa-gateway/internal/phone"
	"github.com/2389/wa-gateway/internal/store"
	"github.com/2389/wa-gateway/internal/tenant"
)

// Defaults used when Config fields are zero.
const (
	DefaultLimitKnown   = 5
	DefaultLimitUnknown = 3
	DefaultUnknownDelay = 2 * time.Second
)

// DayLayout formats the counter day key.
const DayLayout = "2006-01-02"

// ContactChecker answers whether a recipient is a known contact of the
// tenant's connected account.
type ContactChecker interface {
	IsKnownContact(ctx context.Context, tenant, recipient string) (bool, error)
}

// ContactCheckerFunc adapts a function to ContactChecker.
type ContactCheckerFunc func(ctx context.Context, tenant, recipient string) (bool, error)

// IsKnownContact calls f.
func (f ContactCheckerFunc) IsKnownContact(ctx context.Context, tenant, recipient string) (bool, error) {
	return f(ctx, tenant, recipient)
}

// Config holds guard limits.
type Config struct {
	LimitKnown   int
	LimitUnknown int
	// UnknownDelay is waited before sends to unknown recipients.
	// Negative disables the wait.
	UnknownDelay time.Duration
	// Location decides where a day starts. Nil means time.Local.
	Location *time.Location
}

// Result describes the quota position of one recipient.
type Result struct {
	Allowed bool `json:"allowed"`
	Limit   int  `json:"limit"`
	Used    int  `json:"used"`
	Known   bool `json:"isInContacts"`
}

// Remaining is the caller-facing quota summary.
type Remaining struct {
	Limit     int  `json:"limit"`
	Used      int  `json:"used"`
	Remaining int  `json:"remaining"`
	Known     bool `json:"isInContacts"`
}

// LimitError is returned by BeforeSend when the daily cap is reached.
type LimitError struct {
	Used  int
	Limit int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("daily limit for this recipient reached (%d/%d), try again tomorrow", e.Used, e.Limit)
}

// Guard gates outbound sends.
type Guard struct {
	store    store.QuotaStore
	contacts ContactChecker
	cfg      Config
	logger   *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option customizes a Guard.
type Option func(*Guard)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// WithSleep replaces the context-aware delay used for unknown recipients.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Guard) { g.sleep = sleep }
}

// NewGuard creates a Guard. Zero config values fall back to the defaults.
func NewGuard(qs store.QuotaStore, contacts ContactChecker, cfg Config, logger *slog.Logger, opts ...Option) *Guard {
	if cfg.LimitKnown <= 0 {
		cfg.LimitKnown = DefaultLimitKnown
	}
	if cfg.LimitUnknown <= 0 {
		cfg.LimitUnknown = DefaultLimitUnknown
	}
	switch {
	case cfg.UnknownDelay == 0:
		cfg.UnknownDelay = DefaultUnknownDelay
	case cfg.UnknownDelay < 0:
		cfg.UnknownDelay = 0
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}

	g := &Guard{
		store:    qs,
		contacts: contacts,
		cfg:      cfg,
		logger:   logger.With("component", "quota"),
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Day returns the counter key for the current day.
func (g *Guard) Day() string {
	return g.now().In(g.cfg.Location).Format(DayLayout)
}

// known asks the oracle. Errors mean unknown, which selects the stricter limit.
func (g *Guard) known(ctx context.Context, tid, recipient string) bool {
	if g.contacts == nil {
		return false
	}
	ok, err := g.contacts.IsKnownContact(ctx, tid, recipient)
	if err != nil {
		g.logger.Debug("contact lookup failed, treating as unknown", "tenant", tid, "error", err)
		return false
	}
	return ok
}

func (g *Guard) limitFor(known bool) int {
	if known {
		return g.cfg.LimitKnown
	}
	return g.cfg.LimitUnknown
}

// CheckLimit reports whether one more send to recipient is allowed today.
// It never writes. A store read failure denies the send with Used = Limit.
func (g *Guard) CheckLimit(ctx context.Context, tenantID, recipient string) Result {
	tid := tenant.NormalizeID(tenantID)
	known := g.known(ctx, tid, recipient)
	limit := g.limitFor(known)

	used, err := g.store.GetQuotaCount(ctx, tid, phone.CounterKey(recipient), g.Day())
	if err != nil {
		g.logger.Error("reading quota counter", "tenant", tid, "error", err)
		return Result{Allowed: false, Limit: limit, Used: limit, Known: known}
	}

	return Result{Allowed: used < limit, Limit: limit, Used: used, Known: known}
}

// Increment records one delivered message. Call only after a successful send.
func (g *Guard) Increment(ctx context.Context, tenantID, recipient string) (int, error) {
	tid := tenant.NormalizeID(tenantID)
	n, err := g.store.IncrementQuota(ctx, tid, phone.CounterKey(recipient), g.Day())
	if err != nil {
		g.logger.Error("incrementing quota counter", "tenant", tid, "error", err)
		return 0, fmt.Errorf("incrementing quota: %w", err)
	}
	return n, nil
}

// BeforeSend checks the quota and, for unknown recipients, waits
// UnknownDelay before returning. Over-quota sends get a *LimitError. The
// only other error is ctx ending during the delay.
func (g *Guard) BeforeSend(ctx context.Context, tenantID, recipient string) (Result, error) {
	res := g.CheckLimit(ctx, tenantID, recipient)
	if !res.Allowed {
		g.logger.Debug("send rejected by daily limit",
			"tenant", tenant.NormalizeID(tenantID), "used", res.Used, "limit", res.Limit)
		metrics.QuotaRejections.WithLabelValues(contactLabel(res.Known)).Inc()
		return res, &LimitError{Used: res.Used, Limit: res.Limit}
	}

	if !res.Known {
		start := g.now()
		err := g.sleep(ctx, g.cfg.UnknownDelay)
		metrics.AntiBlockDelay.Observe(g.now().Sub(start).Seconds())
		if err != nil {
			return res, fmt.Errorf("waiting before send to unknown recipient: %w", err)
		}
	}
	return res, nil
}

func contactLabel(known bool) string {
	if known {
		return "known"
	}
	return "unknown"
}

// Remaining summarizes today's quota for recipient. A store read failure
// reports the full limit as remaining.
func (g *Guard) Remaining(ctx context.Context, tenantID, recipient string) Remaining {
	tid := tenant.NormalizeID(tenantID)
	known := g.known(ctx, tid, recipient)
	limit := g.limitFor(known)

	used, err := g.store.GetQuotaCount(ctx, tid, phone.CounterKey(recipient), g.Day())
	if err != nil {
		g.logger.Error("reading quota counter", "tenant", tid, "error", err)
		used = 0
	}

	return Remaining{Limit: limit, Used: used, Remaining: max(0, limit-used), Known: known}
}
