// ABOUTME: Environment variable overrides applied after the config file
// ABOUTME: Keeps the variable names existing deployments already set

package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// overrides lists every supported variable. Nil means unset.
type overrides struct {
	Port                  *int    `env:"PORT"`
	HTTPAddr              *string `env:"WA_GATEWAY_HTTP_ADDR"`
	BaseURL               *string `env:"BASE_URL"`
	DatabaseDriver        *string `env:"DATABASE_DRIVER"`
	DatabasePath          *string `env:"DATABASE_PATH"`
	DatabaseURL           *string `env:"DATABASE_URL"`
	RedisURL              *string `env:"REDIS_URL"`
	QuotaBackend          *string `env:"QUOTA_BACKEND"`
	JWTSecret             *string `env:"JWT_SECRET"`
	DelayNotInContactsMS  *int    `env:"DELAY_NOT_IN_CONTACTS_MS"`
	LimitInContacts       *int    `env:"LIMIT_IN_CONTACTS_PER_DAY"`
	LimitNotInContacts    *int    `env:"LIMIT_NOT_IN_CONTACTS_PER_DAY"`
	Timezone              *string `env:"QUOTA_TIMEZONE"`
	WebhookURL            *string `env:"WEBHOOK_URL"`
	WebhookTriggerNumber  *string `env:"WEBHOOK_TRIGGER_NUMBER"`
	LogLevel              *string `env:"LOG_LEVEL"`
	LogFormat             *string `env:"LOG_FORMAT"`
	TailscaleAuthKey      *string `env:"TS_AUTHKEY"`
	LoopbackAutoPairDelay *string `env:"LOOPBACK_AUTO_PAIR"`
}

// LoadDotEnv loads ./.env into the process environment when present.
// Variables already set win.
func LoadDotEnv() {
	_ = godotenv.Load()
}

func applyEnv(cfg *Config) error {
	var o overrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	setString := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	setInt := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}

	if o.Port != nil {
		cfg.Server.HTTPAddr = ":" + strconv.Itoa(*o.Port)
	}
	setString(&cfg.Server.HTTPAddr, o.HTTPAddr)
	setString(&cfg.Server.BaseURL, o.BaseURL)
	setString(&cfg.Database.Driver, o.DatabaseDriver)
	setString(&cfg.Database.Path, o.DatabasePath)
	setString(&cfg.Database.DSN, o.DatabaseURL)
	setString(&cfg.Redis.URL, o.RedisURL)
	setString(&cfg.Quota.Backend, o.QuotaBackend)
	setString(&cfg.Auth.JWTSecret, o.JWTSecret)
	setInt(&cfg.Quota.LimitKnown, o.LimitInContacts)
	setInt(&cfg.Quota.LimitUnknown, o.LimitNotInContacts)
	setString(&cfg.Quota.Timezone, o.Timezone)
	setString(&cfg.Webhook.URL, o.WebhookURL)
	setString(&cfg.Webhook.TriggerNumber, o.WebhookTriggerNumber)
	setString(&cfg.Logging.Level, o.LogLevel)
	setString(&cfg.Logging.Format, o.LogFormat)
	setString(&cfg.Tailscale.AuthKey, o.TailscaleAuthKey)

	if o.DelayNotInContactsMS != nil {
		cfg.Quota.UnknownDelay = time.Duration(*o.DelayNotInContactsMS) * time.Millisecond
	}
	if o.LoopbackAutoPairDelay != nil {
		d, err := time.ParseDuration(*o.LoopbackAutoPairDelay)
		if err != nil {
			return fmt.Errorf("parsing LOOPBACK_AUTO_PAIR %q: %w", *o.LoopbackAutoPairDelay, err)
		}
		cfg.Network.AutoPair = d
	}
	return nil
}
