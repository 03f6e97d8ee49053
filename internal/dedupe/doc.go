// Package dedupe suppresses repeated inbound message IDs. Networks redeliver
// recent history after a reconnect; the window makes sure each message
// reaches a tenant's inbox once.
package dedupe
