// Package session owns one logical chat-network session per tenant.
//
// A Registry de-duplicates concurrent connect attempts, runs one dispatcher
// goroutine per live connection so a tenant's events are handled in order,
// reconnects after transient disconnects, and purges credentials on logout.
// Inbound messages land in the tenant's inbox.Buffer.
package session
