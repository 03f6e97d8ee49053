// Package inbox buffers normalized inbound messages per tenant until a
// polling consumer picks them up.
//
// # Buffer
//
// Each tenant owns one Buffer. Push appends and evicts the oldest items once
// the capacity (default 200) is exceeded. Read returns the most recent
// window, oldest first, optionally filtered to one sender and optionally
// consuming what it returned:
//
//	items := buf.Read(inbox.ReadOptions{Consume: true, Limit: 20, From: "0812..."})
//
// Consumption removes returned items by ID. When none of the returned items
// carry an ID it falls back to removing everything with a timestamp at or
// before the last returned item, which can over-consume on timestamp ties.
//
// # Debug Trace
//
// Separately from the consumable items, the buffer keeps a ring of the last
// 50 inbound events (metadata only, no content) and upsert counters, exposed
// through Debug for operational diagnosis.
package inbox
