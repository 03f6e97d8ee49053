// Package store provides durable, tenant-scoped persistence for the gateway.
//
// # Architecture
//
// Storage is split into small interfaces so each engine component depends
// only on what it uses:
//
//   - AuthStore: protocol credentials and named key blobs per tenant
//   - QuotaStore: daily send counters keyed by (tenant, recipient, day)
//   - WhitelistStore: per-tenant recipient allow-list
//   - APIKeyStore: API key to tenant resolution
//   - MessageLog: append-only log of normalized inbound messages
//
// Store combines all of them. SQLiteStore and PostgresStore implement Store;
// RedisQuotaStore implements only QuotaStore and can back the send guard
// while everything else stays in SQL.
//
// # Absence Is Not An Error
//
// LoadAuth returns a fresh record for unknown tenants, GetKeys omits names
// it does not find, and GetQuotaCount returns zero for a missing counter.
// ErrNotFound is reserved for lookups whose caller must distinguish absence,
// such as resolving an API key.
//
// # Counters
//
// IncrementQuota is a single atomic statement on every backend:
//
//	INSERT ... ON CONFLICT (tenant_id, recipient, day)
//	DO UPDATE SET count = quota_counters.count + 1 RETURNING count
//
// Redis uses INCR with an expiry in one transaction pipeline.
//
// # Key Names
//
// Protocol key names look like "{category}-{id}" where the id may contain
// '/' or ':'. EscapeKeyName maps them to storage keys ('/' to "__", ':' to
// '-') after escaping literal '_' and '-', so the mapping stays reversible.
//
// # Testing
//
// Use NewMockStore() for unit tests that do not need SQL, or a SQLite file
// under t.TempDir() for integration tests.
package store
