// Package quota enforces per-tenant, per-recipient daily send caps.
//
// The Guard separates checking from counting. BeforeSend runs ahead of the
// protocol send and may reject it or delay it; Increment runs only after
// the send succeeded, so failed sends never consume quota:
//
//	res, err := guard.BeforeSend(ctx, tenant, jid)
//	var limitErr *quota.LimitError
//	if errors.As(err, &limitErr) {
//	    // report limitErr.Used / limitErr.Limit
//	}
//	if err := conn.Send(ctx, jid, payload); err != nil {
//	    return err
//	}
//	guard.Increment(ctx, tenant, jid)
//
// Recipients the connection reports as known contacts get LimitKnown sends a
// day (default 5), everyone else LimitUnknown (default 3). Sends to unknown
// recipients are additionally delayed by UnknownDelay (default 2s).
//
// Days are calendar days in the configured location. Counters live in a
// store.QuotaStore and are incremented atomically by the store.
package quota
