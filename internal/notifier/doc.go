// Package notifier delivers outbound messages through chat adapters with
// rate limiting, retry and duplicate suppression.
//
// Reminder dispatch uses Send, which blocks until the adapter accepts the
// message or retries run out, so the caller sees the final error. Operator
// traffic such as forwarded log lines uses Notify, which queues and returns.
//
// Duplicate suppression is keyed by Notification.DedupKey when set, else by
// a hash of the target and content. With PersistDedup the window survives
// restarts through storage.Store.
package notifier
