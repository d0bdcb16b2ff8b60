// Package notify keeps a per-user notification history on the device.
//
// History is stored as one JSON array per partition in a kv.Store. The
// partition is derived from the current identity on every call with the
// precedence user id, then phone number, then a device token generated once
// and persisted, so users sharing a device never see each other's history.
//
// Saving a record whose (type, rejection reason, approval notes) matches an
// existing one replaces it in place, keeping the original id and read state.
// New records are inserted most-recent-first and the history is bounded.
//
// Ingester drains server events from an EventSource (SQSSource over Amazon
// SQS) into a Store.
package notify
