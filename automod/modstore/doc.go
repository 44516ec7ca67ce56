// Persistent moderation state: which chat events point at which account, which accounts have a
// pending alert, which are ignored, and which are queued for a deferred ("lazy") purge.
//
// Each table is a small repository object. Every operation is its own write against the
// backend; sequences of operations across tables are not atomic, and callers treat them as
// best-effort. Backends are an embedded pebble database, redis, or in-process memory.
package modstore
