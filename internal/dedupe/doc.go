// Package dedupe drops Matrix events that the sync loop delivers more than
// once, keyed by event ID within a bounded time window.
package dedupe
