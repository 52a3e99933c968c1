// Package fleet supervises the bot identities connected by this process.
//
// # Architecture
//
//   - Registry: name to live Session map, the only record of what is connected
//   - Supervisor: start, stop, deactivate, enroll and reconcile, serialised per name
//   - Presence: derives the manager status and control room topic from the Registry
//
// The Supervisor is the only writer of the Registry and of the bots table.
// Operations on one name run strictly one after another through a keyed
// mutex; different names proceed in parallel.
//
// # Side Effects
//
// Control room notices and init presence callbacks are best effort. Their
// failures are logged and passed to Options.OnSideEffectError but never
// change the outcome of the operation that caused them.
//
// # Runtime Errors
//
// A session that fails after login is evicted: the failure is persisted, the
// control room is told, the session is torn down and presence republished.
// The identity stays disabled until it is enrolled again.
package fleet
