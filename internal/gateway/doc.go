// Package gateway is the composition root of coven-warden.
//
// # Overview
//
// The Gateway owns the registry store, the manager identity, the fleet
// supervisor, the command interpreter and the HTTP API. New wires them;
// Run drives the process lifecycle.
//
// # Startup
//
// Run performs, in order:
//
//  1. Manager login (whoami against the homeserver)
//  2. HTTP API listen, on TCP or on the tailnet when Tailscale is enabled
//  3. Reconcile: every enabled bot in the store is started, then presence
//     is published once
//  4. Manager sync, feeding chat messages to the command interpreter
//
// # HTTP API
//
//   - POST /api/bot/presence - Set an active bot's displayed status
//   - GET /api/bots - List active bot names
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (manager logged in)
//
// Routes under /api require the x-api-key header to equal LISTEN_API_KEY.
//
// # Shutdown
//
// The control room topic is cleared, bots are logged out one by one, the
// manager sync stops and the manager logs out, then the HTTP server and
// the store close. The whole sequence runs inside SHUTDOWN_TIMEOUT;
// overrunning it yields ErrShutdownTimeout.
package gateway
