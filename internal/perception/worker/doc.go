// Package worker isolates the accessibility backend in a dedicated child
// process. The host accessibility API must be initialized under a single
// specific threading model, which is incompatible with the rest of the
// runtime, so the backend lives alone in a worker and the parent talks to it
// over a synchronous JSON-line protocol: a ready-or-error handshake, then
// one {"method", "kwargs"} request in flight at a time, and an explicit
// {"cmd": "shutdown"} followed by a timed join with a forced kill fallback.
// The parent-side Session satisfies the same backend contract as an
// in-process layer, so callers never see the process boundary.
package worker
