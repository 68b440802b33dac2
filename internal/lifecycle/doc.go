// ABOUTME: Package lifecycle owns the HITL request state machine and timers
// ABOUTME: pending -> responded | timeout, with first terminal transition winning

// Package lifecycle tracks every in-flight HITL request: it arms a
// single-shot timer per request and exposes the transitions the hub uses.
// A timer firing and a human response racing on the same request resolve
// deterministically to one winner through the store's conditional update.
// Timer expiry never attempts delivery to the agent, because the agent's
// local wait timeout races independently on another machine.
package lifecycle
