// ABOUTME: Package hookclient lets agent code await a human answer synchronously
// ABOUTME: One single-use WebSocket endpoint per request; identity is the address

// Package hookclient is the agent-side correlation client for a hookline
// hub. Ask opens a transient single-use WebSocket endpoint, submits an
// event carrying a HITL request whose responseWebSocketUrl is that
// endpoint, and blocks the calling goroutine until exactly one answer
// arrives, the local timeout elapses, or the caller's context is
// cancelled. Correlation identity is the endpoint address itself: one
// endpoint per request, unique by construction, so concurrent requests
// from one process can never misroute each other's answers.
//
// The hub runs its own timeout clock for the same request on another
// machine. The two clocks are not synchronized: a response can be resolved
// by the hub moments after the agent has already given up locally. Callers
// must treat ErrTimedOut as "no answer was usable", not as a failure to
// investigate.
package hookclient
