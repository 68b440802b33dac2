// ABOUTME: Package relay delivers resolved HITL answers to agent endpoints
// ABOUTME: Dial-out WebSocket delivery with its own timeout, no retries

// Package relay connects to the ephemeral WebSocket endpoint an agent
// declared in its HITL request and writes the human's answer as a single
// JSON message. Delivery is bounded by its own timeout, independent of the
// request's timeoutSeconds, and is never retried: the common failure cause
// is the agent having already abandoned the endpoint after its own local
// timeout, and retry policy belongs to callers.
package relay
