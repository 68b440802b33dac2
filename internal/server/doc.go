// ABOUTME: Package server wires the store, hub, lifecycle, and relay together
// ABOUTME: Exposes the HTTP ingestion API and the WebSocket observer stream

// Package server is the hookline process: it owns the HTTP surface
// (POST /events, POST /events/{id}/respond, GET /stream, read-only event
// queries, health endpoints) and the lifecycle of the components behind
// it. Observer streaming is WebSocket push, one JSON-encoded event per
// message, with no acknowledgment from the observer.
package server
