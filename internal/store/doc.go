// ABOUTME: Package store provides durable event persistence backed by SQLite
// ABOUTME: Owns the append-only events table and the HITL status sub-record

// Package store persists agent hook events and the mutable HITL status
// attached to events that carry a human-in-the-loop request. Event IDs are
// assigned by the database and are monotonically increasing; they are the
// authoritative ordering and correlation key. Status transitions are
// guarded so that the first terminal transition wins.
package store
