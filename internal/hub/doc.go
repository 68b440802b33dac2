// ABOUTME: Package hub accepts events, persists them, and fans them out live
// ABOUTME: Also routes human responses into the HITL lifecycle manager

// Package hub is the broadcast hub: ingestion validates and persists
// events, registers any attached HITL request with the lifecycle manager
// before acknowledging, and then publishes the stored event to every
// connected observer. Publication is best-effort and non-blocking with
// respect to ingestion; an observer that cannot keep up is disconnected
// rather than allowed to back-pressure the hub.
package hub
