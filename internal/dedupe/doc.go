// Package dedupe tracks recently delivered event IDs so an observer
// stream does not push the same event from both backfill and the live
// feed.
package dedupe
