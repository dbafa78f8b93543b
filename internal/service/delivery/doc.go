// Package delivery is the campaign delivery engine.
//
// It fans a campaign out to one recipient row per contact, sends pending
// recipients in bounded batches through a sending.Sender, and applies
// delivery and engagement events to recipients through the recipient
// state machine in the domain package. Every write is idempotent so the
// engine can run under an at-least-once job queue: re-running a dispatch
// only sends recipients that are still pending, and re-applying an event
// never moves a recipient backwards.
//
// Aggregates are always computed from recipient rows. The stored counters
// on a campaign are a projection refreshed by RefreshStats.
package delivery
