// Package dispatch is the campaign pipeline: the scheduler tick admits
// due campaigns, the orchestrator fans a campaign out into contact
// batches, the dispatcher renders and submits individual messages, and
// the completion checker finishes campaigns once every valid contact
// has been handed off.
//
// Every stage is driven by queue jobs and written to be re-runnable:
// status flips are conditional updates, delivery rows are
// find-or-create, and a stage that observes a terminal campaign drops
// its work instead of failing.
package dispatch
