// Package dispatch ties the run queue to the process supervisor.
//
// The Orchestrator accepts run requests for discovered scripts, admits them
// through the bounded FIFO queue and executes admitted runs with the
// configured Runner. Every finished run is written to history before its
// slot is released, so a promoted script never starts ahead of the record
// of the run it waited on.
//
// Run states:
//   - idle → running when a slot is free
//   - idle → queued when all slots are taken
//   - queued → running in FIFO order as slots free up
//   - running → idle on completion, timeout, cancel or force-reset
//
// Force-reset detaches a live process instead of killing it. Its eventual
// completion is still recorded, but it no longer owns a slot and promotes
// nothing.
//
// Terminal launches bypass the queue entirely and are recorded without an
// exit code.
package dispatch
