// Package machine runs one event-sourced state machine instance.
//
// A Machine owns its state. Run first replays the log's feed through the
// interpreter (no effects, no appends, no notifications), then serves inputs
// from a channel one at a time until the channel is closed:
//
//	command        → Decide → Append → FireHooks → Publish → reply
//	external event → OnEvent                     → Publish → reply
//
// CRITICAL: Run must be called exactly once, from one goroutine. All state
// mutation happens there, so the loop needs no locks of its own; State()
// reads a snapshot published under a read/write mutex.
//
// # Append failures
//
// In Optimistic mode (the default) the new state is kept, the caller gets the
// *eventlog.AdapterError and subscribers see the event with Durable=false.
// In Strict mode the state is rolled back and the caller gets the error;
// nothing is published and no hooks run. Side effects already performed by
// the effect function are not undone in either mode.
//
// # Shutdown
//
// Closing the input channel is the only way to stop a serving machine. An
// input that has been received always runs to completion; appends run on a
// context detached from Run's cancellation. Cancelling Run's context aborts
// replay only.
package machine
