/*
Package queue implements the durable Offline Action Queue.

Actions recorded while the backend is unreachable are appended with a time
ordered UUIDv7 id and the whole list is persisted before Enqueue returns, so
an accepted action survives a crash.

Drain replays a snapshot of the queue in FIFO batches (default 5 actions,
100ms apart). Inside a batch actions run concurrently and all are awaited
regardless of individual failures. Afterwards the queue is rewritten:

	successful      removed
	ErrPermanent    removed, stored in the dead_letter partition
	other failure   kept, original relative order
	enqueued during the drain   appended after the kept actions

Only one drain runs at a time; a concurrent call returns ErrDrainInProgress
without touching the queue. The in-progress flag is cleared in a deferred
block so a panicking replay cannot wedge the queue.
*/
package queue
