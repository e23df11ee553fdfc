/*
Package events provides the in-memory broker that carries runtime
notifications to interested parties: the admin API websocket stream,
the CLI and tests.

Publishers never block on slow subscribers. The broker buffers up to 100
pending events and every subscriber channel holds 50; when a subscriber's
buffer is full the event is skipped for that subscriber only.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(events.New(events.EventSyncCompleted, "sync finished",
		"processed", "3", "failed", "0"))

Event types:

	cache.offline-ready      cache tiers primed and activated
	cache.update-available   a new cache version replaced an older one
	sync.started             a queue drain began
	sync.completed           a queue drain finished (processed, failed, remaining)
	network.online           connectivity came back
	network.offline          connectivity was lost
	backup.created           a data snapshot was written
	data.needs-attention     integrity repair failed
	queue.enqueued           an offline action was queued
*/
package events
