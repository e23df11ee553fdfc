/*
Package metrics provides Prometheus instrumentation and component health
tracking for the amino runtime.

All metrics are package level variables registered with the default
Prometheus registry at init, so any package can update them without
plumbing. Handler exposes them in the Prometheus text format; the admin API
mounts it at /metrics.

# Metrics Catalog

Storage and components:

	amino_storage_driver_info{driver}          gauge, 1 for the selected driver
	amino_component_healthy{component}         gauge, last reported component state

Queue and sync:

	amino_queue_length                         gauge, pending offline actions
	amino_dead_letters                         gauge, permanently rejected actions
	amino_sync_cycles_total                    counter, drain cycles
	amino_actions_replayed_total{result}       counter, result=success|failure|permanent
	amino_sync_duration_seconds                histogram, drain duration

Network:

	amino_network_online                       gauge, 1 online, 0 offline

Cache:

	amino_cache_requests_total{tier,result}    counter, result=hit|miss|stale|fallback
	amino_cache_prime_failures_total           counter, install failures

Coalescer and session:

	amino_coalescer_flushes_total              counter
	amino_coalescer_write_failures_total       counter
	amino_backups_total{result}                counter, result=success|failure

Admin API:

	amino_api_requests_total{method,status}
	amino_api_request_duration_seconds{method}

# Timer

	timer := metrics.NewTimer()
	result, err := q.Drain(ctx, replay)
	timer.ObserveDuration(metrics.SyncDuration)

# Health

A Registry holds the last reported state of each component. The role of a
component decides what its failure means:

	storage, queue    critical: unhealthy, and not ready until registered
	network           informational: offline is reported, never a failure
	anything else     degraded: health drops to "degraded", still ready

The runtime reports to the default registry through RegisterComponent and
UpdateComponent; the admin API serves it at /health and /ready.

# Collector

Collector polls a QueueSource every 15 seconds and refreshes the queue
gauges, covering changes made by other processes sharing the data
directory (for example the CLI).
*/
package metrics
