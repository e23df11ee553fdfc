/*
Package storage provides the durable key/value store that every other
component persists through.

A Store owns exactly one Driver, chosen at Open time by walking a preference
list and taking the first backend that opens:

	bolt   -> <dataDir>/amino.db       (bbolt, one bucket per partition)
	sqlite -> <dataDir>/amino.sqlite   (modernc.org/sqlite, WAL, kv table)
	file   -> <dataDir>/kv/*.json      (one JSON document per partition)
	memory -> process memory           (tests, throwaway runs)

Partitions are named key namespaces. Values are JSON encoded by Partition.Set
before the driver is touched, so a value that fails to encode returns
ErrSerialize and leaves the previously stored value in place.

# Partitions

	session        current session record
	settings       user settings
	offline_queue  pending offline actions
	dead_letter    actions rejected permanently by the backend
	sync_status    connection and sync bookkeeping
	backups        data snapshots
	members        domain records
	payments
	activities
	cache/<tier>   HTTP response cache tiers
	cache_meta     cache generation marker

Partition names containing "/" are fine for every driver; the file driver
path-escapes them.
*/
package storage
