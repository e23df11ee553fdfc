/*
Package session owns the runtime session record, user settings and the
full-dataset backups.

A Manager is started once per process. It writes a new session record
(through the session partition's write coalescer), takes an immediate
backup, registers its lifecycle hooks and then saves the session on a
heartbeat.

Backups live in the backups partition under two kinds of slot:

	latest             the most recent snapshot
	backup_YYYY-MM-DD  one per UTC day, pruned to the configured retention

Restore and import upsert records by id, so applying the same snapshot or
document twice leaves the same data.
*/
package session
