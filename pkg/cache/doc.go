/*
Package cache is the offline HTTP response cache that fronts the gym app.

Responses live in versioned tiers, each stored as its own storage partition
("cache/amino-gym-v4", "cache/amino-gym-static-v4", ...). Install primes the
critical resources and static assets; Activate deletes every tier that does
not belong to the running version and records it as active.

GET requests are classified and answered by one of three strategies:

	api, dynamic          offline-first   cache hit, refreshed in background
	image, static, font   cache-first     refreshed once older than 1h or 24h
	navigation            shell           app routes served from the cached shell

Lookups search every tier, preferred tier first. Background refreshes are
skipped while offline, collapsed per URL and rate limited.

Proxy serves the strategies over HTTP and reverse proxies every non-GET
request to the origin untouched.
*/
package cache
