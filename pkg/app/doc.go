// Package app is the composition root. Runtime builds the store, the queue,
// the sync engine, the network monitor, the session manager, the cache proxy
// and the admin API from a config.Config, and tears them down in reverse
// order.
package app
