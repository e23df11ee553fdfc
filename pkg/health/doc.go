/*
Package health decides whether the backend is reachable.

A Checker runs one check. HTTPChecker sends a HEAD request and counts any
answer below 500 as reachable, since a 404 or 401 still proves the server is
there. TCPChecker only opens a connection and is chosen by ForBackend when
network.check_addr is set. CheckFunc wraps any function. Failed results name
their Kind (timeout, dns, refused, cancelled or unreachable) at the start of
the message.

Status folds results into a debounced flag: it turns unhealthy only after
Config.Retries consecutive failures and recovers on the first success, so a
single dropped request does not flip the runtime offline.

	checker := health.ForBackend(cfg.CheckURL(), cfg.Network.CheckAddr, 2*time.Second)
	status := health.NewStatusWith(false)
	if status.Update(checker.Check(ctx), health.DefaultConfig()) {
		// reachability changed
	}

The network package owns the check loop.
*/
package health
