/*
Package network tracks whether the backend is reachable.

Monitor runs a health.Checker on an interval and folds the results through a
health.Status, so going offline needs Config.Retries consecutive failed
probes while a single success brings the runtime back online. Every
transition is recorded in the sync status tracker, reflected in the
amino_network_online gauge and the informational network component of the
health registry, published as network.online / network.offline and
forwarded to the lifecycle hooks. Checks may overlap, but their results are
applied one at a time, so these side effects always follow the order in
which the state changed.

Online notifications are rate limited to one per settle window. The state
itself always follows the probes; only the hooks and events are suppressed,
and the sync engine re-checks the state after its own settle delay anyway.

SetOnline overrides the probes, for tests and for platform signals such as a
UI reporting navigator.onLine through the admin API.
*/
package network
