// Package domain holds the gym records (members, payments, activities) and
// their path to the backend: a local Repository, the replay handlers used by
// the sync engine, an HTTP Backend and the Gateway that writes locally and
// queues what cannot reach the backend yet.
package domain
