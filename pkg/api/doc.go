/*
Package api implements the Amino admin HTTP API.

The admin API is the control surface of a running runtime. The amino CLI
talks to it instead of opening the data directory, so a single process owns
the storage lock.

# Architecture

	┌──────────────── CLIENT (amino CLI / app) ────────────────┐
	│                 HTTP + JSON, websocket                    │
	└──────────────────────────┬───────────────────────────────┘
	                           │ (default 127.0.0.1:8090)
	┌──────────────────────────▼───────────────────────────────┐
	│  chi router                                               │
	│  - RequestID, Recoverer                                   │
	│  - Instrument (Prometheus + access log)                   │
	│  - AccessControl (allow list, write list)                 │
	│  - CORS                                                   │
	│  - RateLimit (per client IP, /api/v1 only)                │
	└──────────────────────────┬───────────────────────────────┘
	                           │
	   queue · syncer · session · cache · gateway · hooks

# Endpoints

Health:
  - GET /health: component registry status, 503 only when storage or the
    queue failed
  - GET /ready: storage and queue readiness, connectivity and degraded
    components for information
  - GET /metrics: Prometheus metrics

Queue and sync (/api/v1):
  - GET /status: connectivity, sync status, queue and session summary
  - GET /queue, GET /queue/stats, DELETE /queue
  - GET /queue/dead-letters, DELETE /queue/dead-letters
  - POST /sync: drain now, 503 when offline
  - POST /network/check: probe the backend now

Session and data:
  - GET /session, POST /session/save, POST /session/validate
  - GET /backups, POST /backups, POST /backups/restore, GET /backups/{slot}
  - GET /export, POST /import
  - GET /settings, GET /settings/{key}, PUT /settings/{key}

Cache:
  - GET /cache, POST /cache/install, DELETE /cache, DELETE /cache/{tier}

Lifecycle and events:
  - POST /lifecycle/{event}: visible, hidden, online, offline or idle
  - GET /events: websocket stream of runtime events

Records:
  - GET /members, POST /members, PUT /members/{id}
  - GET /payments, POST /payments
  - POST /attendance
  - GET /activities?limit=N

Writes answer 201 when the backend accepted them and 202 when they were
queued for replay. Errors are JSON objects with a single "error" field.

# Access control

Clients are identified by their peer address only. When AllowedIPs is
empty every client may read; unsafe methods additionally require the client
to match WriteIPs. Both lists accept single addresses and CIDR ranges.
*/
package api
