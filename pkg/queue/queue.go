package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/amino/pkg/events"
	"github.com/cuemby/amino/pkg/log"
	"github.com/cuemby/amino/pkg/metrics"
	"github.com/cuemby/amino/pkg/status"
	"github.com/cuemby/amino/pkg/storage"
	"github.com/cuemby/amino/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrPermanent marks a replay failure that retrying cannot fix. Replay
	// functions wrap it; the action is moved to the dead letter partition.
	ErrPermanent = errors.New("permanent replay failure")

	// ErrDrainInProgress is returned by Drain when another drain is running
	ErrDrainInProgress = errors.New("drain already in progress")
)

// Partition names and keys
const (
	QueuePartition      = "offline_queue"
	DeadLetterPartition = "dead_letter"
	queueKey            = "queue"
)

// ReplayFunc replays one action against the backend
type ReplayFunc func(ctx context.Context, action *types.OfflineAction) error

// Options tunes draining
type Options struct {
	// BatchSize is the number of actions replayed concurrently
	BatchSize int

	// BatchPause is the pause between batches
	BatchPause time.Duration
}

// DefaultOptions returns batches of 5 with a 100ms pause
func DefaultOptions() Options {
	return Options{BatchSize: 5, BatchPause: 100 * time.Millisecond}
}

// DrainResult summarizes one drain cycle
type DrainResult struct {
	Processed    int      `json:"processed"`
	Failed       int      `json:"failed"`
	Permanent    int      `json:"permanent"`
	Remaining    int      `json:"remaining"`
	RemainingIDs []string `json:"remainingIds,omitempty"`
}

// Snapshot is the redacted queue view returned by Status
type Snapshot struct {
	Count           int                   `json:"count"`
	Actions         []types.ActionSummary `json:"actions"`
	SyncStatus      types.SyncStatus      `json:"syncStatus"`
	DeadLetterCount int                   `json:"deadLetterCount"`
}

// Stats reports queue storage usage
type Stats struct {
	Count           int     `json:"count"`
	Bytes           int     `json:"bytes"`
	KB              float64 `json:"kb"`
	DeadLetterCount int     `json:"deadLetterCount"`
}

// Queue is the durable FIFO of offline actions. Every mutation rewrites the
// whole ordered list synchronously.
type Queue struct {
	mu      sync.Mutex
	actions []*types.OfflineAction

	kv      storage.KV
	dead    storage.KV
	tracker *status.Tracker
	broker  *events.Broker
	opts    Options
	logger  zerolog.Logger
}

// New loads the queue from storage. Unreadable content is logged and the
// queue starts empty.
func New(store *storage.Store, tracker *status.Tracker, broker *events.Broker, opts Options) *Queue {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}
	if opts.BatchPause < 0 {
		opts.BatchPause = 0
	}

	q := &Queue{
		kv:      store.Partition(QueuePartition),
		dead:    store.Partition(DeadLetterPartition),
		tracker: tracker,
		broker:  broker,
		opts:    opts,
		logger:  log.WithComponent("queue"),
	}

	var loaded []*types.OfflineAction
	if _, err := q.kv.Get(queueKey, &loaded); err != nil {
		q.logger.Error().Err(err).Msg("Offline queue corrupt, starting empty")
		loaded = nil
	}
	q.actions = loaded
	metrics.QueueLength.Set(float64(len(q.actions)))

	if len(q.actions) > 0 {
		q.logger.Info().Int("count", len(q.actions)).Msg("Loaded pending offline actions")
	}
	return q
}

// Enqueue appends an action and persists the queue before returning.
// payload may be a json.RawMessage or any JSON encodable value.
func (q *Queue) Enqueue(ctx context.Context, actionType types.ActionType, payload any) (*types.OfflineAction, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate action id: %w", err)
	}

	action := &types.OfflineAction{
		ID:         id.String(),
		Type:       actionType,
		Payload:    raw,
		EnqueuedAt: time.Now(),
	}

	q.mu.Lock()
	next := append(append([]*types.OfflineAction(nil), q.actions...), action)
	if err := q.kv.Set(queueKey, next); err != nil {
		q.mu.Unlock()
		return nil, fmt.Errorf("failed to persist offline queue: %w", err)
	}
	q.actions = next
	count := len(next)
	q.mu.Unlock()

	q.tracker.TouchQueue(action.EnqueuedAt)
	metrics.QueueLength.Set(float64(count))

	q.logger.Info().
		Str("action_id", action.ID).
		Str("type", string(action.Type)).
		Int("count", count).
		Msg("Action queued for sync")
	q.broker.Publish(events.New(events.EventQueueEnqueued, "action queued",
		"action_id", action.ID, "type", string(action.Type)))

	return action, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, fmt.Errorf("%w: invalid JSON payload", storage.ErrSerialize)
		}
		return append(json.RawMessage(nil), p...), nil
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", storage.ErrSerialize, err)
		}
		return data, nil
	}
}

// Drain replays a snapshot of the queue in FIFO batches. Actions in a batch
// run concurrently and every one of them is allowed to finish. Successful and
// permanently failed actions are removed; failed ones stay in their original
// order, followed by whatever was enqueued while the drain ran.
func (q *Queue) Drain(ctx context.Context, replay ReplayFunc) (DrainResult, error) {
	return q.DrainNotify(ctx, replay, nil)
}

// DrainNotify is Drain with a callback run once the drain owns the queue,
// before any replay. It receives the number of actions about to be replayed
// and is never called when ErrDrainInProgress is returned.
func (q *Queue) DrainNotify(ctx context.Context, replay ReplayFunc, started func(pending int)) (result DrainResult, err error) {
	if !q.tracker.TryBeginSync() {
		return DrainResult{}, ErrDrainInProgress
	}
	defer func() {
		q.tracker.EndSync(time.Now())
	}()

	q.mu.Lock()
	snapshot := append([]*types.OfflineAction(nil), q.actions...)
	q.mu.Unlock()

	if started != nil {
		started(len(snapshot))
	}

	if len(snapshot) == 0 {
		return DrainResult{}, nil
	}

	q.logger.Info().Int("count", len(snapshot)).Msg("Draining offline queue")
	errs := q.replayAll(ctx, snapshot, replay)

	var (
		kept    []*types.OfflineAction
		letters []types.DeadLetter
		now     = time.Now()
	)
	for i, a := range snapshot {
		logger := log.WithActionID("queue", a.ID)
		switch e := errs[i]; {
		case e == nil:
			result.Processed++
			metrics.ActionsReplayed.WithLabelValues("success").Inc()
		case errors.Is(e, ErrPermanent):
			result.Permanent++
			metrics.ActionsReplayed.WithLabelValues("permanent").Inc()
			letters = append(letters, types.DeadLetter{Action: *a, Error: e.Error(), FailedAt: now})
			logger.Error().Err(e).
				Str("type", string(a.Type)).
				Msg("Action failed permanently, moved to dead letters")
		default:
			result.Failed++
			metrics.ActionsReplayed.WithLabelValues("failure").Inc()
			kept = append(kept, a)
			logger.Warn().Err(e).
				Str("type", string(a.Type)).
				Msg("Action replay failed, will retry")
		}
	}

	for _, dl := range letters {
		if err := q.dead.Set(dl.Action.ID, dl); err != nil {
			q.logger.Error().Err(err).Str("action_id", dl.Action.ID).Msg("Failed to store dead letter")
		}
	}

	remaining, err := q.rewrite(snapshot, kept)
	if err != nil {
		return result, err
	}

	result.Remaining = len(remaining)
	for _, a := range remaining {
		result.RemainingIDs = append(result.RemainingIDs, a.ID)
	}
	return result, nil
}

func (q *Queue) replayAll(ctx context.Context, snapshot []*types.OfflineAction, replay ReplayFunc) []error {
	errs := make([]error, len(snapshot))

	for start := 0; start < len(snapshot); start += q.opts.BatchSize {
		end := start + q.opts.BatchSize
		if end > len(snapshot) {
			end = len(snapshot)
		}

		if ctx.Err() != nil {
			for i := start; i < len(snapshot); i++ {
				errs[i] = ctx.Err()
			}
			break
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						errs[i] = fmt.Errorf("replay panicked: %v", r)
					}
				}()
				errs[i] = replay(ctx, snapshot[i])
			}(i)
		}
		wg.Wait()

		if end < len(snapshot) && q.opts.BatchPause > 0 {
			select {
			case <-time.After(q.opts.BatchPause):
			case <-ctx.Done():
			}
		}
	}

	return errs
}

// rewrite replaces the live queue with kept plus every action appended after
// the snapshot was taken
func (q *Queue) rewrite(snapshot, kept []*types.OfflineAction) ([]*types.OfflineAction, error) {
	inSnapshot := make(map[string]bool, len(snapshot))
	for _, a := range snapshot {
		inSnapshot[a.ID] = true
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	next := append([]*types.OfflineAction(nil), kept...)
	for _, a := range q.actions {
		if !inSnapshot[a.ID] {
			next = append(next, a)
		}
	}

	if err := q.kv.Set(queueKey, next); err != nil {
		return q.actions, fmt.Errorf("failed to persist offline queue: %w", err)
	}
	q.actions = next
	metrics.QueueLength.Set(float64(len(next)))
	return next, nil
}

// Len returns the number of pending actions
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

// Actions returns a copy of the pending actions in FIFO order
func (q *Queue) Actions() []types.OfflineAction {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]types.OfflineAction, len(q.actions))
	for i, a := range q.actions {
		out[i] = *a
	}
	return out
}

// Status returns the redacted queue view
func (q *Queue) Status() Snapshot {
	q.mu.Lock()
	summaries := make([]types.ActionSummary, len(q.actions))
	for i, a := range q.actions {
		summaries[i] = a.Summary()
	}
	q.mu.Unlock()

	return Snapshot{
		Count:           len(summaries),
		Actions:         summaries,
		SyncStatus:      q.tracker.Get(),
		DeadLetterCount: q.DeadLetterCount(),
	}
}

// Clear drops every pending action and resets the sync status
func (q *Queue) Clear() error {
	q.mu.Lock()
	if err := q.kv.Set(queueKey, []*types.OfflineAction{}); err != nil {
		q.mu.Unlock()
		return fmt.Errorf("failed to clear offline queue: %w", err)
	}
	q.actions = nil
	q.mu.Unlock()

	q.tracker.Reset()
	metrics.QueueLength.Set(0)
	q.logger.Info().Msg("Offline queue cleared")
	return nil
}

// Stats reports the encoded size of the queue
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	data, _ := json.Marshal(q.actions)
	count := len(q.actions)
	q.mu.Unlock()

	return Stats{
		Count:           count,
		Bytes:           len(data),
		KB:              float64(len(data)) / 1024,
		DeadLetterCount: q.DeadLetterCount(),
	}
}

// DeadLetters returns permanently failed actions, oldest first
func (q *Queue) DeadLetters() ([]types.DeadLetter, error) {
	keys, err := q.dead.Keys()
	if err != nil {
		return nil, err
	}

	out := make([]types.DeadLetter, 0, len(keys))
	for _, k := range keys {
		var dl types.DeadLetter
		found, err := q.dead.Get(k, &dl)
		if err != nil {
			q.logger.Warn().Err(err).Str("action_id", k).Msg("Skipping unreadable dead letter")
			continue
		}
		if found {
			out = append(out, dl)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].FailedAt.Before(out[j].FailedAt)
	})
	return out, nil
}

// DeadLetterCount returns the number of dead letters, or 0 when unreadable
func (q *Queue) DeadLetterCount() int {
	keys, err := q.dead.Keys()
	if err != nil {
		return 0
	}
	return len(keys)
}

// PurgeDeadLetters deletes every dead letter
func (q *Queue) PurgeDeadLetters() error {
	if err := q.dead.Clear(); err != nil {
		return fmt.Errorf("failed to purge dead letters: %w", err)
	}
	metrics.DeadLetters.Set(0)
	return nil
}
