package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/amino/pkg/status"
	"github.com/cuemby/amino/pkg/storage"
	"github.com/cuemby/amino/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueue(t *testing.T, store *storage.Store) *Queue {
	t.Helper()
	tracker := status.New(store.Partition("sync_status"))
	return New(store, tracker, nil, Options{BatchSize: 5, BatchPause: time.Millisecond})
}

func memStore() *storage.Store {
	return storage.NewStore(storage.NewMemoryDriver())
}

func ids(actions []types.OfflineAction) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = a.ID
	}
	return out
}

func TestEnqueueSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := storage.Open(storage.Options{DataDir: dir, Drivers: []string{storage.DriverBolt}})
	require.NoError(t, err)

	q := newQueue(t, store)
	a, err := q.Enqueue(context.Background(), types.ActionPaymentAdd, map[string]any{"memberId": "m1", "amount": 50})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = storage.Open(storage.Options{DataDir: dir, Drivers: []string{storage.DriverBolt}})
	require.NoError(t, err)
	defer store.Close()

	q = newQueue(t, store)
	require.Equal(t, 1, q.Len())

	got := q.Actions()[0]
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, types.ActionPaymentAdd, got.Type)
	assert.JSONEq(t, `{"memberId":"m1","amount":50}`, string(got.Payload))
}

func TestDrainRemovesSuccessesKeepsFailuresInOrder(t *testing.T) {
	q := newQueue(t, memStore())
	ctx := context.Background()

	var queued []string
	for i := 0; i < 7; i++ {
		a, err := q.Enqueue(ctx, types.ActionMemberAdd, map[string]int{"n": i})
		require.NoError(t, err)
		queued = append(queued, a.ID)
	}

	fail := map[string]bool{queued[1]: true, queued[4]: true, queued[6]: true}
	res, err := q.Drain(ctx, func(ctx context.Context, a *types.OfflineAction) error {
		if fail[a.ID] {
			return errors.New("backend unavailable")
		}
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 4, res.Processed)
	assert.Equal(t, 3, res.Failed)
	assert.Equal(t, 3, res.Remaining)
	assert.Equal(t, []string{queued[1], queued[4], queued[6]}, ids(q.Actions()))
	assert.Equal(t, []string{queued[1], queued[4], queued[6]}, res.RemainingIDs)
	assert.False(t, q.tracker.Get().SyncInProgress)
	assert.False(t, q.tracker.Get().LastSyncAt.IsZero())
}

func TestDrainReplaysEveryActionOnceInBatches(t *testing.T) {
	q := newQueue(t, memStore())
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		_, err := q.Enqueue(ctx, types.ActionAttendanceMark, map[string]int{"n": i})
		require.NoError(t, err)
	}

	var (
		mu       sync.Mutex
		seen     = map[string]int{}
		inFlight int32
		maxSeen  int32
	)
	_, err := q.Drain(ctx, func(ctx context.Context, a *types.OfflineAction) error {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			m := atomic.LoadInt32(&maxSeen)
			if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)

		mu.Lock()
		seen[a.ID]++
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	assert.Len(t, seen, 12)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&maxSeen), int32(5))
	assert.Equal(t, 0, q.Len())
}

func TestConcurrentDrainIsNoop(t *testing.T) {
	q := newQueue(t, memStore())
	ctx := context.Background()

	_, err := q.Enqueue(ctx, types.ActionMemberAdd, map[string]string{"name": "a"})
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	var calls int32

	done := make(chan DrainResult)
	go func() {
		res, _ := q.Drain(ctx, func(ctx context.Context, a *types.OfflineAction) error {
			atomic.AddInt32(&calls, 1)
			close(started)
			<-release
			return nil
		})
		done <- res
	}()

	<-started
	res, err := q.Drain(ctx, func(ctx context.Context, a *types.OfflineAction) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	assert.ErrorIs(t, err, ErrDrainInProgress)
	assert.Equal(t, DrainResult{}, res)

	close(release)
	first := <-done
	assert.Equal(t, 1, first.Processed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDrainNotifyRunsOnlyForTheOwningDrain(t *testing.T) {
	q := newQueue(t, memStore())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(ctx, types.ActionMemberAdd, map[string]int{"n": i})
		require.NoError(t, err)
	}

	release := make(chan struct{})
	replaying := make(chan struct{})
	var once sync.Once
	var notified []int
	var mu sync.Mutex
	notify := func(pending int) {
		mu.Lock()
		notified = append(notified, pending)
		mu.Unlock()
	}

	done := make(chan error)
	go func() {
		_, err := q.DrainNotify(ctx, func(ctx context.Context, a *types.OfflineAction) error {
			once.Do(func() { close(replaying) })
			<-release
			return nil
		}, notify)
		done <- err
	}()

	<-replaying
	_, err := q.DrainNotify(ctx, func(ctx context.Context, a *types.OfflineAction) error { return nil }, notify)
	assert.ErrorIs(t, err, ErrDrainInProgress)

	close(release)
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{3}, notified)
}

func TestEnqueueDuringDrainIsAppendedAfterFailures(t *testing.T) {
	q := newQueue(t, memStore())
	ctx := context.Background()

	first, err := q.Enqueue(ctx, types.ActionMemberAdd, map[string]string{"name": "a"})
	require.NoError(t, err)

	var late *types.OfflineAction
	_, err = q.Drain(ctx, func(ctx context.Context, a *types.OfflineAction) error {
		var err error
		late, err = q.Enqueue(ctx, types.ActionPaymentAdd, map[string]int{"amount": 10})
		assert.NoError(t, err)
		return errors.New("timeout")
	})
	require.NoError(t, err)

	assert.Equal(t, []string{first.ID, late.ID}, ids(q.Actions()))
}

func TestPermanentFailureMovesToDeadLetters(t *testing.T) {
	q := newQueue(t, memStore())
	ctx := context.Background()

	bad, err := q.Enqueue(ctx, types.ActionType("unknown_kind"), nil)
	require.NoError(t, err)
	good, err := q.Enqueue(ctx, types.ActionMemberAdd, map[string]string{"name": "a"})
	require.NoError(t, err)

	res, err := q.Drain(ctx, func(ctx context.Context, a *types.OfflineAction) error {
		if a.ID == bad.ID {
			return fmt.Errorf("no handler for %s: %w", a.Type, ErrPermanent)
		}
		return errors.New("offline")
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Permanent)
	assert.Equal(t, []string{good.ID}, ids(q.Actions()))

	letters, err := q.DeadLetters()
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, bad.ID, letters[0].Action.ID)
	assert.Contains(t, letters[0].Error, "no handler")
	assert.Equal(t, 1, q.Status().DeadLetterCount)

	require.NoError(t, q.PurgeDeadLetters())
	assert.Equal(t, 0, q.DeadLetterCount())
}

func TestPanickingReplayCountsAsFailure(t *testing.T) {
	q := newQueue(t, memStore())
	ctx := context.Background()

	a, err := q.Enqueue(ctx, types.ActionMemberUpdate, map[string]string{"id": "m1"})
	require.NoError(t, err)

	res, err := q.Drain(ctx, func(ctx context.Context, action *types.OfflineAction) error {
		panic("boom")
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []string{a.ID}, ids(q.Actions()))
	assert.False(t, q.tracker.Get().SyncInProgress)
}

func TestPaymentAddedOfflineReplaysWithPayload(t *testing.T) {
	q := newQueue(t, memStore())
	ctx := context.Background()

	_, err := q.Enqueue(ctx, types.ActionPaymentAdd, map[string]any{"memberId": "m1", "amount": 50})
	require.NoError(t, err)
	assert.Equal(t, 1, q.Status().Count)

	var got map[string]any
	res, err := q.Drain(ctx, func(ctx context.Context, a *types.OfflineAction) error {
		assert.Equal(t, types.ActionPaymentAdd, a.Type)
		return json.Unmarshal(a.Payload, &got)
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, "m1", got["memberId"])
	assert.Equal(t, 50.0, got["amount"])
	assert.Equal(t, 0, q.Status().Count)
}

func TestCorruptQueueStartsEmpty(t *testing.T) {
	store := memStore()
	require.NoError(t, store.Partition(QueuePartition).SetRaw(queueKey, []byte(`{"not":"a list"}`)))

	q := newQueue(t, store)
	assert.Equal(t, 0, q.Len())

	_, err := q.Enqueue(context.Background(), types.ActionMemberAdd, map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, 1, q.Len())
}

func TestEnqueueRejectsUnencodablePayload(t *testing.T) {
	q := newQueue(t, memStore())

	_, err := q.Enqueue(context.Background(), types.ActionMemberAdd, make(chan int))
	assert.ErrorIs(t, err, storage.ErrSerialize)
	assert.Equal(t, 0, q.Len())
}

func TestClearAndStats(t *testing.T) {
	q := newQueue(t, memStore())
	ctx := context.Background()

	_, err := q.Enqueue(ctx, types.ActionMemberAdd, map[string]string{"name": "a"})
	require.NoError(t, err)

	st := q.Stats()
	assert.Equal(t, 1, st.Count)
	assert.Greater(t, st.Bytes, 0)

	require.NoError(t, q.Clear())
	assert.Equal(t, 0, q.Len())
	assert.True(t, q.tracker.Get().LastQueueUpdate.IsZero())
}
