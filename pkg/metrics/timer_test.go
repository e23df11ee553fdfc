package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	values []float64
}

func (r *recorder) Observe(v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
}

func TestTimerMeasuresDrainTime(t *testing.T) {
	timer := NewTimer()
	time.Sleep(20 * time.Millisecond)

	var rec recorder
	timer.ObserveDuration(&rec)

	require.Len(t, rec.values, 1)
	assert.GreaterOrEqual(t, rec.values[0], 0.02)
	assert.Less(t, rec.values[0], 5.0)
	assert.GreaterOrEqual(t, timer.Duration(), 20*time.Millisecond)
}

func TestTimerKeepsRunningAfterObserve(t *testing.T) {
	timer := NewTimer()
	var rec recorder

	timer.ObserveDuration(&rec)
	time.Sleep(5 * time.Millisecond)
	timer.ObserveDuration(&rec)

	require.Len(t, rec.values, 2)
	assert.Greater(t, rec.values[1], rec.values[0])
}

func TestTimerObserveDurationVec(t *testing.T) {
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "amino_test_request_duration_seconds",
		Help: "test histogram",
	}, []string{"method"})

	NewTimer().ObserveDurationVec(vec, "GET")
	NewTimer().ObserveDurationVec(vec, "GET")
	NewTimer().ObserveDurationVec(vec, "POST")

	assert.Equal(t, 2, testutil.CollectAndCount(vec))
}

func TestTimerOnSyncDuration(t *testing.T) {
	assert.NotPanics(t, func() {
		NewTimer().ObserveDuration(SyncDuration)
	})
	assert.Equal(t, 1, testutil.CollectAndCount(SyncDuration))
}
