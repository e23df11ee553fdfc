package domain

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/amino/pkg/queue"
	"github.com/cuemby/amino/pkg/status"
	"github.com/cuemby/amino/pkg/storage"
	"github.com/cuemby/amino/pkg/syncer"
	"github.com/cuemby/amino/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) (*Repository, *storage.Store) {
	t.Helper()
	store := storage.NewStore(storage.NewMemoryDriver())
	return NewRepository(store), store
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 10, 30, 0, 0, time.UTC)
}

func TestSubscriptionEnd(t *testing.T) {
	tests := []struct {
		name   string
		start  time.Time
		months int
		want   time.Time
	}{
		{"plain month", date(2024, time.March, 15), 1, date(2024, time.April, 15)},
		{"jan 31 leap year", date(2024, time.January, 31), 1, date(2024, time.February, 29)},
		{"jan 31 common year", date(2023, time.January, 31), 1, date(2023, time.February, 28)},
		{"aug 31 quarter", date(2024, time.August, 31), 3, date(2024, time.November, 30)},
		{"across year end", date(2024, time.November, 30), 3, date(2025, time.February, 28)},
		{"full year", date(2024, time.February, 29), 12, date(2025, time.February, 28)},
		{"zero months", date(2024, time.May, 5), 0, date(2024, time.May, 5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SubscriptionEnd(tt.start, tt.months))
		})
	}
}

func TestSubscriptionMonths(t *testing.T) {
	assert.Equal(t, 1, SubscriptionMonths("Monthly"))
	assert.Equal(t, 3, SubscriptionMonths("quarterly"))
	assert.Equal(t, 6, SubscriptionMonths("semi-annual"))
	assert.Equal(t, 12, SubscriptionMonths("annual"))
	assert.Equal(t, 0, SubscriptionMonths("sessions"))
}

func TestRepositoryAddMember(t *testing.T) {
	repo, _ := newRepo(t)

	start := date(2024, time.January, 31)
	m, err := repo.AddMember(&types.Member{Name: "Sara", SubscriptionType: "monthly", SubscriptionStart: &start})
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)
	assert.False(t, m.CreatedAt.IsZero())
	require.NotNil(t, m.SubscriptionEnd)
	assert.Equal(t, date(2024, time.February, 29), *m.SubscriptionEnd)

	got, err := repo.Member(m.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sara", got.Name)

	acts, err := repo.RecentActivities(0)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, types.ActivityMemberAdded, acts[0].Type)

	_, err = repo.AddMember(&types.Member{Name: "  "})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestRepositoryUpdateMember(t *testing.T) {
	repo, _ := newRepo(t)

	m, err := repo.AddMember(&types.Member{Name: "Ali"})
	require.NoError(t, err)

	upd := *m
	upd.Name = "Ali B."
	upd.CreatedAt = time.Time{}
	got, err := repo.UpdateMember(&upd)
	require.NoError(t, err)
	assert.Equal(t, "Ali B.", got.Name)
	assert.True(t, m.CreatedAt.Equal(got.CreatedAt))

	_, err = repo.UpdateMember(&types.Member{ID: "missing", Name: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepositoryPaymentsAndAttendance(t *testing.T) {
	repo, _ := newRepo(t)

	m, err := repo.AddMember(&types.Member{Name: "Omar", SessionsRemaining: 2})
	require.NoError(t, err)

	_, err = repo.AddPayment(&types.Payment{MemberID: m.ID, Amount: 0})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = repo.AddPayment(&types.Payment{MemberID: "ghost", Amount: 10})
	assert.ErrorIs(t, err, ErrNotFound)

	p, err := repo.AddPayment(&types.Payment{MemberID: m.ID, Amount: 50})
	require.NoError(t, err)
	assert.Equal(t, "completed", p.Status)

	payments, err := repo.AllPayments()
	require.NoError(t, err)
	assert.Len(t, payments, 1)

	at := time.Now().Add(time.Minute)
	a, err := repo.MarkAttendance(m.ID, at)
	require.NoError(t, err)
	assert.Equal(t, types.ActivityCheckIn, a.Type)

	got, err := repo.Member(m.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.SessionsRemaining)

	acts, err := repo.RecentActivities(2)
	require.NoError(t, err)
	require.Len(t, acts, 2)
	assert.Equal(t, a.ID, acts[0].ID, "newest first")
}

func TestRepositoryCleanup(t *testing.T) {
	repo, store := newRepo(t)
	members := store.Partition(MembersPartition)

	require.NoError(t, repo.UpsertMember(&types.Member{ID: "m1", Name: "Valid"}))
	require.NoError(t, members.Set("m2", &types.Member{ID: "m2"}))
	require.NoError(t, members.SetRaw("m3", []byte(`{"id":`)))
	require.NoError(t, members.Set("old-key", &types.Member{ID: "m4", Name: "Moved"}))
	require.NoError(t, members.Set("dup", &types.Member{ID: "m1", Name: "Duplicate"}))
	require.NoError(t, store.Partition(PaymentsPartition).Set("p1", &types.Payment{ID: "p1", MemberID: "m1", Amount: -5}))
	require.NoError(t, store.Partition(ActivitiesPartition).Set("a1", &types.Activity{ID: "a1", MemberID: "m1"}))

	removed, err := repo.Cleanup()
	require.NoError(t, err)
	assert.Equal(t, 6, removed)

	keys, err := members.Keys()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"m1", "m4"}, keys)

	m1, err := repo.Member("m1")
	require.NoError(t, err)
	assert.Equal(t, "Valid", m1.Name)

	removed, err = repo.Cleanup()
	require.NoError(t, err)
	assert.Zero(t, removed)
}

type fakeBackend struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeBackend) do(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.err
}

func (f *fakeBackend) CreateMember(_ context.Context, m *types.Member) error {
	return f.do("member:" + m.Name)
}
func (f *fakeBackend) UpdateMember(_ context.Context, m *types.Member) error {
	return f.do("update:" + m.Name)
}
func (f *fakeBackend) CreatePayment(_ context.Context, p *types.Payment) error {
	return f.do("payment:" + p.MemberID)
}
func (f *fakeBackend) MarkAttendance(_ context.Context, a *types.Activity) error {
	return f.do("attendance:" + a.MemberID)
}

func TestHandlers(t *testing.T) {
	backend := &fakeBackend{}
	hs := Handlers(backend)
	require.Len(t, hs, 4)
	ctx := context.Background()

	require.NoError(t, hs[types.ActionMemberAdd](ctx, json.RawMessage(`{"id":"m1","name":"Sara"}`)))
	require.NoError(t, hs[types.ActionPaymentAdd](ctx, json.RawMessage(`{"id":"p1","memberId":"m1","amount":50}`)))
	assert.Equal(t, []string{"member:Sara", "payment:m1"}, backend.calls)

	err := hs[types.ActionAttendanceMark](ctx, json.RawMessage(`{"memberId":`))
	assert.ErrorIs(t, err, queue.ErrPermanent)

	err = hs[types.ActionMemberUpdate](ctx, json.RawMessage(`null`))
	assert.ErrorIs(t, err, queue.ErrPermanent)

	backend.err = errors.New("connection reset")
	err = hs[types.ActionMemberAdd](ctx, json.RawMessage(`{"id":"m2","name":"Ali"}`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, queue.ErrPermanent)
}

func TestBackendClient(t *testing.T) {
	var (
		status atomic.Int32
		got    atomic.Value
	)
	status.Store(http.StatusCreated)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got.Store(r.Method + " " + r.URL.Path + " " + r.Header.Get("X-Api-Key") + " " + string(body))
		w.WriteHeader(int(status.Load()))
	}))
	defer server.Close()

	client, err := NewBackendClient(server.URL+"/v2", time.Second)
	require.NoError(t, err)
	client.SetHeader("X-Api-Key", "secret")
	ctx := context.Background()

	require.NoError(t, client.UpdateMember(ctx, &types.Member{ID: "m1", Name: "Sara"}))
	assert.Contains(t, got.Load().(string), "PUT /v2/api/members/m1 secret ")

	tests := []struct {
		code      int
		permanent bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusConflict, true},
		{http.StatusRequestTimeout, false},
		{http.StatusTooManyRequests, false},
		{http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		status.Store(int32(tt.code))
		err := client.CreatePayment(ctx, &types.Payment{ID: "p1", MemberID: "m1", Amount: 10})
		require.Error(t, err, "status %d", tt.code)
		assert.Equal(t, tt.permanent, errors.Is(err, queue.ErrPermanent), "status %d", tt.code)
	}

	_, err = NewBackendClient("not a url", 0)
	assert.Error(t, err)
}

func TestBackendClientUnreachableIsTransient(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	client, err := NewBackendClient(addr, time.Second)
	require.NoError(t, err)

	err = client.MarkAttendance(context.Background(), &types.Activity{ID: "a1", MemberID: "m1"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, queue.ErrPermanent)
}

type fakeConn struct{ online atomic.Bool }

func (f *fakeConn) Online() bool { return f.online.Load() }

func newGateway(t *testing.T, online bool) (*Gateway, *fakeBackend, *queue.Queue, *fakeConn) {
	t.Helper()
	store := storage.NewStore(storage.NewMemoryDriver())
	q := queue.New(store, status.New(store.Partition("sync_status")), nil, queue.DefaultOptions())
	conn := &fakeConn{}
	conn.online.Store(online)
	backend := &fakeBackend{}
	return NewGateway(NewRepository(store), backend, q, conn), backend, q, conn
}

func TestGatewayOnlineWriteSyncs(t *testing.T) {
	g, backend, q, _ := newGateway(t, true)

	m, out, err := g.AddMember(context.Background(), &types.Member{Name: "Sara"})
	require.NoError(t, err)
	assert.True(t, out.Synced)
	assert.False(t, out.Queued())
	assert.Equal(t, []string{"member:Sara"}, backend.calls)
	assert.Zero(t, q.Len())

	_, err = g.Repository().Member(m.ID)
	assert.NoError(t, err)
}

func TestGatewayOfflineWriteQueues(t *testing.T) {
	g, backend, q, _ := newGateway(t, false)
	ctx := context.Background()

	m, out, err := g.AddMember(ctx, &types.Member{Name: "Sara"})
	require.NoError(t, err)
	assert.True(t, out.Queued())

	_, out, err = g.AddPayment(ctx, &types.Payment{MemberID: m.ID, Amount: 50})
	require.NoError(t, err)
	assert.True(t, out.Queued())

	_, _, err = g.MarkAttendance(ctx, m.ID, time.Time{})
	require.NoError(t, err)

	assert.Empty(t, backend.calls)
	require.Equal(t, 3, q.Len())
	actions := q.Actions()
	assert.Equal(t, types.ActionMemberAdd, actions[0].Type)
	assert.Equal(t, types.ActionPaymentAdd, actions[1].Type)
	assert.Equal(t, types.ActionAttendanceMark, actions[2].Type)

	var p types.Payment
	require.NoError(t, json.Unmarshal(actions[1].Payload, &p))
	assert.Equal(t, m.ID, p.MemberID)
	assert.Equal(t, 50.0, p.Amount)
}

func TestGatewayTransientFailureQueues(t *testing.T) {
	g, backend, q, _ := newGateway(t, true)
	backend.err = errors.New("503")

	_, out, err := g.AddMember(context.Background(), &types.Member{Name: "Sara"})
	require.NoError(t, err)
	assert.True(t, out.Queued())
	assert.Equal(t, 1, q.Len())
}

func TestGatewayPermanentFailureIsNotQueued(t *testing.T) {
	g, backend, q, _ := newGateway(t, true)
	backend.err = queue.ErrPermanent

	m, out, err := g.AddMember(context.Background(), &types.Member{Name: "Sara"})
	require.NoError(t, err)
	assert.False(t, out.Queued())
	assert.NotEmpty(t, out.Error)
	assert.Zero(t, q.Len())

	_, err = g.Repository().Member(m.ID)
	assert.NoError(t, err, "local write is kept")
}

func TestGatewayInvalidWriteTouchesNothing(t *testing.T) {
	g, backend, q, _ := newGateway(t, true)

	_, _, err := g.AddPayment(context.Background(), &types.Payment{MemberID: "m1", Amount: -1})
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Empty(t, backend.calls)
	assert.Zero(t, q.Len())
}

func TestOfflinePaymentsReplayWhenOnline(t *testing.T) {
	g, backend, q, conn := newGateway(t, false)
	ctx := context.Background()

	m, err := g.Repository().AddMember(&types.Member{Name: "Sara"})
	require.NoError(t, err)

	for _, amount := range []float64{20, 30, 50} {
		_, out, err := g.AddPayment(ctx, &types.Payment{MemberID: m.ID, Amount: amount})
		require.NoError(t, err)
		assert.True(t, out.Queued())
	}
	require.Equal(t, 3, q.Len())
	assert.Empty(t, backend.calls)

	engine := syncer.New(q, conn, nil, syncer.Options{})
	engine.RegisterAll(Handlers(backend))
	t.Cleanup(engine.Stop)

	_, err = engine.ForceSync(ctx)
	assert.ErrorIs(t, err, syncer.ErrOffline)
	assert.Equal(t, 3, q.Len())

	conn.online.Store(true)
	res, err := engine.ForceSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
	assert.Zero(t, q.Len())
	assert.Equal(t, []string{"payment:" + m.ID, "payment:" + m.ID, "payment:" + m.ID}, backend.calls)

	payments, err := g.Repository().AllPayments()
	require.NoError(t, err)
	assert.Len(t, payments, 3)
}

func TestGatewayWithoutBackendQueuesEveryWrite(t *testing.T) {
	for _, online := range []bool{false, true} {
		store := storage.NewStore(storage.NewMemoryDriver())
		q := queue.New(store, status.New(store.Partition("sync_status")), nil, queue.DefaultOptions())
		conn := &fakeConn{}
		conn.online.Store(online)
		g := NewGateway(NewRepository(store), nil, q, conn)
		ctx := context.Background()

		m, out, err := g.AddMember(ctx, &types.Member{Name: "Sara"})
		require.NoError(t, err, "online=%v", online)
		assert.True(t, out.Queued())

		m.Name = "Sara K"
		_, out, err = g.UpdateMember(ctx, m)
		require.NoError(t, err)
		assert.True(t, out.Queued())

		_, out, err = g.AddPayment(ctx, &types.Payment{MemberID: m.ID, Amount: 40})
		require.NoError(t, err)
		assert.True(t, out.Queued())

		_, out, err = g.MarkAttendance(ctx, m.ID, time.Time{})
		require.NoError(t, err)
		assert.True(t, out.Queued())

		assert.Equal(t, 4, q.Len(), "online=%v", online)
	}
}
