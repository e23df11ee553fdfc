package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/amino/pkg/log"
	"github.com/cuemby/amino/pkg/storage"
	"github.com/cuemby/amino/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Partition names of the domain records
const (
	MembersPartition    = "members"
	PaymentsPartition   = "payments"
	ActivitiesPartition = "activities"
)

var (
	// ErrNotFound is returned when a referenced record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrInvalid is returned for records that fail validation
	ErrInvalid = errors.New("invalid record")
)

// Repository stores members, payments and activities, one record per key,
// keyed by record id
type Repository struct {
	members    *storage.Partition
	payments   *storage.Partition
	activities *storage.Partition
	logger     zerolog.Logger

	mu  sync.Mutex
	now func() time.Time
}

// NewRepository creates a repository over store
func NewRepository(store *storage.Store) *Repository {
	return &Repository{
		members:    store.Partition(MembersPartition),
		payments:   store.Partition(PaymentsPartition),
		activities: store.Partition(ActivitiesPartition),
		logger:     log.WithComponent("domain"),
		now:        time.Now,
	}
}

func newID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// Member returns one member
func (r *Repository) Member(id string) (*types.Member, error) {
	var m types.Member
	found, err := r.members.Get(id, &m)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("member %s: %w", id, ErrNotFound)
	}
	return &m, nil
}

// AllMembers returns every readable member, oldest first
func (r *Repository) AllMembers() ([]*types.Member, error) {
	out, err := readAll[types.Member](r, r.members)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// AllPayments returns every readable payment, oldest first
func (r *Repository) AllPayments() ([]*types.Payment, error) {
	out, err := readAll[types.Payment](r, r.payments)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ID < out[j].ID
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}

// RecentActivities returns the newest activities first. limit <= 0 returns
// all of them.
func (r *Repository) RecentActivities(limit int) ([]*types.Activity, error) {
	out, err := readAll[types.Activity](r, r.activities)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// readAll decodes every record of a partition, skipping unreadable ones
func readAll[T any](r *Repository, p *storage.Partition) ([]*T, error) {
	keys, err := p.Keys()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", p.Name(), err)
	}
	out := make([]*T, 0, len(keys))
	for _, k := range keys {
		var v T
		found, err := p.Get(k, &v)
		if err != nil {
			r.logger.Warn().Err(err).Str("partition", p.Name()).Str("key", k).Msg("Skipping unreadable record")
			continue
		}
		if found {
			out = append(out, &v)
		}
	}
	return out, nil
}

// UpsertMember stores m under its id
func (r *Repository) UpsertMember(m *types.Member) error {
	if m == nil || m.ID == "" {
		return fmt.Errorf("member without id: %w", ErrInvalid)
	}
	return r.members.Set(m.ID, m)
}

// UpsertPayment stores p under its id
func (r *Repository) UpsertPayment(p *types.Payment) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("payment without id: %w", ErrInvalid)
	}
	return r.payments.Set(p.ID, p)
}

// UpsertActivity stores a under its id
func (r *Repository) UpsertActivity(a *types.Activity) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("activity without id: %w", ErrInvalid)
	}
	return r.activities.Set(a.ID, a)
}

// AddMember stores a new member. Missing ids and timestamps are filled in,
// and the subscription end is derived from the subscription type when the
// start is known.
func (r *Repository) AddMember(m *types.Member) (*types.Member, error) {
	if m == nil || strings.TrimSpace(m.Name) == "" {
		return nil, fmt.Errorf("member name is required: %w", ErrInvalid)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	rec := *m
	if rec.ID == "" {
		rec.ID = newID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.SubscriptionStart != nil && rec.SubscriptionEnd == nil {
		if months := SubscriptionMonths(rec.SubscriptionType); months > 0 {
			end := SubscriptionEnd(*rec.SubscriptionStart, months)
			rec.SubscriptionEnd = &end
		}
	}
	if rec.MembershipStatus == "" {
		rec.MembershipStatus = "active"
	}

	if err := r.members.Set(rec.ID, &rec); err != nil {
		return nil, err
	}
	r.record(types.ActivityMemberAdded, &rec, now, "")
	return &rec, nil
}

// UpdateMember replaces an existing member, keeping its creation time
func (r *Repository) UpdateMember(m *types.Member) (*types.Member, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("member id and name are required: %w", ErrInvalid)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.Member(m.ID)
	if err != nil {
		return nil, err
	}

	rec := *m
	rec.CreatedAt = existing.CreatedAt
	rec.UpdatedAt = r.now()
	if err := r.members.Set(rec.ID, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// AddPayment stores a payment for an existing member
func (r *Repository) AddPayment(p *types.Payment) (*types.Payment, error) {
	if p == nil || p.MemberID == "" || p.Amount <= 0 {
		return nil, fmt.Errorf("payment needs a member and a positive amount: %w", ErrInvalid)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	member, err := r.Member(p.MemberID)
	if err != nil {
		return nil, err
	}

	now := r.now()
	rec := *p
	if rec.ID == "" {
		rec.ID = newID()
	}
	if rec.Date.IsZero() {
		rec.Date = now
	}
	if rec.Status == "" {
		rec.Status = "completed"
	}

	if err := r.payments.Set(rec.ID, &rec); err != nil {
		return nil, err
	}
	r.record(types.ActivityPayment, member, rec.Date, fmt.Sprintf("%.2f", rec.Amount))
	return &rec, nil
}

// MarkAttendance records a check-in and consumes one remaining session when
// the member has any
func (r *Repository) MarkAttendance(memberID string, at time.Time) (*types.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	member, err := r.Member(memberID)
	if err != nil {
		return nil, err
	}
	if at.IsZero() {
		at = r.now()
	}

	if member.SessionsRemaining > 0 {
		member.SessionsRemaining--
		member.UpdatedAt = r.now()
		if err := r.members.Set(member.ID, member); err != nil {
			return nil, err
		}
	}

	a := &types.Activity{
		ID:         newID(),
		MemberID:   member.ID,
		MemberName: member.Name,
		Type:       types.ActivityCheckIn,
		Timestamp:  at,
	}
	if err := r.activities.Set(a.ID, a); err != nil {
		return nil, err
	}
	return a, nil
}

// record appends an activity. Failures are logged; the primary write
// already succeeded.
func (r *Repository) record(t types.ActivityType, m *types.Member, at time.Time, details string) {
	a := &types.Activity{
		ID:         newID(),
		MemberID:   m.ID,
		MemberName: m.Name,
		Type:       t,
		Timestamp:  at,
		Details:    details,
	}
	if err := r.activities.Set(a.ID, a); err != nil {
		r.logger.Warn().Err(err).Str("member_id", m.ID).Str("type", string(t)).Msg("Failed to record activity")
	}
}

// Cleanup repairs the record partitions: unreadable and invalid records are
// removed, and records stored under a key other than their id are moved to
// their id unless that id is already taken. It returns the number of keys
// removed.
func (r *Repository) Cleanup() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for _, step := range []struct {
		p     *storage.Partition
		check func(*storage.Partition, string) (id string, ok bool)
	}{
		{r.members, checker((*types.Member).Valid, func(m *types.Member) string { return m.ID })},
		{r.payments, checker((*types.Payment).Valid, func(p *types.Payment) string { return p.ID })},
		{r.activities, checker((*types.Activity).Valid, func(a *types.Activity) string { return a.ID })},
	} {
		n, err := r.cleanPartition(step.p, step.check)
		removed += n
		if err != nil {
			return removed, err
		}
	}

	if removed > 0 {
		r.logger.Info().Int("removed", removed).Msg("Repaired domain records")
	}
	return removed, nil
}

func checker[T any](valid func(*T) bool, id func(*T) string) func(*storage.Partition, string) (string, bool) {
	return func(p *storage.Partition, key string) (string, bool) {
		var v T
		found, err := p.Get(key, &v)
		if err != nil || !found || !valid(&v) {
			return "", false
		}
		return id(&v), true
	}
}

func (r *Repository) cleanPartition(p *storage.Partition, check func(*storage.Partition, string) (string, bool)) (int, error) {
	keys, err := p.Keys()
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", p.Name(), err)
	}

	present := make(map[string]bool, len(keys))
	for _, k := range keys {
		present[k] = true
	}

	removed := 0
	for _, k := range keys {
		id, ok := check(p, k)
		if ok && id == k {
			continue
		}
		if ok && !present[id] {
			raw, err := p.GetRaw(k)
			if err != nil {
				return removed, err
			}
			if err := p.SetRaw(id, raw); err != nil {
				return removed, err
			}
			present[id] = true
		}
		if err := p.Remove(k); err != nil {
			return removed, err
		}
		delete(present, k)
		removed++
		r.logger.Debug().Str("partition", p.Name()).Str("key", k).Msg("Removed record")
	}
	return removed, nil
}
