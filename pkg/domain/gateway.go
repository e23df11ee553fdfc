package domain

import (
	"context"
	"errors"
	"time"

	"github.com/cuemby/amino/pkg/log"
	"github.com/cuemby/amino/pkg/queue"
	"github.com/cuemby/amino/pkg/types"
	"github.com/rs/zerolog"
)

// Enqueuer records actions for later replay
type Enqueuer interface {
	Enqueue(ctx context.Context, actionType types.ActionType, payload any) (*types.OfflineAction, error)
}

// Connectivity reports whether the backend is reachable
type Connectivity interface {
	Online() bool
}

// Outcome tells what happened to the remote half of a write
type Outcome struct {
	// Synced is true when the backend accepted the write
	Synced bool `json:"synced"`

	// ActionID is set when the write was queued for replay
	ActionID string `json:"actionId,omitempty"`

	// Error holds a permanent backend rejection. The local write is kept.
	Error string `json:"error,omitempty"`
}

// Queued reports whether the write waits in the offline queue
func (o Outcome) Queued() bool {
	return o.ActionID != ""
}

// Gateway is the write path of the app. Writes always land locally first;
// the backend call is made when online and queued otherwise, or when it
// fails for a reason worth retrying.
type Gateway struct {
	repo    *Repository
	backend Backend
	queue   Enqueuer
	conn    Connectivity
	logger  zerolog.Logger
}

// NewGateway creates a gateway
func NewGateway(repo *Repository, backend Backend, q Enqueuer, conn Connectivity) *Gateway {
	return &Gateway{
		repo:    repo,
		backend: backend,
		queue:   q,
		conn:    conn,
		logger:  log.WithComponent("gateway"),
	}
}

// Repository returns the local record store
func (g *Gateway) Repository() *Repository {
	return g.repo
}

// AddMember creates a member
func (g *Gateway) AddMember(ctx context.Context, m *types.Member) (*types.Member, Outcome, error) {
	rec, err := g.repo.AddMember(m)
	if err != nil {
		return nil, Outcome{}, err
	}
	out, err := push(ctx, g, types.ActionMemberAdd, rec, Backend.CreateMember)
	return rec, out, err
}

// UpdateMember replaces a member
func (g *Gateway) UpdateMember(ctx context.Context, m *types.Member) (*types.Member, Outcome, error) {
	rec, err := g.repo.UpdateMember(m)
	if err != nil {
		return nil, Outcome{}, err
	}
	out, err := push(ctx, g, types.ActionMemberUpdate, rec, Backend.UpdateMember)
	return rec, out, err
}

// AddPayment records a payment
func (g *Gateway) AddPayment(ctx context.Context, p *types.Payment) (*types.Payment, Outcome, error) {
	rec, err := g.repo.AddPayment(p)
	if err != nil {
		return nil, Outcome{}, err
	}
	out, err := push(ctx, g, types.ActionPaymentAdd, rec, Backend.CreatePayment)
	return rec, out, err
}

// MarkAttendance records a check-in
func (g *Gateway) MarkAttendance(ctx context.Context, memberID string, at time.Time) (*types.Activity, Outcome, error) {
	rec, err := g.repo.MarkAttendance(memberID, at)
	if err != nil {
		return nil, Outcome{}, err
	}
	out, err := push(ctx, g, types.ActionAttendanceMark, rec, Backend.MarkAttendance)
	return rec, out, err
}

// push sends rec to the backend through call or queues it. Without a backend
// every write is queued. The returned error is only set when queueing itself
// failed.
func push[T any](ctx context.Context, g *Gateway, t types.ActionType, rec *T, call func(Backend, context.Context, *T) error) (Outcome, error) {
	if g.backend != nil && (g.conn == nil || g.conn.Online()) {
		err := call(g.backend, ctx, rec)
		if err == nil {
			return Outcome{Synced: true}, nil
		}
		if errors.Is(err, queue.ErrPermanent) {
			g.logger.Error().Err(err).Str("type", string(t)).Msg("Backend rejected write")
			return Outcome{Error: err.Error()}, nil
		}
		g.logger.Warn().Err(err).Str("type", string(t)).Msg("Backend unavailable, queueing write")
	}

	action, err := g.queue.Enqueue(ctx, t, rec)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{ActionID: action.ID}, nil
}
