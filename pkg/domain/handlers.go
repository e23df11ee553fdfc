package domain

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cuemby/amino/pkg/queue"
	"github.com/cuemby/amino/pkg/syncer"
	"github.com/cuemby/amino/pkg/types"
)

// Handlers returns the replay handlers of the domain action types
func Handlers(backend Backend) map[types.ActionType]syncer.Handler {
	return map[types.ActionType]syncer.Handler{
		types.ActionMemberAdd:      handle(backend.CreateMember),
		types.ActionMemberUpdate:   handle(backend.UpdateMember),
		types.ActionPaymentAdd:     handle(backend.CreatePayment),
		types.ActionAttendanceMark: handle(backend.MarkAttendance),
	}
}

// handle decodes the payload into T and passes it to call. Empty payloads
// and payloads that do not decode fail permanently.
func handle[T any](call func(context.Context, *T) error) syncer.Handler {
	return func(ctx context.Context, payload json.RawMessage) error {
		if string(payload) == "null" {
			return fmt.Errorf("empty payload: %w", queue.ErrPermanent)
		}
		var v T
		if err := json.Unmarshal(payload, &v); err != nil {
			return fmt.Errorf("malformed payload: %w: %w", err, queue.ErrPermanent)
		}
		return call(ctx, &v)
	}
}
