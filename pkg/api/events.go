package api

import (
	"context"
	"net/http"
	"time"

	"github.com/cuemby/amino/pkg/events"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const eventWriteTimeout = 5 * time.Second

// streamEvents upgrades to a websocket and forwards every broker event as a
// JSON text message until either side goes away
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Broker == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream not available")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.opts.CORSOrigins,
	})
	if err != nil {
		s.logger.Debug().Err(err).Msg("Event stream upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	sub := s.deps.Broker.Subscribe()
	defer s.deps.Broker.Unsubscribe(sub)

	// The client never sends; CloseRead handles its close frame.
	ctx := conn.CloseRead(r.Context())
	s.logger.Debug().Str("remote", r.RemoteAddr).Msg("Event stream opened")

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case evt, ok := <-sub:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "broker stopped")
				return
			}
			if err := writeEvent(ctx, conn, evt); err != nil {
				s.logger.Debug().Err(err).Msg("Event stream closed")
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt *events.Event) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, evt)
}
