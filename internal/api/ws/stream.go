// Package ws streams security alerts to connected operator consoles.
package ws

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/clinicore/caretrace/internal/notify"
)

// AlertSource is the live alert feed, typically *redis.AlertBus so every
// process instance sees alerts raised anywhere in the cluster.
type AlertSource interface {
	Subscribe(ctx context.Context) (<-chan notify.Alert, func(), error)
}

// Hub manages WebSocket connections backed by the alert feed.
type Hub struct {
	source AlertSource
}

// NewHub creates a new WebSocket hub.
func NewHub(source AlertSource) *Hub {
	return &Hub{source: source}
}

// ServeAlerts streams alerts to a connected operator console as JSON text
// frames until the client disconnects. Alerts raised while no console is
// connected are not replayed; the ledger is the durable record.
func (h *Hub) ServeAlerts(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	alerts, cleanup, err := h.source.Subscribe(ctx)
	if err != nil {
		log.Error().Err(err).Msg("websocket subscribe")
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer cleanup()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
			return
		case alert, ok := <-alerts:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "channel closed")
				return
			}
			payload, err := json.Marshal(alert)
			if err != nil {
				log.Warn().Err(err).Msg("websocket marshal alert")
				continue
			}
			if writeErr := conn.Write(ctx, websocket.MessageText, payload); writeErr != nil {
				log.Debug().Err(writeErr).Msg("websocket write")
				return
			}
		}
	}
}
