package hub

import (
	"encoding/json"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/punchliner/api/internal/model"
)

const pingInterval = 30 * time.Second

// HandleConnection streams a task's events over a WebSocket connection. It
// returns when the task finishes or the peer goes away; the latter counts
// as a disconnect for idle detection.
func (h *Hub) HandleConnection(c *websocket.Conn, taskID string) {
	client := h.Subscribe(taskID)
	defer client.Close()

	pongs := make(chan struct{}, 1)
	readerDone := make(chan struct{})

	// Reader loop
	go func() {
		defer close(readerDone)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.logger.Debug().Err(err).Str("taskId", taskID).Msg("websocket read error")
				}
				return
			}

			var msg model.WSMessage
			if err := json.Unmarshal(message, &msg); err != nil {
				continue
			}
			if msg.Type == model.WSMessageTypePing {
				select {
				case pongs <- struct{}{}:
				default:
				}
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-client.Events():
			if !ok {
				_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			data, err := json.Marshal(model.WSEventMessage{Type: model.WSMessageTypeEvent, Event: ev})
			if err != nil {
				h.logger.Error().Err(err).Msg("failed to marshal event")
				continue
			}
			if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-pongs:
			data, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			// Send ping for keep-alive
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-readerDone:
			return
		}
	}
}
