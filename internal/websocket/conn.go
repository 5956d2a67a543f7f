package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wellio/pushagent/internal/models"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 70 * time.Second
	wsPingPeriod = 30 * time.Second
)

// Serve runs a page connection until it closes. It blocks.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, pageURL string, controlled bool) {
	client := h.newClient(pageURL, controlled)
	client.conn = conn

	h.add(client)
	h.logger.Debug("ws connected", "client_id", client.id, "url", pageURL, "controlled", controlled)

	go h.writePump(client)
	h.readPump(ctx, client)
}

func (h *Hub) readPump(ctx context.Context, client *Client) {
	defer func() {
		h.logger.Debug("ws disconnect", "client_id", client.id)
		_ = client.conn.Close()
		h.remove(client.id)
	}()

	_ = client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		_ = client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			h.logger.Debug("ws read error", "client_id", client.id, "error", err)
			return
		}

		var msg models.PageMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			h.logger.Debug("ws bad json", "client_id", client.id, "error", err)
			continue
		}
		_ = client.conn.SetReadDeadline(time.Now().Add(wsPongWait))

		h.logger.Debug("ws recv", "client_id", client.id, "type", msg.Type)
		h.dispatch(ctx, client, msg)
	}
}

func (h *Hub) writePump(client *Client) {
	defer func() {
		_ = client.conn.Close()
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.send:
			if !ok {
				return
			}
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
