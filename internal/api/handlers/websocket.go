package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/bikeshrana/cnquant/internal/core/events"
)

// WebSocketHandler streams signal and backtest-progress events to
// connected dashboards.
type WebSocketHandler struct {
	logger    zerolog.Logger
	upgrader  websocket.Upgrader
	clients   map[*WebSocketClient]bool
	clientsMu sync.RWMutex
	eventBus  *events.EventBus
}

// WebSocketClient is one connected dashboard.
type WebSocketClient struct {
	conn     *websocket.Conn
	send     chan []byte
	handler  *WebSocketHandler
	clientID string
}

// WebSocketMessage is the envelope every broadcast message is wrapped in.
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(logger zerolog.Logger, eventBus *events.EventBus) *WebSocketHandler {
	return &WebSocketHandler{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients:  make(map[*WebSocketClient]bool),
		eventBus: eventBus,
	}
}

// HandleConnection upgrades the HTTP connection to a WebSocket.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = "client_" + time.Now().Format("20060102150405")
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade websocket connection")
		return
	}

	client := &WebSocketClient{
		conn:     conn,
		send:     make(chan []byte, 256),
		handler:  h,
		clientID: clientID,
	}

	h.registerClient(client)
	h.logger.Info().Str("client_id", clientID).Msg("websocket client connected")

	go client.writePump()
	go client.readPump()

	client.sendMessage("connected", map[string]string{
		"client_id": clientID,
		"message":   "connected to cnquant",
	})
}

func (h *WebSocketHandler) registerClient(client *WebSocketClient) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	h.clients[client] = true
}

func (h *WebSocketHandler) unregisterClient(client *WebSocketClient) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		h.logger.Info().Str("client_id", client.clientID).Msg("websocket client disconnected")
	}
}

// Broadcast sends a message to every connected client, dropping clients
// whose send buffer is full.
func (h *WebSocketHandler) Broadcast(messageType string, data interface{}) {
	message := WebSocketMessage{
		Type:      messageType,
		Timestamp: time.Now(),
		Data:      data,
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal websocket message")
		return
	}

	var slow []*WebSocketClient
	h.clientsMu.RLock()
	for client := range h.clients {
		select {
		case client.send <- msgBytes:
		default:
			slow = append(slow, client)
		}
	}
	h.clientsMu.RUnlock()

	for _, client := range slow {
		h.unregisterClient(client)
	}
}

// StartEventListener subscribes to the event bus and rebroadcasts every
// signal/backtest/system event to connected dashboards until ctx is
// canceled.
func (h *WebSocketHandler) StartEventListener(ctx context.Context) {
	signalCh := h.eventBus.Subscribe(events.EventTypeSignal)
	progressCh := h.eventBus.Subscribe(events.EventTypeBacktestProgress)
	completedCh := h.eventBus.Subscribe(events.EventTypeBacktestCompleted)
	statusCh := h.eventBus.Subscribe(events.EventTypeSystemStatus)

	h.logger.Info().Msg("websocket event listener started")

	for {
		select {
		case event := <-signalCh:
			if e, ok := event.(*events.SignalEvent); ok {
				h.Broadcast("signal", map[string]interface{}{
					"task":   e.TaskName,
					"symbol": e.Symbol,
					"action": e.Action,
					"score":  e.Score,
					"rank":   e.Rank,
					"date":   e.Date,
				})
			}

		case event := <-progressCh:
			if e, ok := event.(*events.BacktestProgressEvent); ok {
				h.Broadcast("backtest_progress", map[string]interface{}{
					"task":          e.TaskName,
					"current_date":  e.CurrentDate,
					"dates_done":    e.DatesDone,
					"dates_total":   e.DatesTotal,
					"current_value": e.CurrentValue,
				})
			}

		case event := <-completedCh:
			if e, ok := event.(*events.BacktestCompletedEvent); ok {
				h.Broadcast("backtest_completed", map[string]interface{}{
					"task":         e.TaskName,
					"status":       e.Status,
					"final_value":  e.FinalValue,
					"total_return": e.TotalReturn,
					"sharpe":       e.Sharpe,
				})
			}

		case event := <-statusCh:
			if e, ok := event.(*events.SystemStatusEvent); ok {
				h.Broadcast("system_status", map[string]interface{}{
					"component": e.Component,
					"status":    e.Status,
					"message":   e.Message,
				})
			}

		case <-ctx.Done():
			h.logger.Info().Msg("websocket event listener stopped")
			return
		}
	}
}

// GetClientCount returns the number of connected clients.
func (h *WebSocketHandler) GetClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.handler.logger.Error().Err(err).Msg("failed to write websocket message")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.handler.unregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.handler.logger.Error().Err(err).Msg("websocket read error")
			}
			break
		}
		c.handleIncomingMessage(message)
	}
}

func (c *WebSocketClient) handleIncomingMessage(message []byte) {
	var msg map[string]interface{}
	if err := json.Unmarshal(message, &msg); err != nil {
		c.handler.logger.Error().Err(err).Msg("failed to unmarshal client message")
		return
	}

	msgType, ok := msg["type"].(string)
	if !ok {
		return
	}

	switch msgType {
	case "ping":
		c.sendMessage("pong", map[string]string{"status": "ok"})
	default:
		c.handler.logger.Warn().Str("type", msgType).Msg("unknown message type from client")
	}
}

func (c *WebSocketClient) sendMessage(messageType string, data interface{}) {
	message := WebSocketMessage{
		Type:      messageType,
		Timestamp: time.Now(),
		Data:      data,
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		c.handler.logger.Error().Err(err).Msg("failed to marshal message")
		return
	}

	select {
	case c.send <- msgBytes:
	default:
		c.handler.logger.Warn().Str("client_id", c.clientID).Msg("client send channel full")
	}
}
