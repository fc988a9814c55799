package api

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocket reply and broadcast events
const (
	EventResponse     = "response"
	EventError        = "error"
	EventPrinterFound = "printer_found"
)

// WSMessage is a WebSocket frame. Requests carry operation arguments in
// Data; replies carry a printer.Result and echo the request ID.
type WSMessage struct {
	Event string      `json:"event"`
	ID    string      `json:"id,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

type wsRequest struct {
	Event string          `json:"event"`
	ID    string          `json:"id"`
	Data  json.RawMessage `json:"data"`
}

// WSClient represents a connected WebSocket client
type WSClient struct {
	conn   *websocket.Conn
	send   chan WSMessage
	done   chan struct{}
	server *Server
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &WSClient{
		conn:   conn,
		send:   make(chan WSMessage, 256),
		done:   make(chan struct{}),
		server: s,
	}

	s.logger.Info("websocket client connected", zap.String("remote", conn.RemoteAddr().String()))

	go client.readPump()
	go client.writePump()
}

func (c *WSClient) writePump() {
	defer c.conn.Close()

	for {
		select {
		case msg := <-c.send:
			if err := c.conn.WriteJSON(msg); err != nil {
				c.server.logger.Warn("websocket write failed", zap.Error(err))
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *WSClient) readPump() {
	c.server.hub.add(c)
	defer func() {
		c.server.hub.remove(c)
		close(c.done)
		c.conn.Close()
		c.server.logger.Info("websocket client disconnected")
	}()

	for {
		var req wsRequest
		if err := c.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		c.handleMessage(&req)
	}
}

// handleMessage starts the requested operation and replies once it completes
func (c *WSClient) handleMessage(req *wsRequest) {
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	results, err := c.server.start(context.Background(), req.Event, func(v interface{}) error {
		if len(req.Data) == 0 || string(req.Data) == "null" {
			return nil
		}
		return json.Unmarshal(req.Data, v)
	})
	if err != nil {
		_, body := rejection(err)
		c.reply(WSMessage{Event: EventError, ID: id, Data: body})
		return
	}

	go func() {
		res, ok := <-results
		if !ok {
			return
		}
		c.reply(WSMessage{Event: EventResponse, ID: id, Data: res})
		if res.Success && req.Event == EventAutodetect {
			c.server.hub.broadcast(WSMessage{Event: EventPrinterFound, ID: id, Data: res})
		}
	}()
}

// reply queues msg unless the client has disconnected
func (c *WSClient) reply(msg WSMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	}
}

// hub tracks connected clients for broadcasts
type hub struct {
	mu      sync.RWMutex
	clients map[*WSClient]bool
}

func newHub() *hub {
	return &hub{clients: make(map[*WSClient]bool)}
}

func (h *hub) add(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *hub) remove(c *WSClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// broadcast delivers msg to every client, skipping clients whose send
// buffer is full
func (h *hub) broadcast(msg WSMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
		}
	}
}
