package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	clientQueueLen = 64
	maxClientFrame = 4096
)

// MessageType 消息类型
type MessageType string

const (
	PredictionMessage MessageType = "prediction"
)

// Message 推送消息结构
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	ID        string          `json:"id"`
}

// PredictionEvent 单次预测事件
type PredictionEvent struct {
	Task        string  `json:"task"`
	Outcome     Outcome `json:"outcome"`
	Unavailable bool    `json:"unavailable"`
	DurationMs  float64 `json:"duration_ms"`
	RequestID   string  `json:"request_id,omitempty"`
}

// ClientMessage 客户端消息（subscribe / unsubscribe 某个任务）
type ClientMessage struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
}

// FeedStats 推送统计
type FeedStats struct {
	ConnectedClients int64     `json:"connected_clients"`
	MessagesSent     int64     `json:"messages_sent"`
	MessagesDropped  int64     `json:"messages_dropped"`
	StartTime        time.Time `json:"start_time"`
}

// Client WebSocket客户端
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	clientID string

	mu            sync.Mutex
	subscriptions map[string]bool // 空表示订阅全部任务
}

func (c *Client) wants(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscriptions) == 0 || c.subscriptions[topic]
}

type broadcastMessage struct {
	topic   string
	payload []byte
}

// WebSocketHub WebSocket中心，向所有客户端推送预测事件
type WebSocketHub struct {
	clients    map[*Client]bool
	broadcast  chan broadcastMessage
	register   chan *Client
	unregister chan *Client
	upgrader   websocket.Upgrader
	logger     *zap.Logger
	ctx        context.Context
	cancel     context.CancelFunc

	connected int64
	sent      int64
	dropped   int64
	startTime time.Time
}

// NewWebSocketHub 创建WebSocket中心
func NewWebSocketHub(allowedOrigins []string, logger *zap.Logger) *WebSocketHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &WebSocketHub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan broadcastMessage, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// Start 运行WebSocket中心，直到 Stop 被调用
func (h *WebSocketHub) Start() {
	defer h.logger.Info("prediction feed stopped")

	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			atomic.StoreInt64(&h.connected, int64(len(h.clients)))
			h.logger.Debug("feed client connected", zap.String("client_id", client.clientID), zap.Int("total", len(h.clients)))

		case client := <-h.unregister:
			h.remove(client)
			h.logger.Debug("feed client disconnected", zap.String("client_id", client.clientID), zap.Int("total", len(h.clients)))

		case msg := <-h.broadcast:
			for client := range h.clients {
				if !client.wants(msg.topic) {
					continue
				}
				select {
				case client.send <- msg.payload:
					atomic.AddInt64(&h.sent, 1)
				default:
					// 慢客户端直接断开
					h.remove(client)
					atomic.AddInt64(&h.dropped, 1)
				}
			}

		case <-h.ctx.Done():
			for client := range h.clients {
				h.remove(client)
			}
			return
		}
	}
}

func (h *WebSocketHub) remove(client *Client) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		atomic.StoreInt64(&h.connected, int64(len(h.clients)))
	}
}

// Stop 停止WebSocket中心并断开所有客户端
func (h *WebSocketHub) Stop() {
	h.cancel()
}

// HandleWebSocket 处理WebSocket连接
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:          conn,
		send:          make(chan []byte, clientQueueLen),
		clientID:      uuid.NewString(),
		subscriptions: make(map[string]bool),
	}

	select {
	case h.register <- client:
	case <-h.ctx.Done():
		conn.Close()
		return
	}

	go client.writePump(h.logger)
	go client.readPump(h)
}

// Publish 推送一次预测事件；队列满时丢弃
func (h *WebSocketHub) Publish(event PredictionEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn("encode prediction event", zap.Error(err))
		return
	}
	payload, err := json.Marshal(Message{
		Type:      PredictionMessage,
		Timestamp: time.Now().UTC(),
		Data:      data,
		ID:        uuid.NewString(),
	})
	if err != nil {
		h.logger.Warn("encode feed message", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- broadcastMessage{topic: event.Task, payload: payload}:
	default:
		atomic.AddInt64(&h.dropped, 1)
	}
}

// Stats 获取推送统计
func (h *WebSocketHub) Stats() FeedStats {
	return FeedStats{
		ConnectedClients: atomic.LoadInt64(&h.connected),
		MessagesSent:     atomic.LoadInt64(&h.sent),
		MessagesDropped:  atomic.LoadInt64(&h.dropped),
		StartTime:        h.startTime,
	}
}

// writePump WebSocket写入泵
func (c *Client) writePump(logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Debug("websocket write failed", zap.String("client_id", c.clientID), zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump WebSocket读取泵
func (c *Client) readPump(h *WebSocketHub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.ctx.Done():
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxClientFrame)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket read failed", zap.String("client_id", c.clientID), zap.Error(err))
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		c.handleClientMessage(msg)
	}
}

// handleClientMessage 处理客户端订阅消息
func (c *Client) handleClientMessage(msg ClientMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Type {
	case "subscribe":
		c.subscriptions[msg.Topic] = true
	case "unsubscribe":
		delete(c.subscriptions, msg.Topic)
	}
}
