package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tempmail/client/internal/mailsync"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = 54 * time.Second
	heartbeatPeriod  = 30 * time.Second
	commandTimeout   = 30 * time.Second
	sendBufferSize   = 64
	broadcastBufSize = 256
)

// CommandHandler 处理客户端发来的命令
type CommandHandler interface {
	Snapshot() mailsync.Snapshot
	LoadNextPage(ctx context.Context) (int, error)
}

// Stats WebSocket 指标
type Stats interface {
	SetWebSocketClients(n int)
	RecordWebSocketDrop()
}

type nopStats struct{}

func (nopStats) SetWebSocketClients(int) {}
func (nopStats) RecordWebSocketDrop()    {}

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// 如果允许所有来源
			for _, origin := range allowedOrigins {
				if origin == "*" {
					return true
				}
			}

			// 没有 Origin 的请求不是浏览器发起的
			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				return true
			}

			for _, origin := range allowedOrigins {
				if requestOrigin == origin {
					return true
				}
			}

			return false
		},
	}
}

// MessageType 定义WebSocket消息类型
type MessageType string

const (
	MessageTypeState          MessageType = "state"
	MessageTypeNewMail        MessageType = "new_mail"
	MessageTypeAddressChanged MessageType = "address_changed"
	MessageTypeNotice         MessageType = "notice"
	MessageTypeConnectionLost MessageType = "connection_lost"
	MessageTypePing           MessageType = "ping"
	MessageTypePong           MessageType = "pong"
	MessageTypeLoadMore       MessageType = "load_more"
	MessageTypeError          MessageType = "error"
)

// Message 定义WebSocket消息结构
type Message struct {
	Type      MessageType     `json:"type"`
	Address   string          `json:"address,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMailData 新邮件通知数据
type NewMailData struct {
	ID        int64  `json:"id"`
	From      string `json:"from"`
	Sender    string `json:"sender"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	CreatedAt string `json:"createdAt"`
}

// NoticeData 提示通知数据
type NoticeData struct {
	Kind       string `json:"kind"`
	Level      string `json:"level"`
	Message    string `json:"message,omitempty"`
	Generation uint64 `json:"generation"`
}

// LoadMoreData load_more 命令的结果
type LoadMoreData struct {
	Added   int  `json:"added"`
	HasMore bool `json:"hasMore"`
}

// Client 代表一个WebSocket客户端连接
type Client struct {
	ID   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
	log  *zap.Logger

	// closed send 已关闭，由 hub.mu 保护
	closed bool
}

// Hub 管理所有WebSocket连接，并作为同步通知的接收者把通知推送给本地界面
type Hub struct {
	clients        map[string]*Client
	unregister     chan *Client
	broadcast      chan []byte
	done           chan struct{}
	mu             sync.RWMutex
	log            *zap.Logger
	allowedOrigins []string
	commands       CommandHandler
	stats          Stats
}

// NewHub 创建WebSocket Hub
//
// 参数:
//   - allowedOrigins: 允许的 Origin 列表，用于 WebSocket 连接验证
//   - commands: 客户端命令处理者，通常是同步客户端
//   - log: 日志记录器
//
// 返回值:
//   - *Hub: 创建的 Hub 实例
func NewHub(allowedOrigins []string, commands CommandHandler, log *zap.Logger) *Hub {
	// 如果没有配置，默认允许所有
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Hub{
		clients:        make(map[string]*Client),
		unregister:     make(chan *Client),
		broadcast:      make(chan []byte, broadcastBufSize),
		done:           make(chan struct{}),
		log:            log.Named("websocket"),
		allowedOrigins: allowedOrigins,
		commands:       commands,
		stats:          nopStats{},
	}
}

// SetStats 设置指标记录器，需要在 Run 之前调用
func (h *Hub) SetStats(s Stats) {
	if s == nil {
		s = nopStats{}
	}
	h.stats = s
}

// Run 启动Hub，ctx 结束时关闭所有连接
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info("websocket hub stopped")
			close(h.done)
			h.closeAllClients()
			return

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				client.closed = true
				close(client.send)
				h.log.Info("client unregistered", zap.String("id", client.ID))
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.stats.SetWebSocketClients(n)

		case data := <-h.broadcast:
			h.broadcastAll(data)

		case <-ticker.C:
			// 定期ping所有客户端
			h.pingAllClients()
		}
	}
}

// ClientCount 返回当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Notify 把同步通知转换为 WebSocket 消息广播给所有客户端
//
// 不会阻塞：广播缓冲区已满时丢弃消息。
func (h *Hub) Notify(n mailsync.Notice) {
	msg := &Message{
		Address:   n.Address,
		Timestamp: n.Time,
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	var payload interface{}
	switch n.Kind {
	case mailsync.NoticeNewMail:
		msg.Type = MessageTypeNewMail
		if n.Envelope != nil {
			payload = NewMailData{
				ID:        n.Envelope.ID,
				From:      n.Envelope.From,
				Sender:    n.Envelope.Sender(),
				To:        n.Envelope.To,
				Subject:   n.Envelope.Subject,
				CreatedAt: n.Envelope.CreatedAt.Format(time.RFC3339),
			}
		}
	case mailsync.NoticeAddressChanged:
		msg.Type = MessageTypeAddressChanged
		payload = NoticeData{Kind: string(n.Kind), Level: string(n.Level), Message: n.Message, Generation: n.Generation}
	case mailsync.NoticeConnectionLost:
		msg.Type = MessageTypeConnectionLost
		payload = NoticeData{Kind: string(n.Kind), Level: string(n.Level), Message: n.Message, Generation: n.Generation}
	default:
		msg.Type = MessageTypeNotice
		payload = NoticeData{Kind: string(n.Kind), Level: string(n.Level), Message: n.Message, Generation: n.Generation}
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			h.log.Error("failed to marshal notice", zap.Error(err))
			return
		}
		msg.Data = data
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("failed to marshal message", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.stats.RecordWebSocketDrop()
		h.log.Warn("broadcast buffer full, dropping message", zap.String("type", string(msg.Type)))
	}
}

// broadcastAll 向所有客户端广播消息
func (h *Hub) broadcastAll(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		select {
		case client.send <- data:
		default:
			// 客户端阻塞，跳过
			h.stats.RecordWebSocketDrop()
			h.log.Warn("client channel blocked, skipping", zap.String("clientID", client.ID))
		}
	}
}

// pingAllClients 向所有客户端发送ping
func (h *Hub) pingAllClients() {
	data, err := json.Marshal(&Message{
		Type:      MessageTypePing,
		Timestamp: time.Now(),
	})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		select {
		case client.send <- data:
		default:
			// 跳过阻塞的客户端
		}
	}
}

// closeAllClients 关闭所有客户端连接
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	for _, client := range h.clients {
		client.closed = true
		close(client.send)
	}
	h.clients = make(map[string]*Client)
	h.mu.Unlock()
	h.stats.SetWebSocketClients(0)
}

// addClient 注册客户端，Hub 已停止时返回 false
func (h *Hub) addClient(client *Client) bool {
	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		return false
	default:
	}
	h.clients[client.ID] = client
	n := len(h.clients)
	h.mu.Unlock()

	h.stats.SetWebSocketClients(n)
	h.log.Info("client registered", zap.String("id", client.ID))
	return true
}

// HandleWebSocket 处理WebSocket连接
func HandleWebSocket(hub *Hub) gin.HandlerFunc {
	// 使用 Hub 配置的允许 Origin 创建 upgrader
	upgrader := upgraderFactory(hub.allowedOrigins)

	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Warn("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
				zap.String("remote_addr", c.ClientIP()))
			return
		}

		id := uuid.NewString()
		client := &Client{
			ID:   id,
			conn: conn,
			hub:  hub,
			send: make(chan []byte, sendBufferSize),
			log:  hub.log.With(zap.String("clientID", id)),
		}

		// 连接建立后先推送一次完整状态
		client.sendState()

		if !hub.addClient(client) {
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

// readPump 处理客户端消息
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Warn("websocket error", zap.Error(err))
			}
			break
		}

		c.handleMessage(&msg)
	}
}

// writePump 发送消息给客户端
func (c *Client) writePump() {
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

// handleMessage 处理接收到的消息
func (c *Client) handleMessage(msg *Message) {
	switch msg.Type {
	case MessageTypePing:
		c.sendMessage(&Message{Type: MessageTypePong, Timestamp: time.Now()})
	case MessageTypePong:
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
	case MessageTypeState:
		c.sendState()
	case MessageTypeLoadMore:
		c.loadMore()
	default:
		c.log.Warn("unknown message type", zap.String("type", string(msg.Type)))
		c.sendError("unknown message type: " + string(msg.Type))
	}
}

// loadMore 加载下一页并返回结果
func (c *Client) loadMore() {
	if c.hub.commands == nil {
		c.sendError("load_more not available")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	added, err := c.hub.commands.LoadNextPage(ctx)
	if err != nil {
		c.sendError(err.Error())
		return
	}

	snap := c.hub.commands.Snapshot()
	data, err := json.Marshal(LoadMoreData{Added: added, HasMore: snap.HasMore})
	if err != nil {
		return
	}
	c.sendMessage(&Message{
		Type:      MessageTypeLoadMore,
		Address:   snap.Address,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// sendState 发送当前同步状态
func (c *Client) sendState() {
	if c.hub.commands == nil {
		return
	}
	snap := c.hub.commands.Snapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		c.log.Error("failed to marshal snapshot", zap.Error(err))
		return
	}
	c.sendMessage(&Message{
		Type:      MessageTypeState,
		Address:   snap.Address,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// sendError 发送错误消息给客户端
func (c *Client) sendError(errMsg string) {
	c.sendMessage(&Message{
		Type:      MessageTypeError,
		Error:     errMsg,
		Timestamp: time.Now(),
	})
}

// sendMessage 发送消息给客户端
func (c *Client) sendMessage(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("failed to marshal message", zap.Error(err))
		return
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		c.hub.stats.RecordWebSocketDrop()
		c.log.Warn("client channel blocked")
	}
}
