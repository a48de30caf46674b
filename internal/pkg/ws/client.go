package ws

import (
	log "log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeTimeout  = 10 * time.Second
	sendQueueSize = 256
)

// Client 一条已鉴权的 WebSocket 连接；同一用户可同时持有多条
type Client struct {
	ID     string // 连接句柄，进程内唯一
	UserID uint64
	Conn   *websocket.Conn
	Send   chan []byte

	mu     sync.Mutex
	closed bool
}

func NewClient(userID uint64, conn *websocket.Conn) *Client {
	return &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, sendQueueSize),
	}
}

// Deliver 非阻塞投递：慢消费者直接丢帧，离线补投由扫描机制兜底；
// 已关闭的连接静默丢弃。
func (c *Client) Deliver(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.Send <- data:
	default:
		log.Warn("WS 发送队列已满，丢弃帧", "userID", c.UserID, "connID", c.ID)
	}
}

// Close 关闭发送队列，写循环排空后退出；重复调用安全
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

// WritePump 写循环：串行消费发送队列并推送至客户端
func (c *Client) WritePump() {
	defer func() {
		_ = c.Conn.Close()
	}()

	for msg := range c.Send {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Info("WS 推送失败，连接即将回收", "userID", c.UserID, "connID", c.ID, "err", err)
			return
		}
	}
}
