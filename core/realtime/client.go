package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"cotrack/core/access"
	"cotrack/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096 // 4KB
	sendBufferSize = 64
)

// Client 一个 WebSocket 连接，可同时订阅多个歌单房间
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	UserID string

	// rooms 由 Hub 在持锁时维护
	rooms map[string]bool

	// joined 只在读协程中使用，用于在线状态
	joined map[string]bool

	mu     sync.Mutex
	closed bool
}

// NewClient 创建连接
func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		UserID: userID,
		rooms:  make(map[string]bool),
		joined: make(map[string]bool),
	}
}

// Serve 注册连接并阻塞处理读写，连接断开后返回
func (c *Client) Serve(ctx context.Context) {
	if !c.hub.Register(c) {
		c.conn.Close()
		return
	}
	go c.WritePump()
	c.ReadPump(ctx)
}

// enqueue 非阻塞写入发送缓冲区，缓冲区满或已关闭返回 false
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump 读取消息循环
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.prune()
		c.hub.Unregister(c)
		c.conn.Close()
		c.leaveAll(context.WithoutCancel(ctx))
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.heartbeat(ctx)
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read error",
					logger.ErrorField(err),
					logger.UserID(c.UserID))
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.enqueue(encodeMessage(MsgTypeError, "", "invalid message format"))
			continue
		}
		c.handle(ctx, &msg)
	}
}

func (c *Client) handle(ctx context.Context, msg *WSMessage) {
	switch msg.Type {
	case MsgTypePing:
		c.heartbeat(ctx)
		c.enqueue(encodeMessage(MsgTypePong, "", ""))

	case MsgTypeJoinRoom:
		if msg.PlaylistID == "" {
			c.enqueue(encodeMessage(MsgTypeError, "", "playlistId is required"))
			return
		}
		if !c.hub.requestSubscribe(c, msg.PlaylistID) {
			return
		}
		if err := c.authorize(ctx, msg.PlaylistID); err != nil {
			logger.Debug("join-room rejected",
				logger.PlaylistID(msg.PlaylistID),
				logger.UserID(c.UserID),
				logger.ErrorField(err))
			c.hub.requestUnsubscribe(c, msg.PlaylistID)
			c.enqueue(encodeMessage(MsgTypeError, msg.PlaylistID, err.Error()))
			return
		}
		// 鉴权期间被移出或歌单被删除
		if !c.hub.confirmSubscribe(c, msg.PlaylistID) {
			c.enqueue(encodeMessage(MsgTypeError, msg.PlaylistID, "subscription cancelled"))
			return
		}
		c.joined[msg.PlaylistID] = true
		if c.hub.presence != nil {
			c.hub.presence.Enter(ctx, msg.PlaylistID, c.UserID)
		}

	case MsgTypeLeaveRoom:
		c.hub.requestUnsubscribe(c, msg.PlaylistID)
		if c.joined[msg.PlaylistID] {
			delete(c.joined, msg.PlaylistID)
			if c.hub.presence != nil {
				c.hub.presence.Leave(ctx, msg.PlaylistID, c.UserID)
			}
		}

	default:
		c.enqueue(encodeMessage(MsgTypeError, msg.PlaylistID, "unsupported message type"))
	}
}

// heartbeat 刷新仍在订阅中的房间
func (c *Client) heartbeat(ctx context.Context) {
	if c.hub.presence == nil {
		return
	}
	c.prune()
	for playlistID := range c.joined {
		c.hub.presence.Heartbeat(ctx, playlistID, c.UserID)
	}
}

// prune 丢弃已被 Hub 撤销的房间（成员被移出或歌单被删除），不再续期也不再标记离线
func (c *Client) prune() {
	for playlistID := range c.joined {
		if c.hub.revoked(c, playlistID) {
			delete(c.joined, playlistID)
		}
	}
}

func (c *Client) authorize(ctx context.Context, playlistID string) error {
	if c.hub.authorizer == nil {
		return errors.New("room authorization is not configured")
	}
	return c.hub.authorizer.Authorize(ctx, playlistID, c.UserID, access.ActionView)
}

func (c *Client) leaveAll(ctx context.Context) {
	if c.hub.presence == nil {
		return
	}
	for playlistID := range c.joined {
		c.hub.presence.Leave(ctx, playlistID, c.UserID)
	}
}

// WritePump 写入消息循环，每条消息单独一帧
func (c *Client) WritePump() {
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
				// Hub 关闭了通道
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
