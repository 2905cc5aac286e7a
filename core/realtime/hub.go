package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"cotrack/core/access"
	"cotrack/logger"
	"cotrack/model"
)

// RoomAuthorizer join-room 鉴权
type RoomAuthorizer interface {
	Authorize(ctx context.Context, playlistID, principal string, action access.Action) error
}

// AuthorizerFunc 函数适配器
type AuthorizerFunc func(ctx context.Context, playlistID, principal string, action access.Action) error

func (f AuthorizerFunc) Authorize(ctx context.Context, playlistID, principal string, action access.Action) error {
	return f(ctx, playlistID, principal, action)
}

// PresenceHook 连接进出房间时更新成员在线状态
type PresenceHook interface {
	Enter(ctx context.Context, playlistID, userID string)
	Leave(ctx context.Context, playlistID, userID string)
	Heartbeat(ctx context.Context, playlistID, userID string)
	// Closed 歌单已删除，清理该房间的在线状态
	Closed(ctx context.Context, playlistID string)
}

const eventQueueSize = 256

type subscription struct {
	client     *Client
	playlistID string
	reply      chan bool
}

// Hub 歌单房间 WebSocket 管理中心
// 房间与订阅关系只在 Run 协程中修改
type Hub struct {
	// 歌单 -> 订阅该房间的连接
	rooms map[string]map[*Client]bool

	// 歌单 -> 等待鉴权的连接，不接收任何事件
	pending map[string]map[*Client]bool

	// 已注册的连接
	clients map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	subscribe   chan subscription
	confirm     chan subscription
	unsubscribe chan subscription
	events      chan model.Event

	authorizer RoomAuthorizer
	presence   PresenceHook

	mu       sync.RWMutex
	done     chan struct{}
	stopOnce sync.Once
}

// NewHub 创建 Hub，presence 可以为 nil
func NewHub(authorizer RoomAuthorizer, presence PresenceHook) *Hub {
	return &Hub{
		rooms:       make(map[string]map[*Client]bool),
		pending:     make(map[string]map[*Client]bool),
		clients:     make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		subscribe:   make(chan subscription),
		confirm:     make(chan subscription),
		unsubscribe: make(chan subscription),
		events:      make(chan model.Event, eventQueueSize),
		authorizer:  authorizer,
		presence:    presence,
		done:        make(chan struct{}),
	}
}

// Run 启动 Hub 主循环
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			logger.Debug("client registered", logger.UserID(client.UserID))

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeClient(client)
			h.mu.Unlock()

		case sub := <-h.subscribe:
			sub.reply <- h.addPending(sub)

		case sub := <-h.confirm:
			sub.reply <- h.promote(sub)

		case sub := <-h.unsubscribe:
			h.mu.Lock()
			h.dropPending(sub.client, sub.playlistID)
			removed := h.dropSubscription(sub.client, sub.playlistID)
			h.mu.Unlock()
			if removed {
				sub.client.enqueue(encodeMessage(MsgTypeLeft, sub.playlistID, ""))
			}

		case evt := <-h.events:
			h.deliver(evt)

		case <-h.done:
			h.cleanup()
			return
		}
	}
}

// Stop 停止 Hub，关闭所有连接的发送通道
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Publish 投递歌单事件，队列满时丢弃
func (h *Hub) Publish(evt model.Event) {
	select {
	case h.events <- evt:
	case <-h.done:
	default:
		logger.Warn("事件队列已满，丢弃事件",
			logger.PlaylistID(evt.PlaylistID),
			logger.String("type", string(evt.Type)))
	}
}

// Register 注册连接，Hub 已停止时返回 false
func (h *Hub) Register(client *Client) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister 注销连接
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// requestSubscribe 鉴权前登记待定订阅，之后发布的 member-left / playlist-deleted 会将其撤销
func (h *Hub) requestSubscribe(client *Client, playlistID string) bool {
	return h.call(h.subscribe, client, playlistID)
}

// confirmSubscribe 鉴权通过后转为正式订阅，待定订阅已被撤销时返回 false
func (h *Hub) confirmSubscribe(client *Client, playlistID string) bool {
	return h.call(h.confirm, client, playlistID)
}

func (h *Hub) call(ch chan subscription, client *Client, playlistID string) bool {
	reply := make(chan bool, 1)
	select {
	case ch <- subscription{client: client, playlistID: playlistID, reply: reply}:
	case <-h.done:
		return false
	}
	select {
	case ok := <-reply:
		return ok
	case <-h.done:
		return false
	}
}

func (h *Hub) requestUnsubscribe(client *Client, playlistID string) {
	select {
	case h.unsubscribe <- subscription{client: client, playlistID: playlistID}:
	case <-h.done:
	}
}

func (h *Hub) addPending(sub subscription) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[sub.client] {
		// 连接已断开
		return false
	}
	if h.pending[sub.playlistID] == nil {
		h.pending[sub.playlistID] = make(map[*Client]bool)
	}
	h.pending[sub.playlistID][sub.client] = true
	return true
}

func (h *Hub) promote(sub subscription) bool {
	h.mu.Lock()
	if !h.dropPending(sub.client, sub.playlistID) {
		h.mu.Unlock()
		return false
	}
	if h.rooms[sub.playlistID] == nil {
		h.rooms[sub.playlistID] = make(map[*Client]bool)
	}
	h.rooms[sub.playlistID][sub.client] = true
	sub.client.rooms[sub.playlistID] = true
	h.mu.Unlock()

	sub.client.enqueue(encodeMessage(MsgTypeJoined, sub.playlistID, ""))
	logger.Debug("client joined room",
		logger.PlaylistID(sub.playlistID),
		logger.UserID(sub.client.UserID))
	return true
}

// dropPending 需要持有写锁
func (h *Hub) dropPending(client *Client, playlistID string) bool {
	clients, ok := h.pending[playlistID]
	if !ok || !clients[client] {
		return false
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.pending, playlistID)
	}
	return true
}

// dropSubscription 需要持有写锁
func (h *Hub) dropSubscription(client *Client, playlistID string) bool {
	clients, ok := h.rooms[playlistID]
	if !ok || !clients[client] {
		return false
	}
	delete(clients, client)
	delete(client.rooms, playlistID)
	if len(clients) == 0 {
		delete(h.rooms, playlistID)
	}
	return true
}

// removeClient 移除连接及其全部订阅（需要持有写锁）
func (h *Hub) removeClient(client *Client) {
	if !h.clients[client] {
		return
	}
	for playlistID := range client.rooms {
		h.dropSubscription(client, playlistID)
	}
	for playlistID := range h.pending {
		h.dropPending(client, playlistID)
	}
	delete(h.clients, client)
	client.close()
	logger.Debug("client unregistered", logger.UserID(client.UserID))
}

// deliver 向房间内所有订阅者（包括操作者本人）推送事件
func (h *Hub) deliver(evt model.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		logger.Warn("序列化事件失败", logger.PlaylistID(evt.PlaylistID), logger.ErrorField(err))
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[evt.PlaylistID]))
	for client := range h.rooms[evt.PlaylistID] {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	var slow []*Client
	for _, client := range clients {
		if !client.enqueue(data) {
			slow = append(slow, client)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// 发送缓冲区满，断开慢连接
	for _, client := range slow {
		logger.Warn("发送缓冲区已满，断开连接",
			logger.PlaylistID(evt.PlaylistID),
			logger.UserID(client.UserID))
		h.removeClient(client)
	}

	switch evt.Type {
	case model.EventMemberLeft:
		var payload model.MemberLeftPayload
		if err := json.Unmarshal(evt.Payload, &payload); err != nil || payload.UserID == "" {
			return
		}
		for client := range h.rooms[evt.PlaylistID] {
			if client.UserID == payload.UserID {
				h.dropSubscription(client, evt.PlaylistID)
				client.enqueue(encodeMessage(MsgTypeLeft, evt.PlaylistID, ""))
			}
		}
		for client := range h.pending[evt.PlaylistID] {
			if client.UserID == payload.UserID {
				h.dropPending(client, evt.PlaylistID)
			}
		}
	case model.EventPlaylistDeleted:
		for client := range h.rooms[evt.PlaylistID] {
			delete(client.rooms, evt.PlaylistID)
		}
		delete(h.rooms, evt.PlaylistID)
		delete(h.pending, evt.PlaylistID)
		if h.presence != nil {
			go h.presence.Closed(context.Background(), evt.PlaylistID)
		}
	}
}

// cleanup 清理所有连接
func (h *Hub) cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.close()
	}
	h.clients = make(map[*Client]bool)
	h.rooms = make(map[string]map[*Client]bool)
	h.pending = make(map[string]map[*Client]bool)
}

// RoomSize 房间当前订阅连接数
func (h *Hub) RoomSize(playlistID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[playlistID])
}

// Subscribed 判断连接是否订阅了房间
func (h *Hub) Subscribed(client *Client, playlistID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[playlistID][client]
}

// revoked 连接仍在线但订阅已被撤销；连接被移除时不算，离线标记照常处理
func (h *Hub) revoked(client *Client, playlistID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[client] && !h.rooms[playlistID][client]
}
