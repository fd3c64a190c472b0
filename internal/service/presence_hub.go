package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"im_backend/internal/repository"
	"im_backend/pkg/logger"
	"im_backend/pkg/monitoring"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	shardCount     = 32
	onlineTTL      = 2 * time.Minute // 在线状态过期时间

	eventChannel = "im:events"
)

// 推送事件类型
const (
	EventNewMessage      = "NEW_MESSAGE"
	EventContactRequest  = "CONTACT_REQUEST"
	EventContactAccepted = "CONTACT_ACCEPTED"
	EventUserStatus      = "USER_STATUS"
	EventTyping          = "TYPING"
)

var (
	// 内存复用 (sync.Pool)
	messagePool = sync.Pool{
		New: func() interface{} {
			return &WSMessage{}
		},
	}
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Client 一条 WebSocket 连接。同一用户可同时持有多条连接（多端登录），
// 每条连接有独立的连接 ID 和发送队列。
type Client struct {
	Hub     *PresenceHub
	Conn    *websocket.Conn
	Send    chan []byte
	UserID  uint
	ConnID  string
	Limiter *rate.Limiter // 限流器
}

func (c *Client) readPump() {
	defer func() {
		c.Hub.Leave(c)
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Log.Error("WebSocket unexpected close", zap.Error(err), zap.Uint("userId", c.UserID))
			}
			break
		}

		// 限流校验 (每秒最多 30 条消息，允许突发 50 条)
		if !c.Limiter.Allow() {
			continue
		}

		// 对象池解析消息
		wsMsg := messagePool.Get().(*WSMessage)
		if err := json.Unmarshal(message, wsMsg); err != nil {
			messagePool.Put(wsMsg)
			continue
		}

		monitoring.IMMessageCounter.WithLabelValues(wsMsg.Type, "in").Inc() // 记录上行消息

		if wsMsg.Type == EventTyping {
			c.Hub.HandleTransientEvent(c.UserID, *wsMsg)
		}
		messagePool.Put(wsMsg)
	}
}

// HandleTransientEvent 处理不需要存库的瞬时事件转发（输入中提示等）。
// 只转发给发送方自己行为 accepted 的对端。
func (h *PresenceHub) HandleTransientEvent(senderID uint, msg WSMessage) {
	data, ok := msg.Data.(map[string]interface{})
	if !ok {
		return
	}
	peerFloat, ok := data["peerId"].(float64)
	if !ok || uint(peerFloat) == senderID {
		return
	}
	peerID := uint(peerFloat)

	if h.ContactRepo != nil {
		accepted, err := h.ContactRepo.IsAccepted(senderID, peerID)
		if err != nil || !accepted {
			return
		}
	}

	data["userId"] = senderID
	msg.Data = data
	h.PushToUsers([]uint{peerID}, msg)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if n := len(c.Send); n > 0 {
				for i := 0; i < n; i++ {
					w.Write(<-c.Send)
				}
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type shard struct {
	conns map[uint]map[*Client]struct{}
	mu    sync.RWMutex
}

// PresenceHub 维护 用户ID -> 存活连接集合 的注册表，并把事件
// 扇出到目标用户的所有连接。推送是尽力而为：没有存活连接时
// 事件直接丢弃，不排队不重试，持久化记录才是事实来源。
type PresenceHub struct {
	shards      [shardCount]*shard
	Redis       *redis.Client
	ContactRepo *repository.ContactRepository
	ctx         context.Context
}

func NewPresenceHub(rdb *redis.Client, contactRepo *repository.ContactRepository) *PresenceHub {
	h := &PresenceHub{
		Redis:       rdb,
		ContactRepo: contactRepo,
		ctx:         context.Background(),
	}
	for i := 0; i < shardCount; i++ {
		h.shards[i] = &shard{
			conns: make(map[uint]map[*Client]struct{}),
		}
	}
	return h
}

func (h *PresenceHub) getShard(userID uint) *shard {
	return h.shards[userID%shardCount]
}

// Join 把连接注册到其用户的集合中；该用户的第一条连接会刷新
// Redis 在线标记并向相关联系人广播上线状态。
func (h *PresenceHub) Join(c *Client) {
	s := h.getShard(c.UserID)
	s.mu.Lock()
	set, ok := s.conns[c.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		s.conns[c.UserID] = set
	}
	first := len(set) == 0
	set[c] = struct{}{}
	s.mu.Unlock()

	monitoring.IMOnlineConnections.Inc()

	if first {
		h.setOnline(c.UserID)
		h.notifyStatus(c.UserID, "online")
	}
}

// Leave 把连接从其用户的集合中移除；从未注册过的连接是空操作。
// 移除的是该用户的最后一条连接时清除在线标记并广播下线状态。
func (h *PresenceHub) Leave(c *Client) {
	s := h.getShard(c.UserID)
	s.mu.Lock()
	set, ok := s.conns[c.UserID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if _, ok := set[c]; !ok {
		s.mu.Unlock()
		return
	}
	delete(set, c)
	close(c.Send)
	last := len(set) == 0
	if last {
		delete(s.conns, c.UserID)
	}
	s.mu.Unlock()

	monitoring.IMOnlineConnections.Dec()

	if last {
		h.setOffline(c.UserID)
		h.notifyStatus(c.UserID, "offline")
	}
}

type PubSubMessage struct {
	TargetUsers []uint          `json:"targetUsers"`
	Payload     json.RawMessage `json:"payload"`
}

// Run 订阅跨实例事件通道并定期为本地在线用户续期
func (h *PresenceHub) Run() {
	pubsub := h.Redis.Subscribe(h.ctx, eventChannel)
	go func() {
		ch := pubsub.Channel()
		for msg := range ch {
			var psMsg PubSubMessage
			if err := json.Unmarshal([]byte(msg.Payload), &psMsg); err != nil {
				logger.Log.Error("PubSub unmarshal error", zap.Error(err))
				continue
			}
			h.pushToLocalRawUsers(psMsg.TargetUsers, psMsg.Payload)
		}
	}()

	// 状态续期定时器 (Heartbeat)
	heartbeatTicker := time.NewTicker(1 * time.Minute)
	defer heartbeatTicker.Stop()

	for range heartbeatTicker.C {
		h.refreshOnlineStatus()
	}
}

// refreshOnlineStatus 刷新当前实例所有在线用户的过期时间
func (h *PresenceHub) refreshOnlineStatus() {
	pipe := h.Redis.Pipeline()
	count := 0
	for i := 0; i < shardCount; i++ {
		s := h.shards[i]
		s.mu.RLock()
		for userID := range s.conns {
			pipe.Expire(h.ctx, onlineKey(userID), onlineTTL)
			count++
		}
		s.mu.RUnlock()
	}
	if count > 0 {
		pipe.Exec(h.ctx)
		logger.Log.Debug("Refreshed online status", zap.Int("count", count))
	}
}

func (h *PresenceHub) setOnline(userID uint) {
	if h.Redis == nil {
		return
	}
	h.Redis.Set(h.ctx, onlineKey(userID), "true", onlineTTL)
}

func (h *PresenceHub) setOffline(userID uint) {
	if h.Redis == nil {
		return
	}
	h.Redis.Del(h.ctx, onlineKey(userID))
}

// notifyStatus 向该用户 accepted 状态的联系人广播上下线
func (h *PresenceHub) notifyStatus(userID uint, status string) {
	if h.ContactRepo == nil {
		return
	}
	ids, err := h.ContactRepo.GetAcceptedPeerIDsCached(userID)
	if err != nil || len(ids) == 0 {
		return
	}

	h.PushToUsers(ids, WSMessage{
		Type: EventUserStatus,
		Data: map[string]interface{}{
			"userId": userID,
			"status": status,
		},
	})
}

// Notify 把事件投递给目标用户当前注册的每一条连接；
// 没有连接时事件被丢弃，没有队列也没有重试。
func (h *PresenceHub) Notify(userID uint, msg WSMessage) {
	h.PushToUsers([]uint{userID}, msg)
}

func (h *PresenceHub) PushToUsers(userIDs []uint, msg WSMessage) {
	// 避免二次序列化
	msgBytes, _ := json.Marshal(msg)
	monitoring.IMMessageCounter.WithLabelValues(msg.Type, "out").Inc() // 记录下行消息

	if h.Redis == nil {
		h.pushToLocalRawUsers(userIDs, msgBytes)
		return
	}

	psMsg := PubSubMessage{
		TargetUsers: userIDs,
		Payload:     msgBytes,
	}
	payload, _ := json.Marshal(psMsg)
	h.Redis.Publish(h.ctx, eventChannel, payload)
}

func (h *PresenceHub) pushToLocalRawUsers(userIDs []uint, payload []byte) {
	for _, id := range userIDs {
		s := h.getShard(id)
		s.mu.RLock()
		for client := range s.conns[id] {
			select {
			case client.Send <- payload:
			default:
				// 慢连接直接丢，推送不阻塞
			}
		}
		s.mu.RUnlock()
	}
}

// IsUserOnline 本地分片或 Redis (多实例部署) 中是否有该用户的存活连接
func (h *PresenceHub) IsUserOnline(userID uint) bool {
	s := h.getShard(userID)
	s.mu.RLock()
	n := len(s.conns[userID])
	s.mu.RUnlock()
	if n > 0 {
		return true
	}

	if h.Redis == nil {
		return false
	}
	val, err := h.Redis.Get(h.ctx, onlineKey(userID)).Result()
	return err == nil && val == "true"
}

// LocalConnCount 该用户在本实例上的连接数
func (h *PresenceHub) LocalConnCount(userID uint) int {
	s := h.getShard(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns[userID])
}

// Stop 关闭所有连接并清理在线状态
func (h *PresenceHub) Stop() {
	logger.Log.Info("PresenceHub stopping: clearing online status and closing connections...")

	var allUserIDs []uint
	closed := 0
	for i := 0; i < shardCount; i++ {
		s := h.shards[i]
		s.mu.Lock()
		for userID, set := range s.conns {
			allUserIDs = append(allUserIDs, userID)
			for client := range set {
				close(client.Send)
				closed++
			}
			delete(s.conns, userID)
		}
		s.mu.Unlock()
	}

	if h.Redis != nil && len(allUserIDs) > 0 {
		pipe := h.Redis.Pipeline()
		for _, userID := range allUserIDs {
			pipe.Del(h.ctx, onlineKey(userID))
		}
		pipe.Exec(h.ctx)
	}

	monitoring.IMOnlineConnections.Set(0) // 停机时清空指标
	logger.Log.Info("PresenceHub stopped", zap.Int("closedConnections", closed))
}

func onlineKey(userID uint) string {
	return fmt.Sprintf("im:online:%d", userID)
}

func ServeWs(hub *PresenceHub, w http.ResponseWriter, r *http.Request, userID uint) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Error("WebSocket upgrade failed", zap.Error(err), zap.Uint("userId", userID))
		return
	}
	client := &Client{
		Hub:     hub,
		Conn:    conn,
		Send:    make(chan []byte, 256),
		UserID:  userID,
		ConnID:  uuid.New().String(),
		Limiter: rate.NewLimiter(rate.Limit(30), 50), // 每秒30条，允许突发50条
	}
	client.Hub.Join(client)

	go client.writePump()
	go client.readPump()
}
