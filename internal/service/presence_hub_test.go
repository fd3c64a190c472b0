package service

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newLocalHub() *PresenceHub {
	return NewPresenceHub(nil, nil)
}

func newHubClient(h *PresenceHub, userID uint, buffer int) *Client {
	return &Client{
		Hub:    h,
		Send:   make(chan []byte, buffer),
		UserID: userID,
		ConnID: fmt.Sprintf("conn-%d-%d", userID, h.LocalConnCount(userID)),
	}
}

func TestJoinLeaveMultiDevice(t *testing.T) {
	h := newLocalHub()

	c1 := newHubClient(h, 1, 8)
	c2 := newHubClient(h, 1, 8)
	h.Join(c1)
	h.Join(c2)

	if n := h.LocalConnCount(1); n != 2 {
		t.Fatalf("conn count = %d, want 2", n)
	}
	if !h.IsUserOnline(1) {
		t.Fatal("user with live connections must be online")
	}

	h.Notify(1, WSMessage{Type: EventNewMessage, Data: "x"})
	for i, c := range []*Client{c1, c2} {
		select {
		case <-c.Send:
		default:
			t.Fatalf("device %d got no push", i)
		}
	}

	// 断开一条连接后仍在线
	h.Leave(c1)
	if n := h.LocalConnCount(1); n != 1 {
		t.Fatalf("conn count after leave = %d, want 1", n)
	}
	if !h.IsUserOnline(1) {
		t.Fatal("user must stay online while another device is connected")
	}

	// 最后一条断开才下线
	h.Leave(c2)
	if h.IsUserOnline(1) {
		t.Fatal("user must be offline after last connection leaves")
	}
}

func TestLeaveUnregisteredIsNoop(t *testing.T) {
	h := newLocalHub()
	c := newHubClient(h, 1, 1)

	// 从未注册过的连接：不 panic，也不动 Send 通道
	h.Leave(c)
	select {
	case c.Send <- []byte("still open"):
	default:
		t.Fatal("send channel must stay usable")
	}

	// 同一连接重复 Leave 也是空操作
	h.Join(c)
	h.Leave(c)
	h.Leave(c)
}

func TestNotifyWithoutConnectionsIsDropped(t *testing.T) {
	h := newLocalHub()
	// 没有任何连接时推送直接丢弃，不排队不报错
	h.Notify(42, WSMessage{Type: EventNewMessage, Data: "dropped"})

	c := newHubClient(h, 42, 8)
	h.Join(c)
	defer h.Leave(c)

	select {
	case <-c.Send:
		t.Fatal("events sent before joining must not be replayed")
	default:
	}
}

func TestNotifySkipsSlowConnection(t *testing.T) {
	h := newLocalHub()
	slow := newHubClient(h, 1, 1)
	fast := newHubClient(h, 1, 8)
	h.Join(slow)
	h.Join(fast)
	defer h.Leave(slow)
	defer h.Leave(fast)

	// 堵死慢连接的队列
	slow.Send <- []byte("stuck")

	// 不能因为一条慢连接阻塞整个推送
	h.Notify(1, WSMessage{Type: EventNewMessage, Data: "a"})
	h.Notify(1, WSMessage{Type: EventNewMessage, Data: "b"})

	if n := len(fast.Send); n != 2 {
		t.Fatalf("fast connection got %d events, want 2", n)
	}
	if n := len(slow.Send); n != 1 {
		t.Fatalf("slow connection queue = %d, want 1 (new events dropped)", n)
	}
}

func TestPushPayloadShape(t *testing.T) {
	h := newLocalHub()
	c := newHubClient(h, 1, 8)
	h.Join(c)
	defer h.Leave(c)

	h.Notify(1, WSMessage{Type: EventContactRequest, Data: map[string]interface{}{"ownerId": 2}})

	select {
	case payload := <-c.Send:
		var ws WSMessage
		if err := json.Unmarshal(payload, &ws); err != nil {
			t.Fatalf("payload: %v", err)
		}
		if ws.Type != EventContactRequest {
			t.Fatalf("type = %s, want %s", ws.Type, EventContactRequest)
		}
	default:
		t.Fatal("no push received")
	}
}

func TestOnlineKeyLifecycleWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	h := NewPresenceHub(rdb, nil)

	c1 := newHubClient(h, 7, 8)
	c2 := newHubClient(h, 7, 8)
	h.Join(c1)
	h.Join(c2)

	if !mr.Exists("im:online:7") {
		t.Fatal("online key missing after join")
	}

	h.Leave(c1)
	if !mr.Exists("im:online:7") {
		t.Fatal("online key must survive while a device remains")
	}

	h.Leave(c2)
	if mr.Exists("im:online:7") {
		t.Fatal("online key must be cleared after last leave")
	}
}

func TestStopClosesEverything(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	h := NewPresenceHub(rdb, nil)

	clients := []*Client{
		newHubClient(h, 1, 8),
		newHubClient(h, 1, 8),
		newHubClient(h, 2, 8),
	}
	for _, c := range clients {
		h.Join(c)
	}

	h.Stop()

	for i, c := range clients {
		if _, open := <-c.Send; open {
			t.Fatalf("client %d send channel still open after stop", i)
		}
	}
	if h.LocalConnCount(1) != 0 || h.LocalConnCount(2) != 0 {
		t.Fatal("connection registry not emptied")
	}
	if mr.Exists("im:online:1") || mr.Exists("im:online:2") {
		t.Fatal("online keys not cleared on stop")
	}
}
