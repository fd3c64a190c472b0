package service

import (
	"encoding/json"
	"errors"
	"testing"

	"im_backend/internal/model"
	apperrors "im_backend/pkg/errors"
)

func messageCount(t *testing.T, env *serviceEnv) int64 {
	t.Helper()
	var count int64
	if err := env.db.Model(&model.Message{}).Count(&count).Error; err != nil {
		t.Fatalf("count messages: %v", err)
	}
	return count
}

func TestSendValidation(t *testing.T) {
	env := newServiceEnv(t, 2)
	u1, u2 := env.users[0].ID, env.users[1].ID
	env.befriend(t, u1, u2)

	if _, err := env.delivery.Send(u1, u2, "", "", ""); !errors.Is(err, apperrors.ErrEmptyContent) {
		t.Fatalf("empty content err = %v, want ErrEmptyContent", err)
	}
	if _, err := env.delivery.Send(u1, u1, "hi", "", ""); !errors.Is(err, apperrors.ErrSelfMessage) {
		t.Fatalf("self message err = %v, want ErrSelfMessage", err)
	}
	if _, err := env.delivery.Send(u1, 9999, "hi", "", ""); !errors.Is(err, apperrors.ErrUserNotFound) {
		t.Fatalf("unknown receiver err = %v, want ErrUserNotFound", err)
	}
	if n := messageCount(t, env); n != 0 {
		t.Fatalf("rejected sends persisted %d messages", n)
	}
}

func TestSendRequiresAcceptedContact(t *testing.T) {
	env := newServiceEnv(t, 2)
	u1, u2 := env.users[0].ID, env.users[1].ID

	// 没有任何关系
	if _, err := env.delivery.Send(u1, u2, "hi", "", ""); !errors.Is(err, apperrors.ErrNotContact) {
		t.Fatalf("stranger err = %v, want ErrNotContact", err)
	}

	// 申请待处理中也不行
	if _, _, err := env.contacts.AddContactRequest(u1, u2); err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := env.delivery.Send(u1, u2, "hi", "", ""); !errors.Is(err, apperrors.ErrNotContact) {
		t.Fatalf("pending err = %v, want ErrNotContact", err)
	}

	// 被拒绝的发送不能留下任何痕迹
	if n := messageCount(t, env); n != 0 {
		t.Fatalf("forbidden sends persisted %d messages", n)
	}
}

func TestSendPersistsAndReturnsMessage(t *testing.T) {
	env := newServiceEnv(t, 2)
	u1, u2 := env.users[0].ID, env.users[1].ID
	env.befriend(t, u1, u2)

	msg, err := env.delivery.Send(u1, u2, "ciphertext", "nonce1", "client-1")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.ID == 0 {
		t.Fatal("persisted message must carry its assigned id")
	}
	if msg.SenderID != u1 || msg.ReceiverID != u2 {
		t.Fatalf("message endpoints = %d->%d", msg.SenderID, msg.ReceiverID)
	}
	if msg.Nonce != "nonce1" || msg.ClientMsgID != "client-1" {
		t.Fatalf("metadata lost: nonce=%q clientMsgId=%q", msg.Nonce, msg.ClientMsgID)
	}
	if n := messageCount(t, env); n != 1 {
		t.Fatalf("messages = %d, want 1", n)
	}
}

func TestSendPushesToReceiverAndEchoesToSender(t *testing.T) {
	env := newServiceEnv(t, 2)
	u1, u2 := env.users[0].ID, env.users[1].ID
	env.befriend(t, u1, u2)

	receiverConn := env.connect(u2)
	senderOtherDevice := env.connect(u1)
	defer env.hub.Leave(receiverConn)
	defer env.hub.Leave(senderOtherDevice)

	if _, err := env.delivery.Send(u1, u2, "hello", "", ""); err != nil {
		t.Fatalf("send: %v", err)
	}

	// 上线时可能先收到 USER_STATUS 广播，扫描队列找消息事件
	for name, conn := range map[string]*Client{"receiver": receiverConn, "sender echo": senderOtherDevice} {
		found := false
		for !found {
			select {
			case payload := <-conn.Send:
				var ws WSMessage
				if err := json.Unmarshal(payload, &ws); err != nil {
					t.Fatalf("%s payload: %v", name, err)
				}
				if ws.Type == EventNewMessage {
					found = true
				}
			default:
				t.Fatalf("%s got no %s push", name, EventNewMessage)
			}
		}
	}
}

func TestSendSucceedsWithoutHub(t *testing.T) {
	env := newServiceEnv(t, 2)
	u1, u2 := env.users[0].ID, env.users[1].ID
	env.befriend(t, u1, u2)

	// 推送层整体缺席也不影响发送结果
	env.delivery.Hub = nil
	if _, err := env.delivery.Send(u1, u2, "hello", "", ""); err != nil {
		t.Fatalf("send without hub: %v", err)
	}
	if n := messageCount(t, env); n != 1 {
		t.Fatalf("messages = %d, want 1", n)
	}
}

func TestBlockSendUnblockSend(t *testing.T) {
	env := newServiceEnv(t, 2)
	u1, u2 := env.users[0].ID, env.users[1].ID
	env.befriend(t, u1, u2)

	if _, err := env.contacts.SetBlocked(u2, u1, true); err != nil {
		t.Fatalf("block: %v", err)
	}

	// 拉黑方发不出去，且什么都没落库
	if _, err := env.delivery.Send(u2, u1, "hi", "", ""); !errors.Is(err, apperrors.ErrNotContact) {
		t.Fatalf("blocker send err = %v, want ErrNotContact", err)
	}
	if n := messageCount(t, env); n != 0 {
		t.Fatalf("blocked send persisted %d messages", n)
	}

	// 被拉黑方照常发送成功
	if _, err := env.delivery.Send(u1, u2, "still here", "", ""); err != nil {
		t.Fatalf("blocked peer send: %v", err)
	}

	// 解除拉黑后恢复 accepted，又能发了
	if _, err := env.contacts.SetBlocked(u2, u1, false); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	if _, err := env.delivery.Send(u2, u1, "back", "", ""); err != nil {
		t.Fatalf("send after unblock: %v", err)
	}
	if n := messageCount(t, env); n != 2 {
		t.Fatalf("messages = %d, want 2", n)
	}
}

func TestGetConversation(t *testing.T) {
	env := newServiceEnv(t, 3)
	u1, u2, u3 := env.users[0].ID, env.users[1].ID, env.users[2].ID
	env.befriend(t, u1, u2)
	env.befriend(t, u1, u3)

	contents := []string{"one", "two", "three"}
	for i, c := range contents {
		from, to := u1, u2
		if i%2 == 1 {
			from, to = u2, u1
		}
		if _, err := env.delivery.Send(from, to, c, "", ""); err != nil {
			t.Fatalf("send %q: %v", c, err)
		}
	}
	if _, err := env.delivery.Send(u1, u3, "other thread", "", ""); err != nil {
		t.Fatalf("send to third user: %v", err)
	}

	msgs, total, err := env.delivery.GetConversation(u1, u2, 50, 0)
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	if total != int64(len(contents)) {
		t.Fatalf("total = %d, want %d", total, len(contents))
	}
	for i, m := range msgs {
		if m.Content != contents[i] {
			t.Fatalf("msgs[%d] = %q, want %q", i, m.Content, contents[i])
		}
	}
}

func TestFullLifecycleScenario(t *testing.T) {
	env := newServiceEnv(t, 2)
	u1, u2 := env.users[0].ID, env.users[1].ID

	// 陌生人阶段发消息被拒
	if _, err := env.delivery.Send(u1, u2, "hi", "", ""); !errors.Is(err, apperrors.ErrNotContact) {
		t.Fatalf("stranger send err = %v", err)
	}

	// 申请 -> 接受
	_, mirror, err := env.contacts.AddContactRequest(u1, u2)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := env.contacts.AcceptRequest(u2, mirror.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// 双向互发
	if _, err := env.delivery.Send(u1, u2, "hello", "", ""); err != nil {
		t.Fatalf("u1 send: %v", err)
	}
	if _, err := env.delivery.Send(u2, u1, "hey", "", ""); err != nil {
		t.Fatalf("u2 send: %v", err)
	}

	msgs, total, err := env.delivery.GetConversation(u2, u1, 50, 0)
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	if total != 2 || len(msgs) != 2 {
		t.Fatalf("conversation = %d/%d, want 2/2", len(msgs), total)
	}
	if msgs[0].Content != "hello" || msgs[1].Content != "hey" {
		t.Fatalf("order = %q,%q", msgs[0].Content, msgs[1].Content)
	}
}
