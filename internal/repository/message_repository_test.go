package repository

import (
	"testing"
	"time"

	"im_backend/internal/model"
)

func TestMessageConversationFilter(t *testing.T) {
	db := newTestDB(t)
	repo := NewMessageRepository(db)
	users := seedUsers(t, db, 3)
	a, b, c := users[0].ID, users[1].ID, users[2].ID

	seed := []model.Message{
		{SenderID: a, ReceiverID: b, Content: "a->b"},
		{SenderID: b, ReceiverID: a, Content: "b->a"},
		{SenderID: a, ReceiverID: c, Content: "a->c"},
		{SenderID: c, ReceiverID: b, Content: "c->b"},
	}
	for i := range seed {
		if err := repo.Create(&seed[i]); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	msgs, err := repo.GetConversation(a, b, 0, 0)
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	// 只有 a<->b 双向的两条，第三方消息一律不出现
	if len(msgs) != 2 {
		t.Fatalf("conversation size = %d, want 2", len(msgs))
	}
	for _, m := range msgs {
		if (m.SenderID != a || m.ReceiverID != b) && (m.SenderID != b || m.ReceiverID != a) {
			t.Fatalf("leaked message %d: %d -> %d", m.ID, m.SenderID, m.ReceiverID)
		}
	}

	total, err := repo.CountConversation(a, b)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 2 {
		t.Fatalf("total = %d, want 2", total)
	}
}

func TestMessageConversationOrdering(t *testing.T) {
	db := newTestDB(t)
	repo := NewMessageRepository(db)
	users := seedUsers(t, db, 2)
	a, b := users[0].ID, users[1].ID

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seed := []model.Message{
		{SenderID: a, ReceiverID: b, Content: "second", CreatedAt: base.Add(time.Second)},
		{SenderID: b, ReceiverID: a, Content: "first", CreatedAt: base},
		// 与 "second" 同一时间戳，用自增 ID 做次级排序键
		{SenderID: b, ReceiverID: a, Content: "third", CreatedAt: base.Add(time.Second)},
	}
	for i := range seed {
		if err := repo.Create(&seed[i]); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	msgs, err := repo.GetConversation(a, b, 0, 0)
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	want := []string{"first", "second", "third"}
	if len(msgs) != len(want) {
		t.Fatalf("size = %d, want %d", len(msgs), len(want))
	}
	for i, m := range msgs {
		if m.Content != want[i] {
			t.Fatalf("msgs[%d] = %q, want %q", i, m.Content, want[i])
		}
	}
}

func TestMessageConversationPaging(t *testing.T) {
	db := newTestDB(t)
	repo := NewMessageRepository(db)
	users := seedUsers(t, db, 2)
	a, b := users[0].ID, users[1].ID

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		m := model.Message{
			SenderID:   a,
			ReceiverID: b,
			Content:    string(rune('0' + i)),
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}
		if err := repo.Create(&m); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	page, err := repo.GetConversation(a, b, 2, 2)
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("page size = %d, want 2", len(page))
	}
	if page[0].Content != "2" || page[1].Content != "3" {
		t.Fatalf("page = %q,%q, want 2,3", page[0].Content, page[1].Content)
	}
}
