package repository

import (
	"im_backend/internal/model"

	"gorm.io/gorm"
)

type MessageRepository struct {
	DB *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{DB: db}
}

// Create 追加一条消息。存储层不做任何授权判断，调用方负责把关。
func (r *MessageRepository) Create(msg *model.Message) error {
	return r.DB.Create(msg).Error
}

// GetConversation 返回两个用户之间双向的全部消息，
// 按 (created_at, id) 升序；id 在时间戳相同时作次级排序键。
func (r *MessageRepository) GetConversation(uidA, uidB uint, limit, offset int) ([]model.Message, error) {
	var msgs []model.Message
	q := r.DB.
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			uidA, uidB, uidB, uidA).
		Order("created_at ASC").
		Order("id ASC")

	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}

	err := q.Find(&msgs).Error
	return msgs, err
}

// CountConversation 会话消息总数，用于分页
func (r *MessageRepository) CountConversation(uidA, uidB uint) (int64, error) {
	var total int64
	err := r.DB.Model(&model.Message{}).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			uidA, uidB, uidB, uidA).
		Count(&total).Error
	return total, err
}
