package model

import "time"

// Message 消息记录。只追加，不修改不删除；自增 ID 单调递增，
// 时间戳相同时作为排序的次级键。
type Message struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SenderID   uint      `gorm:"index:idx_sender_receiver;not null" json:"senderId"`
	ReceiverID uint      `gorm:"index:idx_sender_receiver;index;not null" json:"receiverId"`
	// Content 为客户端加密后的不透明载荷，服务端不感知其语义
	Content     string    `gorm:"type:text;not null" json:"content"`
	Nonce       string    `gorm:"size:64" json:"nonce,omitempty"`
	ClientMsgID string    `gorm:"size:50;index" json:"clientMsgId,omitempty"` // 用于识别重复消息
	CreatedAt   time.Time `gorm:"index;autoCreateTime" json:"createdAt"`
}

func (Message) TableName() string {
	return "messages"
}
