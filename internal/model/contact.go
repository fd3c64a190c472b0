package model

import "time"

type ContactStatus string

const (
	ContactOutgoingRequest ContactStatus = "outgoing_request"
	ContactIncomingRequest ContactStatus = "incoming_request"
	ContactAccepted        ContactStatus = "accepted"
	ContactRejected        ContactStatus = "rejected"
	ContactBlocked         ContactStatus = "blocked"
)

// Contact 联系人关系表。关系的每一侧各持有一行（owner 视角），
// 两行状态相关但相互独立：一侧拉黑或删除不影响另一侧的行。
type Contact struct {
	ID        uint          `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerID   uint          `gorm:"uniqueIndex:idx_owner_peer;not null" json:"ownerId"`
	PeerID    uint          `gorm:"uniqueIndex:idx_owner_peer;not null" json:"peerId"`
	Peer      User          `gorm:"foreignKey:PeerID;references:ID;constraint:false" json:"peer,omitempty"`
	Status    ContactStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	// PriorStatus 记录拉黑前的状态，解除拉黑时恢复；不对外暴露
	PriorStatus ContactStatus `gorm:"type:varchar(20);default:''" json:"-"`
	CreatedAt   time.Time     `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time     `json:"-"`
}

func (Contact) TableName() string {
	return "contacts"
}

// IsPending 该行是否处于待处理的申请状态
func (c *Contact) IsPending() bool {
	return c.Status == ContactOutgoingRequest || c.Status == ContactIncomingRequest
}
