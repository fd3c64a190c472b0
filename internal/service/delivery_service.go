package service

import (
	"im_backend/internal/model"
	"im_backend/internal/repository"
	apperrors "im_backend/pkg/errors"
	"im_backend/pkg/logger"

	"go.uber.org/zap"
)

// DeliveryService 消息发送管线：授权 -> 落库 -> 推送。
// 落库成功即视为发送成功；推送只是实时性优化，失败不回传给发送方。
type DeliveryService struct {
	Contacts    *ContactService
	MessageRepo *repository.MessageRepository
	UserRepo    *repository.UserRepository
	Hub         *PresenceHub // 可为 nil，跳过推送
}

func NewDeliveryService(contacts *ContactService, messageRepo *repository.MessageRepository, userRepo *repository.UserRepository, hub *PresenceHub) *DeliveryService {
	return &DeliveryService{
		Contacts:    contacts,
		MessageRepo: messageRepo,
		UserRepo:    userRepo,
		Hub:         hub,
	}
}

func (s *DeliveryService) Send(senderID, receiverID uint, content, nonce, clientMsgID string) (*model.Message, error) {
	if content == "" {
		return nil, apperrors.ErrEmptyContent
	}
	if senderID == receiverID {
		return nil, apperrors.ErrSelfMessage
	}

	exists, err := s.UserRepo.Exists(receiverID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperrors.ErrUserNotFound
	}

	// 1. 授权检查：拒绝时不落库也不推送
	allowed, err := s.Contacts.CanSendMessage(senderID, receiverID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, apperrors.ErrNotContact
	}

	// 2. 持久化。这一步必须先于推送完成：消息历史才是事实来源，
	// 落库之后崩溃只是少推一次，拉取仍能拿到消息。
	msg := &model.Message{
		SenderID:    senderID,
		ReceiverID:  receiverID,
		Content:     content,
		Nonce:       nonce,
		ClientMsgID: clientMsgID,
	}
	if err := s.MessageRepo.Create(msg); err != nil {
		return nil, apperrors.ErrStoreMessageFailed(err)
	}

	// 3. 尽力推送，失败只记日志，不影响发送方得到的结果
	s.notify(msg)

	return msg, nil
}

func (s *DeliveryService) notify(msg *model.Message) {
	if s.Hub == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("notify panic", zap.Any("recover", r), zap.Uint("mid", msg.ID))
		}
	}()

	event := WSMessage{Type: EventNewMessage, Data: msg}
	s.Hub.Notify(msg.ReceiverID, event)
	// 发送方的其他在线设备也回显一份，多端状态收敛
	s.Hub.Notify(msg.SenderID, event)
}

// GetConversation 拉取两人之间双向的历史消息
func (s *DeliveryService) GetConversation(userID, peerID uint, limit, offset int) ([]model.Message, int64, error) {
	total, err := s.MessageRepo.CountConversation(userID, peerID)
	if err != nil {
		return nil, 0, err
	}
	msgs, err := s.MessageRepo.GetConversation(userID, peerID, limit, offset)
	return msgs, total, err
}
