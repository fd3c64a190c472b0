package service

import (
	"im_backend/internal/model"
	"im_backend/internal/repository"
	apperrors "im_backend/pkg/errors"
)

// ContactService 负责联系人关系的状态机，以及消息发送前的授权检查。
type ContactService struct {
	ContactRepo *repository.ContactRepository
	UserRepo    *repository.UserRepository
	Hub         *PresenceHub // 可为 nil，推送是尽力而为
}

func NewContactService(contactRepo *repository.ContactRepository, userRepo *repository.UserRepository, hub *PresenceHub) *ContactService {
	return &ContactService{
		ContactRepo: contactRepo,
		UserRepo:    userRepo,
		Hub:         hub,
	}
}

func (s *ContactService) SearchUserByEmail(email string) (*model.User, error) {
	user, err := s.UserRepo.FindByEmail(email)
	if err != nil {
		return nil, apperrors.ErrUserNotFound
	}
	user.Password = ""
	return user, nil
}

func (s *ContactService) FuzzySearchUsers(query string) ([]model.User, error) {
	var users []model.User
	searchTerm := "%" + query + "%"
	err := s.UserRepo.DB.Select("id, name, email, avatar").
		Where("disabled = ?", false).
		Where("name LIKE ? OR email LIKE ?", searchTerm, searchTerm).
		Limit(20).
		Find(&users).Error
	return users, err
}

// AddContactRequest 发起联系人申请，原子地创建两行：
// 发起方 outgoing_request、目标方 incoming_request。
func (s *ContactService) AddContactRequest(ownerID, peerID uint) (*model.Contact, *model.Contact, error) {
	if ownerID == peerID {
		return nil, nil, apperrors.ErrSelfContact
	}

	exists, err := s.UserRepo.Exists(peerID)
	if err != nil {
		return nil, nil, err
	}
	if !exists {
		return nil, nil, apperrors.ErrUserNotFound
	}

	own := &model.Contact{
		OwnerID: ownerID,
		PeerID:  peerID,
		Status:  model.ContactOutgoingRequest,
	}
	mirror := &model.Contact{
		OwnerID: peerID,
		PeerID:  ownerID,
		Status:  model.ContactIncomingRequest,
	}

	if err := s.ContactRepo.CreatePair(own, mirror); err != nil {
		return nil, nil, err
	}

	if s.Hub != nil {
		s.Hub.Notify(peerID, WSMessage{Type: EventContactRequest, Data: mirror})
	}
	return own, mirror, nil
}

func (s *ContactService) ListContacts(userID uint) ([]model.Contact, error) {
	return s.ContactRepo.ListByOwner(userID)
}

func (s *ContactService) ListIncomingRequests(userID uint) ([]model.Contact, error) {
	return s.ContactRepo.ListByOwnerStatus(userID, model.ContactIncomingRequest)
}

func (s *ContactService) ListOutgoingRequests(userID uint) ([]model.Contact, error) {
	return s.ContactRepo.ListByOwnerStatus(userID, model.ContactOutgoingRequest)
}

// AcceptRequest 只有申请目标方可以接受；两侧的行在同一事务内翻到 accepted
func (s *ContactService) AcceptRequest(userID, contactID uint) (*model.Contact, error) {
	row, err := s.ContactRepo.AcceptPair(userID, contactID)
	if err != nil {
		return nil, err
	}

	// 带上对端信息返回，推送给申请方的载荷也用同一份
	if full, ferr := s.ContactRepo.FindOwned(userID, row.ID); ferr == nil {
		row = full
	}

	if s.Hub != nil {
		s.Hub.Notify(row.PeerID, WSMessage{Type: EventContactAccepted, Data: row})
	}
	return row, nil
}

// RejectRequest 只改写目标方自己的行；发起方的镜像行保持 outgoing_request
func (s *ContactService) RejectRequest(userID, contactID uint) (*model.Contact, error) {
	return s.ContactRepo.Reject(userID, contactID)
}

func (s *ContactService) SetBlocked(userID, peerID uint, blocked bool) (*model.Contact, error) {
	return s.ContactRepo.SetBlocked(userID, peerID, blocked)
}

func (s *ContactService) DeleteContact(userID, peerID uint) error {
	return s.ContactRepo.Delete(userID, peerID)
}

// CanSendMessage 每次消息写入前的唯一授权检查点：
// 发送方自己持有的、指向接收方的行状态恰好为 accepted 时放行。
// 不看接收方的行——对方已单方面拉黑时发送方仍可能持有 accepted，
// 这是按行独立演化模型的既定行为。
func (s *ContactService) CanSendMessage(senderID, receiverID uint) (bool, error) {
	return s.ContactRepo.IsAccepted(senderID, receiverID)
}
