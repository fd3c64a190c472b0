package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"im_backend/internal/model"
	apperrors "im_backend/pkg/errors"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

type ContactRepository struct {
	DB    *gorm.DB
	Redis *redis.Client
	ctx   context.Context
}

func NewContactRepository(db *gorm.DB, rdb *redis.Client) *ContactRepository {
	return &ContactRepository{
		DB:    db,
		Redis: rdb,
		ctx:   context.Background(),
	}
}

// CreatePair 在同一事务内创建申请双方的两行记录：
// 发起方 outgoing_request，目标方 incoming_request。
func (r *ContactRepository) CreatePair(own, mirror *model.Contact) error {
	err := r.DB.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.Contact{}).
			Where("(owner_id = ? AND peer_id = ?) OR (owner_id = ? AND peer_id = ?)",
				own.OwnerID, own.PeerID, own.PeerID, own.OwnerID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return apperrors.ErrContactExists
		}
		if err := tx.Create(own).Error; err != nil {
			return err
		}
		return tx.Create(mirror).Error
	})

	if err == nil {
		r.invalidateRelationCache(own.OwnerID, mirror.OwnerID)
	}
	return err
}

func (r *ContactRepository) FindOwned(ownerID, contactID uint) (*model.Contact, error) {
	var row model.Contact
	err := r.DB.Preload("Peer").First(&row, "id = ? AND owner_id = ?", contactID, ownerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrContactNotFound
	}
	return &row, err
}

func (r *ContactRepository) FindRow(ownerID, peerID uint) (*model.Contact, error) {
	var row model.Contact
	err := r.DB.First(&row, "owner_id = ? AND peer_id = ?", ownerID, peerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrContactNotFound
	}
	return &row, err
}

func (r *ContactRepository) ListByOwner(ownerID uint) ([]model.Contact, error) {
	var rows []model.Contact
	err := r.DB.Preload("Peer").Where("owner_id = ?", ownerID).Find(&rows).Error
	return rows, err
}

func (r *ContactRepository) ListByOwnerStatus(ownerID uint, status model.ContactStatus) ([]model.Contact, error) {
	var rows []model.Contact
	err := r.DB.Preload("Peer").
		Where("owner_id = ? AND status = ?", ownerID, status).
		Find(&rows).Error
	return rows, err
}

// AcceptPair 将目标方的 incoming_request 行与发起方的镜像行在同一事务内
// 置为 accepted。镜像行已被对方删除时整体回滚并返回 NOT_FOUND
// （与并发删除竞争时后提交者胜出）。镜像行处于 blocked 时只改写其
// prior_status，拉黑状态由行的所有者单方面解除。
func (r *ContactRepository) AcceptPair(ownerID, contactID uint) (*model.Contact, error) {
	var own model.Contact
	err := r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&own, "id = ? AND owner_id = ?", contactID, ownerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrContactNotFound
			}
			return err
		}
		if own.Status != model.ContactIncomingRequest {
			return apperrors.ErrRequestNotPending
		}

		res := tx.Model(&model.Contact{}).
			Where("id = ? AND status = ?", own.ID, model.ContactIncomingRequest).
			Update("status", model.ContactAccepted)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperrors.ErrRequestNotPending
		}

		var mirror model.Contact
		if err := tx.First(&mirror, "owner_id = ? AND peer_id = ?", own.PeerID, ownerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrContactNotFound
			}
			return err
		}

		var mres *gorm.DB
		if mirror.Status == model.ContactBlocked {
			mres = tx.Model(&model.Contact{}).Where("id = ?", mirror.ID).
				Update("prior_status", model.ContactAccepted)
		} else {
			mres = tx.Model(&model.Contact{}).Where("id = ?", mirror.ID).
				Update("status", model.ContactAccepted)
		}
		if mres.Error != nil {
			return mres.Error
		}
		if mres.RowsAffected == 0 {
			return apperrors.ErrContactNotFound
		}

		own.Status = model.ContactAccepted
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.invalidateRelationCache(ownerID, own.PeerID)
	return &own, nil
}

// Reject 仅改写目标方自己的行；发起方的镜像行保持不变
func (r *ContactRepository) Reject(ownerID, contactID uint) (*model.Contact, error) {
	var own model.Contact
	err := r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&own, "id = ? AND owner_id = ?", contactID, ownerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrContactNotFound
			}
			return err
		}
		if own.Status != model.ContactIncomingRequest {
			return apperrors.ErrRequestNotPending
		}

		res := tx.Model(&model.Contact{}).
			Where("id = ? AND status = ?", own.ID, model.ContactIncomingRequest).
			Update("status", model.ContactRejected)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperrors.ErrRequestNotPending
		}

		own.Status = model.ContactRejected
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &own, nil
}

// SetBlocked 单方面拉黑/解除拉黑。拉黑时把当前状态存入 prior_status，
// 解除时恢复；目标状态与当前一致则为幂等空操作。
func (r *ContactRepository) SetBlocked(ownerID, peerID uint, blocked bool) (*model.Contact, error) {
	var row model.Contact
	err := r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&row, "owner_id = ? AND peer_id = ?", ownerID, peerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrContactNotFound
			}
			return err
		}

		if blocked == (row.Status == model.ContactBlocked) {
			return nil
		}

		updates := map[string]interface{}{}
		if blocked {
			updates["prior_status"] = row.Status
			updates["status"] = model.ContactBlocked
			row.PriorStatus = row.Status
			row.Status = model.ContactBlocked
		} else {
			restored := row.PriorStatus
			if restored == "" {
				restored = model.ContactAccepted
			}
			updates["status"] = restored
			updates["prior_status"] = ""
			row.Status = restored
			row.PriorStatus = ""
		}
		return tx.Model(&model.Contact{}).Where("id = ?", row.ID).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}

	r.invalidateRelationCache(ownerID)
	return &row, nil
}

// Delete 只移除调用方自己的行，对方的行不受影响
func (r *ContactRepository) Delete(ownerID, peerID uint) error {
	res := r.DB.Where("owner_id = ? AND peer_id = ?", ownerID, peerID).Delete(&model.Contact{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrContactNotFound
	}

	r.invalidateRelationCache(ownerID)
	return nil
}

// GetAcceptedPeerIDs 获取 accepted 状态的对端 ID 列表
func (r *ContactRepository) GetAcceptedPeerIDs(ownerID uint) ([]uint, error) {
	var ids []uint
	err := r.DB.Model(&model.Contact{}).
		Where("owner_id = ? AND status = ?", ownerID, model.ContactAccepted).
		Pluck("peer_id", &ids).Error
	return ids, err
}

// GetAcceptedPeerIDsCached 获取 accepted 对端 ID 列表 (带缓存)
func (r *ContactRepository) GetAcceptedPeerIDsCached(ownerID uint) ([]uint, error) {
	if r.Redis == nil {
		return r.GetAcceptedPeerIDs(ownerID)
	}

	key := relationCacheKey(ownerID)
	cached, err := r.Redis.SMembers(r.ctx, key).Result()
	if err == nil && len(cached) > 0 {
		var ids []uint
		for _, s := range cached {
			var id uint
			fmt.Sscanf(s, "%d", &id)
			if id > 0 {
				ids = append(ids, id)
			}
		}
		return ids, nil
	}

	// 缓存失效，回源数据库
	ids, err := r.GetAcceptedPeerIDs(ownerID)
	if err == nil && len(ids) > 0 {
		pipe := r.Redis.Pipeline()
		for _, id := range ids {
			pipe.SAdd(r.ctx, key, id)
		}
		pipe.Expire(r.ctx, key, 24*time.Hour)
		pipe.Exec(r.ctx)
	} else if err == nil {
		// 防止缓存穿透：存一个哨兵值并设置短过期时间
		r.Redis.SAdd(r.ctx, key, 0)
		r.Redis.Expire(r.ctx, key, 5*time.Minute)
	}
	return ids, err
}

// IsAccepted 发送方自己的行是否恰好为 accepted；授权检查只看这一行
func (r *ContactRepository) IsAccepted(ownerID, peerID uint) (bool, error) {
	if r.Redis != nil {
		ids, err := r.GetAcceptedPeerIDsCached(ownerID)
		if err == nil {
			for _, id := range ids {
				if id == peerID {
					return true, nil
				}
			}
			return false, nil
		}
	}

	var count int64
	err := r.DB.Model(&model.Contact{}).
		Where("owner_id = ? AND peer_id = ? AND status = ?", ownerID, peerID, model.ContactAccepted).
		Count(&count).Error
	return count > 0, err
}

func relationCacheKey(ownerID uint) string {
	return fmt.Sprintf("im:relation:accepted:%d", ownerID)
}

func (r *ContactRepository) invalidateRelationCache(ownerIDs ...uint) {
	if r.Redis == nil {
		return
	}
	for _, id := range ownerIDs {
		r.Redis.Del(r.ctx, relationCacheKey(id))
	}
}
