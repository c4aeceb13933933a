package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/entitlement_server/internal/model"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// WithTx 返回绑定到事务的仓储
func (r *UserRepository) WithTx(tx *gorm.DB) *UserRepository {
	return &UserRepository{db: tx}
}

func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateEntitlement 更新用户权益等级与到期时间
func (r *UserRepository) UpdateEntitlement(ctx context.Context, id int64, level string, expiresAt *time.Time) error {
	return r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Updates(map[string]interface{}{
		"entitlement_level":      level,
		"entitlement_expires_at": expiresAt,
	}).Error
}

// DowngradeLapsed 将用户权益降级为 free。
// 更新语句内重新校验订阅仍为 CANCELED 且周期已结束，避免覆盖并发的重新激活。
func (r *UserRepository) DowngradeLapsed(ctx context.Context, userID int64, now time.Time) (bool, error) {
	lapsed := r.db.Model(&model.Subscription{}).
		Select("user_id").
		Where("status = ?", model.StatusCanceled).
		Where("current_period_end <= ?", now)

	res := r.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", userID).
		Where("entitlement_level <> ?", model.EntitlementFree).
		Where("id IN (?)", lapsed).
		Updates(map[string]interface{}{
			"entitlement_level":      model.EntitlementFree,
			"entitlement_expires_at": nil,
		})
	return res.RowsAffected == 1, res.Error
}
