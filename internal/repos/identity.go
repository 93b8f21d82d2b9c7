package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/patternos/patternos-backend/internal/logger"
	"github.com/patternos/patternos-backend/internal/types"
)

type IdentityRepo interface {
	GetActiveBinding(ctx context.Context, tx *gorm.DB, platformID, platformCustomerID string) (*types.IdentityBinding, error)
	CreateBinding(ctx context.Context, tx *gorm.DB, binding *types.IdentityBinding) error
	TouchBinding(ctx context.Context, tx *gorm.DB, id uuid.UUID, lastSeen time.Time) error
	RetireBinding(ctx context.Context, tx *gorm.DB, id, supersededBy uuid.UUID, note string) error
	ListBindingsByCustomer(ctx context.Context, tx *gorm.DB, customerID uuid.UUID) ([]*types.IdentityBinding, error)
	CreateTrait(ctx context.Context, tx *gorm.DB, trait *types.IdentityTrait) error
	FindCustomersByTrait(ctx context.Context, tx *gorm.DB, trait, value string) ([]uuid.UUID, error)
}

type identityRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewIdentityRepo(db *gorm.DB, baseLog *logger.Logger) IdentityRepo {
	repoLog := baseLog.With("repo", "IdentityRepo")
	return &identityRepo{db: db, log: repoLog}
}

func (r *identityRepo) GetActiveBinding(ctx context.Context, tx *gorm.DB, platformID, platformCustomerID string) (*types.IdentityBinding, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var result types.IdentityBinding
	err := transaction.WithContext(ctx).
		Where("platform_id = ? AND platform_customer_id = ? AND active = ?", platformID, platformCustomerID, true).
		First(&result).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *identityRepo) CreateBinding(ctx context.Context, tx *gorm.DB, binding *types.IdentityBinding) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Create(binding).Error
}

func (r *identityRepo) TouchBinding(ctx context.Context, tx *gorm.DB, id uuid.UUID, lastSeen time.Time) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.IdentityBinding{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"last_seen": lastSeen, "updated_at": lastSeen}).Error
}

func (r *identityRepo) RetireBinding(ctx context.Context, tx *gorm.DB, id, supersededBy uuid.UUID, note string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.IdentityBinding{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"active":        false,
			"superseded_by": supersededBy,
			"audit_note":    note,
			"updated_at":    time.Now().UTC(),
		}).Error
}

func (r *identityRepo) ListBindingsByCustomer(ctx context.Context, tx *gorm.DB, customerID uuid.UUID) ([]*types.IdentityBinding, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.IdentityBinding
	if customerID == uuid.Nil {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("global_customer_id = ?", customerID).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *identityRepo) CreateTrait(ctx context.Context, tx *gorm.DB, trait *types.IdentityTrait) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Create(trait).Error
}

func (r *identityRepo) FindCustomersByTrait(ctx context.Context, tx *gorm.DB, trait, value string) ([]uuid.UUID, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var ids []uuid.UUID
	if value == "" {
		return ids, nil
	}
	if err := transaction.WithContext(ctx).
		Model(&types.IdentityTrait{}).
		Where("trait = ? AND value = ?", trait, value).
		Distinct().
		Pluck("global_customer_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
