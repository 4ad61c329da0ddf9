package user

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Repository interface for user operations
type Repository interface {
	Create(ctx context.Context, u *User) error
	FindByIdentifier(ctx context.Context, tenantID, identifier string) (*User, error)
	SetActive(ctx context.Context, tenantID, identifier string, active bool) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new user repository
func NewRepository(db *gorm.DB) Repository {
	return &repository{db}
}

func (r *repository) Create(ctx context.Context, u *User) error {
	err := r.db.WithContext(ctx).Create(u).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrIdentifierExists
	}
	return err
}

func (r *repository) FindByIdentifier(ctx context.Context, tenantID, identifier string) (*User, error) {
	var u User
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND identifier = ?", tenantID, identifier).
		First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *repository) SetActive(ctx context.Context, tenantID, identifier string, active bool) error {
	res := r.db.WithContext(ctx).Model(&User{}).
		Where("tenant_id = ? AND identifier = ?", tenantID, identifier).
		Update("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
