package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

// NewRepository returns the PostgreSQL-backed Store
func NewRepository(db *gorm.DB) Store {
	return &repository{db}
}

func (r *repository) Create(ctx context.Context, sess *Session) error {
	if sess.LoginIP == "" {
		sess.LoginIP = sess.IPAddress
	}
	err := r.db.WithContext(ctx).Create(sess).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateRefreshID
	}
	return err
}

func (r *repository) first(ctx context.Context, query string, args ...any) (*Session, error) {
	var sess Session
	err := r.db.WithContext(ctx).Where(query, args...).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// FindByID returns the session whether or not it is still active
func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *repository) FindByRefreshID(ctx context.Context, refreshID string) (*Session, error) {
	return r.first(ctx, "refresh_id = ? AND is_active = ?", refreshID, true)
}

func (r *repository) FindByAccessID(ctx context.Context, accessID string) (*Session, error) {
	return r.first(ctx, "access_id = ? AND is_active = ?", accessID, true)
}

func (r *repository) Rotate(ctx context.Context, sess *Session, rot Rotation, expectedRefreshID string) error {
	updates := map[string]any{
		"access_id":          rot.AccessID,
		"refresh_id":         rot.RefreshID,
		"access_expires_at":  rot.AccessExpiresAt,
		"refresh_expires_at": rot.RefreshExpiresAt,
		"last_active_at":     rot.At,
		"updated_at":         rot.At,
		"total_logins":       gorm.Expr("total_logins + 1"),
	}
	if rot.IP != "" {
		updates["ip_address"] = rot.IP
	}

	res := r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND refresh_id = ? AND is_active = ?", sess.ID, expectedRefreshID, true).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return ErrStaleRefresh
	}

	applyRotation(sess, rot)
	return nil
}

func (r *repository) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND is_active = ?", id, true).
		Update("last_active_at", at).Error
}

func (r *repository) Deactivate(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND is_active = ?", id, true).
		Updates(map[string]any{"is_active": false, "deactivated_at": at, "updated_at": at}).Error
}

func (r *repository) DeactivateAll(ctx context.Context, userID string, except *uuid.UUID, at time.Time) (int64, error) {
	q := r.db.WithContext(ctx).Model(&Session{}).Where("user_id = ? AND is_active = ?", userID, true)
	if except != nil {
		q = q.Where("id <> ?", *except)
	}
	res := q.Updates(map[string]any{"is_active": false, "deactivated_at": at, "updated_at": at})
	return res.RowsAffected, res.Error
}

func (r *repository) ListActive(ctx context.Context, userID string) ([]Session, error) {
	var sessions []Session
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("last_active_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *repository) History(ctx context.Context, userID string) (*History, error) {
	var rows []struct {
		Fingerprint string
		IPAddress   string
		LoginIP     string
		CreatedAt   time.Time
		TotalLogins int
	}
	err := r.db.WithContext(ctx).Model(&Session{}).
		Select("fingerprint, ip_address, login_ip, created_at, total_logins").
		Where("user_id = ?", userID).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	h := newHistory()
	for _, row := range rows {
		h.add(row.Fingerprint, row.CreatedAt, row.TotalLogins, row.LoginIP, row.IPAddress)
	}
	return h, nil
}
