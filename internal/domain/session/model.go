package session

import (
	"time"

	"github.com/Anvoria/tradeauth/internal/database"
)

// Session is one login from one device. Rows are created on login, rotated in
// place on refresh and only ever soft-deleted.
type Session struct {
	database.BaseModel

	UserID   string `gorm:"column:user_id;not null;index:idx_sessions_user_active,priority:1"`
	TenantID string `gorm:"column:tenant_id;not null"`

	Fingerprint    string `gorm:"column:fingerprint;not null;index"`
	DeviceClass    string `gorm:"column:device_class;type:text"`
	OSName         string `gorm:"column:os_name;type:text"`
	OSVersion      string `gorm:"column:os_version;type:text"`
	BrowserName    string `gorm:"column:browser_name;type:text"`
	BrowserVersion string `gorm:"column:browser_version;type:text"`
	DeviceLabel    string `gorm:"column:device_label;type:text"`
	// IPAddress is the last address seen on refresh; LoginIP never changes
	IPAddress string `gorm:"column:ip_address;type:text"`
	LoginIP   string `gorm:"column:login_ip;type:text"`

	AccessID         string    `gorm:"column:access_id;not null;index"`
	RefreshID        string    `gorm:"column:refresh_id;not null;uniqueIndex"`
	AccessExpiresAt  time.Time `gorm:"column:access_expires_at;not null"`
	RefreshExpiresAt time.Time `gorm:"column:refresh_expires_at;not null"`

	LastActiveAt     time.Time  `gorm:"column:last_active_at;not null"`
	IsActive         bool       `gorm:"column:is_active;not null;default:true;index:idx_sessions_user_active,priority:2"`
	IsSuspicious     bool       `gorm:"column:is_suspicious;not null;default:false"`
	SuspiciousReason string     `gorm:"column:suspicious_reason;type:text"`
	TotalLogins      int        `gorm:"column:total_logins;not null;default:1"`
	TrustScore       float64    `gorm:"column:trust_score;not null;default:0"`
	DeactivatedAt    *time.Time `gorm:"column:deactivated_at"`
}

func (Session) TableName() string {
	return "sessions"
}

// RefreshExpired reports whether the refresh window has closed at now
func (s *Session) RefreshExpired(now time.Time) bool {
	return !now.Before(s.RefreshExpiresAt)
}

// Rotation carries the new token ids written by Store.Rotate
type Rotation struct {
	AccessID         string
	RefreshID        string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	IP               string
	At               time.Time
}

// DeviceStats summarises one fingerprint's history for a user
type DeviceStats struct {
	FirstSeen time.Time
	Logins    int
}

// History is what the store knows about a user's past devices, active or not
type History struct {
	Fingerprints map[string]DeviceStats
	IPs          map[string]struct{}
}

// Empty reports whether the user has never had a session
func (h *History) Empty() bool {
	return len(h.Fingerprints) == 0
}

// KnownFingerprints returns the fingerprint set
func (h *History) KnownFingerprints() map[string]struct{} {
	set := make(map[string]struct{}, len(h.Fingerprints))
	for fp := range h.Fingerprints {
		set[fp] = struct{}{}
	}
	return set
}

func newHistory() *History {
	return &History{
		Fingerprints: make(map[string]DeviceStats),
		IPs:          make(map[string]struct{}),
	}
}

func (h *History) add(fingerprint string, createdAt time.Time, logins int, ips ...string) {
	stats, ok := h.Fingerprints[fingerprint]
	if !ok || createdAt.Before(stats.FirstSeen) {
		stats.FirstSeen = createdAt
	}
	stats.Logins += logins
	h.Fingerprints[fingerprint] = stats
	for _, ip := range ips {
		if ip != "" {
			h.IPs[ip] = struct{}{}
		}
	}
}
