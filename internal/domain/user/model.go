package user

import "github.com/Anvoria/tradeauth/internal/database"

// User is a login identity inside one tenant. Only what the credential check
// needs is stored here.
type User struct {
	database.BaseModel
	TenantID   string `gorm:"column:tenant_id;not null;uniqueIndex:idx_users_tenant_identifier,priority:1"`
	Identifier string `gorm:"column:identifier;not null;uniqueIndex:idx_users_tenant_identifier,priority:2"`
	SecretHash string `gorm:"column:secret_hash;not null"`
	IsActive   bool   `gorm:"column:is_active;not null;default:true"`
	// Verified is set once the user completed a second factor enrollment
	Verified bool `gorm:"column:verified;not null;default:false"`
}

func (User) TableName() string {
	return "users"
}
