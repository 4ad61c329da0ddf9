package migrations

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/Anvoria/tradeauth/internal/domain/session"
	"github.com/Anvoria/tradeauth/internal/domain/user"
)

// Models lists every table the service owns
func Models() []any {
	return []any{&user.User{}, &session.Session{}}
}

// RunMigrations brings the schema up to date
func RunMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to make migrations: %w", err)
	}
	return nil
}
