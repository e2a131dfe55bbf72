package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/seedguard/seedguard/internal/domain"
)

func AutoMigrateAll(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(
		// Hit-and-Run obligation tracking
		&types.HRCase{},
		&types.HRDetection{},

		// Site guard throttle/ban log
		&types.SiteGuardEvent{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}
