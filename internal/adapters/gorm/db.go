package gorm

import (
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlog "gorm.io/gorm/logger"
)

// New creates a new GORM database instance and runs migrations.
func New(dsn string, lg zerolog.Logger) (*gorm.DB, error) {
	return Open(postgres.Open(dsn), lg)
}

// Open runs the registry migration on any GORM dialector.
func Open(dialector gorm.Dialector, lg zerolog.Logger) (*gorm.DB, error) {
	// Configure GORM's logger to use Zerolog
	gormLogger := gormlog.New(
		&lg,
		gormlog.Config{
			SlowThreshold:             0,
			LogLevel:                  gormlog.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("gorm open: %w", err)
	}

	// AutoMigrate creates the 'web_services' table with its uniqueness constraints.
	if err := db.AutoMigrate(&webServiceRow{}); err != nil {
		return nil, fmt.Errorf("gorm migrate: %w", err)
	}
	lg.Info().Msg("database migration successful")

	return db, nil
}
