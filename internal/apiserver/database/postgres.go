package database

import (
	"github.com/maintrack/maintrack/internal/common/config"

	"gorm.io/driver/postgres"
)

// NewPostgres creates a new PostgreSQL-backed Database
func NewPostgres(cfg *config.DatabaseConfig) (Database, error) {
	return newGormDB(postgres.Open(cfg.GetDSN()))
}
