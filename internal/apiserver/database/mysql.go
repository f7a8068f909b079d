package database

import (
	"github.com/maintrack/maintrack/internal/common/config"

	"gorm.io/driver/mysql"
)

// NewMySQL creates a new MySQL-backed Database
func NewMySQL(cfg *config.DatabaseConfig) (Database, error) {
	return newGormDB(mysql.Open(cfg.GetDSN()))
}
