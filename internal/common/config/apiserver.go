package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type (
	// APIServerConfig is the root configuration of the apiserver
	APIServerConfig struct {
		Port       int              `yaml:"port"`
		Database   DatabaseConfig   `yaml:"database"`
		Logger     LoggerConfig     `yaml:"logger"`
		JWT        JWTConfig        `yaml:"jwt"`
		WebSocket  WebSocketConfig  `yaml:"websocket"`
		Queue      QueueConfig      `yaml:"queue"`
		Redis      RedisConfig      `yaml:"redis"`
		Email      EmailConfig      `yaml:"email"`
		Push       PushConfig       `yaml:"push"`
		Metrics    MetricsConfig    `yaml:"metrics"`
		Tracing    TracingConfig    `yaml:"tracing"`
		SuperAdmin SuperAdminConfig `yaml:"super_admin"`
	}

	// DatabaseConfig represents the relational store configuration
	DatabaseConfig struct {
		Type     string `yaml:"type"`     // mysql, postgres, sqlite
		Host     string `yaml:"host"`     // localhost
		Port     int    `yaml:"port"`     // 3306 (for mysql), 5432 (for postgres)
		User     string `yaml:"user"`     // root (for mysql), postgres (for postgres)
		Password string `yaml:"password"` // password
		DBName   string `yaml:"dbname"`   // database name, file path for sqlite
		SSLMode  string `yaml:"sslmode"`  // disable (for postgres)
	}

	// LoggerConfig represents the logger configuration
	LoggerConfig struct {
		Level      string `yaml:"level"`       // debug, info, warn, error
		Format     string `yaml:"format"`      // json, console
		Output     string `yaml:"output"`      // stdout, file
		FilePath   string `yaml:"file_path"`   // path to log file when output is file
		MaxSize    int    `yaml:"max_size"`    // max size of log file in MB
		MaxBackups int    `yaml:"max_backups"` // max number of backup files
		MaxAge     int    `yaml:"max_age"`     // max age of backup files in days
		Compress   bool   `yaml:"compress"`    // whether to compress backup files
		Color      bool   `yaml:"color"`       // whether to use color in console output
		Stacktrace bool   `yaml:"stacktrace"`  // whether to include stacktrace in error logs
		TimeZone   string `yaml:"time_zone"`   // time zone for log timestamps, default is local
		TimeFormat string `yaml:"time_format"` // time format for log timestamps
	}

	// JWTConfig represents the JWT configuration
	JWTConfig struct {
		SecretKey string        `yaml:"secret_key"`
		Duration  time.Duration `yaml:"duration"`
	}

	// WebSocketConfig represents the connection registry configuration
	WebSocketConfig struct {
		PingInterval     time.Duration `yaml:"ping_interval"`     // interval between liveness pings
		HandshakeTimeout time.Duration `yaml:"handshake_timeout"` // upgrade handshake timeout
		WriteTimeout     time.Duration `yaml:"write_timeout"`     // per-frame write deadline
		SendBuffer       int           `yaml:"send_buffer"`       // per-session outbound buffer size
	}

	// QueueConfig represents the background job queue configuration
	QueueConfig struct {
		Workers        int           `yaml:"workers"`         // workers per queue
		MaxAttempts    int           `yaml:"max_attempts"`    // attempts before terminal failure
		BackoffBase    time.Duration `yaml:"backoff_base"`    // base delay for exponential backoff
		BackoffMax     time.Duration `yaml:"backoff_max"`     // backoff cap
		HandlerTimeout time.Duration `yaml:"handler_timeout"` // per-job execution timeout
		Retention      time.Duration `yaml:"retention"`       // completed-job retention window
		PurgeInterval  time.Duration `yaml:"purge_interval"`  // janitor interval
		PollInterval   time.Duration `yaml:"poll_interval"`   // worker idle poll interval
	}

	// RedisConfig represents the unread-counter cache configuration
	RedisConfig struct {
		ClusterType string        `yaml:"cluster_type"` // none, cluster, sentinel
		Addr        string        `yaml:"addr"`
		MasterName  string        `yaml:"master_name"`
		Username    string        `yaml:"username"`
		Password    string        `yaml:"password"`
		DB          int           `yaml:"db"`
		TTL         time.Duration `yaml:"ttl"`
	}

	// EmailConfig represents the SMTP channel sender configuration
	EmailConfig struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		From     string `yaml:"from"`
	}

	// PushConfig represents the mobile push channel sender configuration
	PushConfig struct {
		Endpoint string        `yaml:"endpoint"`
		APIKey   string        `yaml:"api_key"`
		Timeout  time.Duration `yaml:"timeout"`
	}

	// MetricsConfig represents the prometheus metrics configuration
	MetricsConfig struct {
		Enabled   bool      `yaml:"enabled"`
		Namespace string    `yaml:"namespace"`
		Buckets   []float64 `yaml:"buckets"`
	}

	// TracingConfig represents the OpenTelemetry tracing configuration
	TracingConfig struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		Endpoint    string  `yaml:"endpoint"` // e.g. localhost:4317 or http://localhost:4318
		Protocol    string  `yaml:"protocol"` // grpc or http
		Insecure    bool    `yaml:"insecure"`
		SamplerRate float64 `yaml:"sampler_rate"` // 0.0~1.0
		Environment string  `yaml:"environment"`  // env tag: dev/staging/prod
	}

	// SuperAdminConfig represents the super admin seeded at first start
	SuperAdminConfig struct {
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	}
)

// setDefaults fills zero values with sane defaults
func (c *APIServerConfig) setDefaults() {
	if c.Port == 0 {
		c.Port = 5235
	}
	if c.WebSocket.PingInterval == 0 {
		c.WebSocket.PingInterval = 30 * time.Second
	}
	if c.WebSocket.HandshakeTimeout == 0 {
		c.WebSocket.HandshakeTimeout = 10 * time.Second
	}
	if c.WebSocket.WriteTimeout == 0 {
		c.WebSocket.WriteTimeout = 10 * time.Second
	}
	if c.WebSocket.SendBuffer == 0 {
		c.WebSocket.SendBuffer = 32
	}
	if c.Queue.Workers == 0 {
		c.Queue.Workers = 4
	}
	if c.Queue.MaxAttempts == 0 {
		c.Queue.MaxAttempts = 3
	}
	if c.Queue.BackoffBase == 0 {
		c.Queue.BackoffBase = time.Second
	}
	if c.Queue.BackoffMax == 0 {
		c.Queue.BackoffMax = 5 * time.Minute
	}
	if c.Queue.HandlerTimeout == 0 {
		c.Queue.HandlerTimeout = 30 * time.Second
	}
	if c.Queue.Retention == 0 {
		c.Queue.Retention = 24 * time.Hour
	}
	if c.Queue.PurgeInterval == 0 {
		c.Queue.PurgeInterval = time.Hour
	}
	if c.Queue.PollInterval == 0 {
		c.Queue.PollInterval = 100 * time.Millisecond
	}
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	switch c.Type {
	case "postgres":
		return c.getPostgresDSN()
	case "mysql":
		return c.getMySQLDSN()
	case "sqlite":
		// Ensure the directory for the SQLite database exists.
		if err := os.MkdirAll(filepath.Dir(c.DBName), 0755); err != nil {
			panic(fmt.Errorf("failed to create directory for sqlite database: %w", err))
		}
		return c.DBName // For SQLite, DBName is the file path
	default:
		return ""
	}
}

// getPostgresDSN returns PostgreSQL connection string
func (c *DatabaseConfig) getPostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// getMySQLDSN returns MySQL connection string
func (c *DatabaseConfig) getMySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}
