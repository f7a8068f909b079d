package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveEnv(t *testing.T) {
	t.Setenv("MAINTRACK_TEST_HOST", "db.internal")

	in := []byte("host: ${MAINTRACK_TEST_HOST}\nport: ${MAINTRACK_TEST_PORT:5432}\n")
	out := string(resolveEnv(in))
	assert.Contains(t, out, "host: db.internal")
	assert.Contains(t, out, "port: 5432")
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "apiserver.yaml")
	data := `
port: 8080
database:
  type: sqlite
  dbname: ` + filepath.Join(dir, "test.db") + `
jwt:
  secret_key: ${JWT_SECRET:0123456789abcdef0123456789abcdef}
  duration: 24h
queue:
  workers: 2
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, cfgPath, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, path, cfgPath)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", cfg.JWT.SecretKey)
	assert.Equal(t, 24*time.Hour, cfg.JWT.Duration)
	assert.Equal(t, 2, cfg.Queue.Workers)

	// defaults are applied to unset fields
	assert.Equal(t, 30*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Queue.BackoffBase)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDatabaseDSN(t *testing.T) {
	pg := &DatabaseConfig{Type: "postgres", Host: "localhost", Port: 5432, User: "postgres", Password: "pw", DBName: "maintrack", SSLMode: "disable"}
	assert.Equal(t, "postgres://postgres:pw@localhost:5432/maintrack?sslmode=disable", pg.GetDSN())

	my := &DatabaseConfig{Type: "mysql", Host: "localhost", Port: 3306, User: "root", Password: "pw", DBName: "maintrack"}
	assert.Equal(t, "root:pw@tcp(localhost:3306)/maintrack?charset=utf8mb4&parseTime=True&loc=Local", my.GetDSN())

	unknown := &DatabaseConfig{Type: "oracle"}
	assert.Equal(t, "", unknown.GetDSN())
}
