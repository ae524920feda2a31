package infra

import (
	"path/filepath"
	"testing"

	"cmsreport/internal/config"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type probeRecord struct {
	ID   uint `gorm:"primaryKey"`
	Name string
}

func TestOpenDatabaseSQLite(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "nested", "test.db"),
	}

	db, err := OpenDatabase(cfg, nil)
	require.NoError(t, err)
	defer CloseDatabase(db)

	require.NoError(t, AutoMigrate(db, &probeRecord{}))
	require.NoError(t, db.Create(&probeRecord{Name: "ok"}).Error)

	var got probeRecord
	require.NoError(t, db.First(&got).Error)
	assert.Equal(t, "ok", got.Name)
	assert.NoError(t, HealthCheck(db))
}

func TestOpenDatabaseUnknownDriver(t *testing.T) {
	_, err := OpenDatabase(&config.DatabaseConfig{Driver: "oracle"}, nil)
	assert.Error(t, err)
}

func TestAsynqRedisOpt(t *testing.T) {
	opt := AsynqRedisOpt(config.RedisConfig{Host: "10.0.0.1", Port: 6380, DB: 2})
	clientOpt, ok := opt.(asynq.RedisClientOpt)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1:6380", clientOpt.Addr)
	assert.Equal(t, 2, clientOpt.DB)

	_, ok = AsynqRedisOpt(config.RedisConfig{Mode: "cluster", ClusterAddrs: []string{"a:1"}}).(asynq.RedisClusterClientOpt)
	assert.True(t, ok)
}
