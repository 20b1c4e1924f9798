package bootstrap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.App.LowStockThreshold)
	assert.Equal(t, "stock < threshold", cfg.App.LowStockRule)
	assert.Equal(t, 3, cfg.App.Reserve.MaxRetries)
	assert.Equal(t, 20, cfg.App.Reserve.BackoffBaseMs)
	assert.Equal(t, 200, cfg.App.Reserve.BackoffMaxMs)
	assert.Equal(t, "inventory.order.completed", cfg.Infra.Kafka.OrderTopic)
	assert.Equal(t, "inventory.stock.low", cfg.Infra.Kafka.AlertTopic)
}

func TestLoadConfig_YamlOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  low_stock_threshold: 12
  reserve:
    max_retries: 7
infra:
  kafka:
    brokers: "kafka-1:9092,kafka-2:9092"
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.App.LowStockThreshold)
	assert.Equal(t, 7, cfg.App.Reserve.MaxRetries)
	assert.Equal(t, "kafka-1:9092,kafka-2:9092", cfg.Infra.Kafka.Brokers)
	// 文件未覆盖的键保持默认值
	assert.Equal(t, "stock < threshold", cfg.App.LowStockRule)
	assert.Equal(t, 200, cfg.App.Reserve.BackoffMaxMs)

	assert.Same(t, cfg, GetCurrentConfig())
}

func TestLoadConfig_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("MYSQL_DSN", "user:pass@tcp(db:3306)/inventory")
	t.Setenv("NACOS_SERVER_ADDRS", "nacos:8848")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "user:pass@tcp(db:3306)/inventory", cfg.Infra.Mysql.DSN)
	assert.Equal(t, "nacos:8848", cfg.Infra.Nacos.ServerAddrs)
}

func TestLoadConfig_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.App.LowStockThreshold)
}

func TestLoadConfig_InvalidYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app: [not a map"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
