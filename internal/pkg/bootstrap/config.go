// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"stockroom/internal/pkg/logger"
)

// Config 是整个服务的配置树，来源优先级：环境变量 > yaml 文件 > 默认值。
type Config struct {
	App struct {
		// LowStockThreshold 低库存阈值，报表接口可以用 query 参数覆盖
		LowStockThreshold int `yaml:"low_stock_threshold"`
		// LowStockRule 低库存判定规则（CEL 表达式），变量: stock, threshold, price
		LowStockRule string `yaml:"low_stock_rule"`
		Reserve      struct {
			// MaxRetries 事务冲突时的最大重试次数（不含首次尝试）
			MaxRetries    int `yaml:"max_retries"`
			BackoffBaseMs int `yaml:"backoff_base_ms"`
			BackoffMaxMs  int `yaml:"backoff_max_ms"`
		} `yaml:"reserve"`
		ReportCacheTTLMs int `yaml:"report_cache_ttl_ms"`
	} `yaml:"app"`
	Infra struct {
		Mysql struct {
			DSN string `yaml:"dsn"`
		} `yaml:"mysql"`
		Redis struct {
			Addr string `yaml:"addr"`
		} `yaml:"redis"`
		Kafka struct {
			Brokers    string `yaml:"brokers"`
			OrderTopic string `yaml:"order_topic"`
			AlertTopic string `yaml:"alert_topic"`
		} `yaml:"kafka"`
		Jaeger struct {
			Endpoint string `yaml:"endpoint"`
		} `yaml:"jaeger"`
		Nacos struct {
			// ServerAddrs 为空时跳过服务注册，方便本地开发和测试
			ServerAddrs string `yaml:"server_addrs"`
			Namespace   string `yaml:"namespace"`
			Group       string `yaml:"group"`
		} `yaml:"nacos"`
	} `yaml:"infra"`
}

var currentConfig atomic.Pointer[Config]

// defaultConfig 返回一份可以直接在本地跑起来的配置。
func defaultConfig() *Config {
	cfg := &Config{}
	cfg.App.LowStockThreshold = 5
	cfg.App.LowStockRule = "stock < threshold"
	cfg.App.Reserve.MaxRetries = 3
	cfg.App.Reserve.BackoffBaseMs = 20
	cfg.App.Reserve.BackoffMaxMs = 200
	cfg.App.ReportCacheTTLMs = 2000
	cfg.Infra.Mysql.DSN = getEnv("MYSQL_DSN",
		"inventory_user:inventory_pass@tcp(127.0.0.1:3306)/inventory_db?charset=utf8mb4&parseTime=True&loc=Local")
	cfg.Infra.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Infra.Kafka.Brokers = getEnv("KAFKA_BROKERS", "localhost:9092")
	cfg.Infra.Kafka.OrderTopic = getEnv("KAFKA_ORDER_TOPIC", "inventory.order.completed")
	cfg.Infra.Kafka.AlertTopic = getEnv("KAFKA_ALERT_TOPIC", "inventory.stock.low")
	cfg.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces")
	cfg.Infra.Nacos.ServerAddrs = getEnv("NACOS_SERVER_ADDRS", "")
	cfg.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", "")
	cfg.Infra.Nacos.Group = getEnv("NACOS_GROUP", "DEFAULT_GROUP")
	return cfg
}

// LoadConfig 加载配置并设置为全局当前配置。
// path 为空时尝试 CONFIG_PATH 环境变量；文件不存在不算错误，直接用默认值。
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
			logger.Logger.Warn().Str("path", path).Msg("Config file not found, falling back to defaults")
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	currentConfig.Store(cfg)
	return cfg, nil
}

// GetCurrentConfig 返回当前生效的配置快照。
func GetCurrentConfig() *Config {
	if cfg := currentConfig.Load(); cfg != nil {
		return cfg
	}
	cfg, err := LoadConfig("")
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to load config")
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
