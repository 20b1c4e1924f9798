// cmd/inventory-service/main.go
package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"stockroom/internal/pkg/bootstrap"
	"stockroom/internal/pkg/logger"
	"stockroom/internal/pkg/mq"
	redispkg "stockroom/internal/pkg/redis"
	"stockroom/internal/service/inventory/application"
	"stockroom/internal/service/inventory/infrastructure"
	"stockroom/internal/service/inventory/infrastructure/rule"
	"stockroom/internal/service/inventory/interfaces"
)

const serviceName = "inventory-service"

func main() {
	port := 8080
	if v, ok := os.LookupEnv("SERVICE_PORT"); ok {
		if parsed, err := strconv.Atoi(v); err == nil {
			port = parsed
		}
	}

	var orderWriter, alertWriter *kafka.Writer
	var redisClient *redispkg.Client

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        port,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			cfg := appCtx.Config

			db, err := infrastructure.OpenMySQL(cfg.Infra.Mysql.DSN)
			if err != nil {
				logger.Logger.Fatal().Err(err).Msg("Failed to connect to MySQL")
			}
			store := infrastructure.NewGormStore(db)

			// 报表缓存是可选依赖：Redis 不可用时直接回源
			var cache application.ReportCache
			redisClient, err = redispkg.NewClient(cfg.Infra.Redis.Addr)
			if err != nil {
				logger.Logger.Warn().Err(err).Msg("Redis unavailable, report cache disabled")
			} else {
				cache = infrastructure.NewRedisReportCache(redisClient,
					time.Duration(cfg.App.ReportCacheTTLMs)*time.Millisecond)
			}

			orderWriter = mq.NewWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.OrderTopic)
			alertWriter = mq.NewWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.AlertTopic)
			producer := infrastructure.NewEventProducerAdapter(orderWriter, alertWriter)

			ruleEngine, err := rule.NewCELRuleEngine(cfg.App.LowStockRule)
			if err != nil {
				logger.Logger.Fatal().Err(err).Msg("Invalid low-stock rule")
			}

			service := application.NewInventoryAppService(store, producer, ruleEngine, cache,
				otel.Tracer(serviceName), application.Options{
					MaxRetries:        cfg.App.Reserve.MaxRetries,
					BackoffBase:       time.Duration(cfg.App.Reserve.BackoffBaseMs) * time.Millisecond,
					BackoffMax:        time.Duration(cfg.App.Reserve.BackoffMaxMs) * time.Millisecond,
					LowStockThreshold: cfg.App.LowStockThreshold,
					ReportCacheTTL:    time.Duration(cfg.App.ReportCacheTTLMs) * time.Millisecond,
				})

			handler := interfaces.NewInventoryHandler(service)
			handler.RegisterRoutes(appCtx.Mux)
		},
		OnShutdown: func(ctx context.Context) {
			if orderWriter != nil {
				if err := orderWriter.Close(); err != nil {
					logger.Logger.Error().Err(err).Msg("Error closing order event writer")
				}
			}
			if alertWriter != nil {
				if err := alertWriter.Close(); err != nil {
					logger.Logger.Error().Err(err).Msg("Error closing alert event writer")
				}
			}
			if redisClient != nil {
				redisClient.Close()
			}
		},
	})
}
