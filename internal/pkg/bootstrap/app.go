// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"stockroom/internal/pkg/logger"
	"stockroom/internal/pkg/nacos"
	"stockroom/internal/pkg/tracing"
)

// AppCtx 传递给业务方的启动上下文。
type AppCtx struct {
	Mux    *http.ServeMux
	Config *Config
}

// AppInfo 描述启动一个服务所需的信息。
type AppInfo struct {
	ServiceName string
	Port        int
	// RegisterHandlers 由各服务注册自己的路由和依赖
	RegisterHandlers func(appCtx AppCtx)
	// OnShutdown 在 HTTP 服务器关闭后执行，用于释放业务方持有的资源
	OnShutdown func(ctx context.Context)
}

// StartService 封装通用的启动和优雅关停逻辑：
// 配置加载 -> 日志 -> Tracer -> 可选的 Nacos 注册 -> HTTP Server -> 信号驱动关停。
func StartService(info AppInfo) {
	logger.Init(info.ServiceName)

	cfg, err := LoadConfig("")
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to load config")
	}

	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to initialize tracer provider")
	}

	// Nacos 注册是可选的：本地开发和测试环境不配置注册中心
	var namingClient *nacos.Client
	var serviceIP string
	if cfg.Infra.Nacos.ServerAddrs != "" {
		namingClient, err = nacos.NewClient(cfg.Infra.Nacos.ServerAddrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
		if err != nil {
			logger.Logger.Fatal().Err(err).Msg("Failed to initialize nacos client")
		}
		serviceIP, err = nacos.GetOutboundIP()
		if err != nil {
			logger.Logger.Fatal().Err(err).Msg("Failed to get outbound IP address")
		}
		if err := namingClient.RegisterServiceInstance(info.ServiceName, serviceIP, info.Port); err != nil {
			logger.Logger.Fatal().Err(err).Msg("Failed to register service with nacos")
		}
	}

	mux := http.NewServeMux()
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux, Config: cfg})
	}

	server := &http.Server{Addr: ":" + strconv.Itoa(info.Port), Handler: mux}
	go func() {
		logger.Logger.Info().Int("port", info.Port).Msgf("%s listening", info.ServiceName)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Logger.Fatal().Err(err).Str("addr", server.Addr).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Logger.Info().Msgf("Shutting down service %s...", info.ServiceName)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 关停顺序与启动相反：先摘流量，再停服务器，最后冲刷 trace 缓冲
	if namingClient != nil {
		if err := namingClient.DeregisterServiceInstance(info.ServiceName, serviceIP, info.Port); err != nil {
			logger.Logger.Error().Err(err).Msg("Error deregistering from Nacos")
		}
	}

	if err := server.Shutdown(ctx); err != nil {
		logger.Logger.Error().Err(err).Msg("Error shutting down http server")
	}

	if info.OnShutdown != nil {
		info.OnShutdown(ctx)
	}

	if err := tp.Shutdown(ctx); err != nil {
		logger.Logger.Error().Err(err).Msg("Error shutting down tracer provider")
	}

	logger.Logger.Info().Msgf("Service %s gracefully shut down.", info.ServiceName)
}
