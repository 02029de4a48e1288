package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/driftwire/relay/internal/v1/config"
	"github.com/driftwire/relay/internal/v1/health"
	"github.com/driftwire/relay/internal/v1/logging"
	"github.com/driftwire/relay/internal/v1/middleware"
	"github.com/driftwire/relay/internal/v1/poll"
	"github.com/driftwire/relay/internal/v1/ratelimit"
	"github.com/driftwire/relay/internal/v1/relay"
	"github.com/driftwire/relay/internal/v1/tracing"
	"github.com/driftwire/relay/internal/v1/transport"
)

// shutdownDeadline bounds graceful drain; expiry forces exit code 1.
const shutdownDeadline = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// .env is a local-development convenience only.
	_ = godotenv.Load(".env")

	cfg, err := config.ValidateEnv()
	if err != nil {
		// Logger is not up yet.
		os.Stderr.WriteString(err.Error() + "\n")
		return 1
	}

	if err := logging.Initialize(cfg.LogLevel, cfg.DevelopmentMode); err != nil {
		os.Stderr.WriteString("failed to initialize logger: " + err.Error() + "\n")
		return 1
	}
	ctx := context.Background()

	if cfg.DevelopmentMode {
		logging.Info(ctx, "running in development mode")
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "relay", cfg.OTelCollector)
		if err != nil {
			logging.Error(ctx, "failed to initialize tracing", zap.Error(err))
			return 1
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
		logging.Info(ctx, "tracing enabled", zap.String("collector", cfg.OTelCollector))
	}

	clk := clock.RealClock{}
	rl := relay.New(ratelimit.New(clk), clk)

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	rl.StartJanitor(janitorCtx)

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.CORSOrigin == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = []string{cfg.CORSOrigin}
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders,
		"X-Delete-Token", middleware.HeaderXCorrelationID)
	router.Use(cors.New(corsConfig))

	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.ClientKey(cfg.TrustedProxies))
	if cfg.TracingEnabled {
		router.Use(otelgin.Middleware("relay"))
	}

	wsHandler, err := transport.NewHandler(rl, cfg)
	if err != nil {
		logging.Error(ctx, "failed to build push handler", zap.Error(err))
		return 1
	}
	router.GET("/ws", wsHandler.ServeWs)

	poll.NewHandler(rl).Register(router)
	router.GET("/health", health.NewHandler(rl, clk).Check)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logging.Info(ctx, "relay listening",
			zap.String("port", cfg.Port),
			zap.String("cors_origin", cfg.CORSOrigin),
			zap.Int("trusted_proxies", cfg.TrustedProxies))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "server failed", zap.Error(err))
			_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer cancel()

	code := 0
	if err := rl.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "relay drain exceeded deadline", zap.Error(err))
		code = 1
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "server forced to shut down", zap.Error(err))
		code = 1
	}

	logging.Info(ctx, "relay exiting", zap.Int("exit_code", code))
	return code
}
