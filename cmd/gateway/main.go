package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "go.uber.org/automaxprocs"

	"github.com/imrelay/gateway/internal/apiclient"
	"github.com/imrelay/gateway/internal/broker"
	"github.com/imrelay/gateway/internal/config"
	"github.com/imrelay/gateway/internal/gateway"
	"github.com/imrelay/gateway/internal/httpapi"
	"github.com/imrelay/gateway/internal/httputil"
	"github.com/imrelay/gateway/internal/metrics"
	"github.com/imrelay/gateway/internal/presence"
	"github.com/imrelay/gateway/internal/redisconn"
)

// Build metadata injected via ldflags at compile time.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("gateway stopped")
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	log.Info().Str("version", version).Str("commit", commit).Str("env", cfg.ServerEnv).Msg("starting im-gateway")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := redisconn.Connect(ctx, cfg.RedisURL, cfg.RedisDialTimeout)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() { _ = rdb.Close() }()
	log.Info().Msg("redis connected")

	brk, err := broker.Connect(cfg.NATSURL, cfg.NATSTimeout, log.Logger.With().Str("component", "broker").Logger())
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer brk.Close()
	log.Info().Msg("broker connected")

	m := metrics.New()
	m.SetBrokerConnected(brk.IsConnected())

	api := apiclient.New(cfg.APIBaseURL, cfg.APIServiceName, cfg.APITimeout, cfg.APIMaxRetries, cfg.APIRetryBaseWait)
	presenceStore := presence.NewStore(rdb)

	sampler, err := metrics.NewSampler(m, presenceStore, 15*time.Second)
	if err != nil {
		log.Warn().Err(err).Msg("host resource sampler unavailable")
	} else {
		go sampler.Run(ctx)
	}

	hub := gateway.NewHub(cfg, api, brk, presenceStore, m, log.Logger.With().Str("component", "gateway").Logger())
	if err := hub.SubscribeFanout(); err != nil {
		return fmt.Errorf("subscribe fan-out: %w", err)
	}
	log.Info().Msg("fan-out subscriptions active")

	app := fiber.New(fiber.Config{
		AppName: cfg.ServerName,
		ErrorHandler: func(c fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			message := "an internal error occurred"
			code := httputil.CodeInternalError
			if e, ok := errors.AsType[*fiber.Error](err); ok {
				status = e.Code
				message = e.Message
				code = fiberStatusToCode(e.Code)
			} else {
				log.Error().Err(err).Str("method", c.Method()).Str("path", c.Path()).Msg("unhandled error")
			}
			return httputil.Fail(c, status, code, message)
		},
	})

	app.Use(requestid.New())
	if cfg.LogHealthRequests {
		app.Use(httputil.RequestLogger(log.Logger))
	} else {
		app.Use(func(c fiber.Ctx) error {
			if c.Path() == "/healthz" {
				return c.Next()
			}
			return httputil.RequestLogger(log.Logger)(c)
		})
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Split(cfg.CORSAllowOrigins, ","),
		AllowMethods: []string{"GET"},
	}))

	app.Get("/healthz", func(c fiber.Ctx) error {
		status := "ok"
		code := fiber.StatusOK
		if err := rdb.Ping(c.Context()).Err(); err != nil {
			status, code = "degraded", fiber.StatusServiceUnavailable
		}
		if !brk.IsConnected() {
			status, code = "degraded", fiber.StatusServiceUnavailable
		}
		return httputil.SuccessStatus(c, code, fiber.Map{"status": status})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	gatewayHandler := httpapi.NewGatewayHandler(hub)
	app.Get(cfg.WebSocketPath, gatewayHandler.Upgrade)

	app.Use(func(_ fiber.Ctx) error {
		return fiber.ErrNotFound
	})

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down gateway")
		hub.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Str("ws_path", cfg.WebSocketPath).Msg("gateway listening")
	if err := app.Listen(cfg.ListenAddr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// fiberStatusToCode maps an HTTP status from Fiber's built-in errors (404, 405, ...) to the closest stable error code.
func fiberStatusToCode(status int) httputil.ErrorCode {
	switch status {
	case fiber.StatusNotFound:
		return httputil.CodeNotFound
	case fiber.StatusUnauthorized:
		return httputil.CodeUnauthorised
	case fiber.StatusForbidden:
		return httputil.CodeForbidden
	case fiber.StatusTooManyRequests:
		return httputil.CodeRateLimited
	default:
		if status >= 400 && status < 500 {
			return httputil.CodeValidationError
		}
		return httputil.CodeInternalError
	}
}
