package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"webview-proxy-go/internal/client"
	"webview-proxy-go/internal/config"
	"webview-proxy-go/internal/cookies"
	"webview-proxy-go/internal/engine"
	"webview-proxy-go/internal/events"
	"webview-proxy-go/internal/handler"
	"webview-proxy-go/internal/metrics"
	"webview-proxy-go/internal/middleware"
	"webview-proxy-go/internal/origin"
	"webview-proxy-go/internal/service"
	"webview-proxy-go/internal/useragent"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const eventBuffer = 64

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("webview-proxy"),
		kong.Description("Intercepting proxy that makes embedded browser traffic look like stock Chrome for Android."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With("component", "fx")}
		}),
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newEcho,
			newHealth,
			newUserAgent,
			useragent.NewHintStore,
			newCookieStore,
			func() *events.Broker { return events.NewBroker(eventBuffer) },
			client.NewManager,
			func(m *client.Manager) service.Backend { return m },
			func(m *client.Manager) handler.Recreator { return m },
			func(m *client.Manager) handler.BackendStatus { return m },
			service.NewProxyService,
			engine.NewAdapter,
			handler.NewInterceptHandler,
			handler.NewPageHandler,
			handler.NewUserAgentHandler,
			handler.NewEventsHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(registerRoutes, warnConfigPermissions, watchUserAgent, stopBackend, startServer),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.ReadTimeout = 30 * time.Second
	// Proxied bodies are streamed for as long as the upstream keeps sending;
	// the outbound client timeout bounds them instead.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m))
	}
	if isLoopback(cfg.Server.Host) {
		e.Use(middleware.LoopbackOnly())
	} else {
		logger.Warn("bridge listening beyond loopback", "host", cfg.Server.Host)
	}
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders("/v1/intercept", "/v1/sw/"))

	if cfg.Server.RateLimit.Enabled {
		e.Use(middleware.RateLimit(cfg.Server.RateLimit.RequestsPerSecond))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func newHealth(cfg *config.Config) *origin.Health {
	return origin.NewHealth(cfg.Proxy.UnhealthyTTL(), nil)
}

func newUserAgent(cfg *config.Config) *useragent.Provider {
	ua := cfg.UserAgent
	p := useragent.NewProvider(useragent.Metadata{
		InstalledVersion: ua.ChromeVersion,
		AndroidVersion:   ua.AndroidVersion,
		DeviceModel:      ua.DeviceModel,
		PlatformVersion:  ua.PlatformVersion,
		Architecture:     ua.Architecture,
		Bitness:          ua.Bitness,
		Model:            ua.Model,
	})
	if ua.Override != "" {
		p.SetOverride(ua.Override)
	}
	return p
}

func newCookieStore() (cookies.Store, error) {
	jar, err := cookies.NewJar()
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	return jar, nil
}

func registerRoutes(
	e *echo.Echo,
	cfg *config.Config,
	m *metrics.Metrics,
	intercept *handler.InterceptHandler,
	page *handler.PageHandler,
	ua *handler.UserAgentHandler,
	ev *handler.EventsHandler,
	health *handler.HealthHandler,
) {
	handler.RegisterRoutes(e, handler.Handlers{
		Intercept: intercept,
		Page:      page,
		UserAgent: ua,
		Events:    ev,
		Health:    health,
	})
	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

// watchUserAgent relays every effective User-Agent change to event
// subscribers for as long as the app runs.
func watchUserAgent(lc fx.Lifecycle, p *useragent.Provider, broker *events.Broker, logger *slog.Logger) {
	var stop func()
	quit := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			var changes <-chan string
			changes, stop = p.Watch()
			go func() {
				for {
					select {
					case ua := <-changes:
						logger.Debug("user agent changed", "user_agent", ua)
						broker.Publish(events.Event{Type: events.TypeUserAgent, UserAgent: ua})
					case <-quit:
						return
					}
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			stop()
			close(quit)
			return nil
		},
	})
}

func stopBackend(lc fx.Lifecycle, m *client.Manager, broker *events.Broker) {
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			err := m.Shutdown()
			broker.Close()
			return err
		},
	})
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting bridge", "addr", addr, "version", version)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down bridge")
			return e.Shutdown(ctx)
		},
	})
}
