package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/sharetube/syncplay/internal/controller"
	"github.com/sharetube/syncplay/internal/metrics"
	catalogRedis "github.com/sharetube/syncplay/internal/repository/catalog/redis"
	connInmemory "github.com/sharetube/syncplay/internal/repository/connection/inmemory"
	deviceInmemory "github.com/sharetube/syncplay/internal/repository/device/inmemory"
	"github.com/sharetube/syncplay/internal/service/playback"
	"github.com/sharetube/syncplay/pkg/ctxlogger"
	"github.com/sharetube/syncplay/pkg/redisclient"
	"github.com/sharetube/syncplay/pkg/wsconn"
)

type AppConfig struct {
	Secret        string        `json:"-"`
	Host          string        `json:"host"`
	Port          int           `json:"port"`
	LogLevel      string        `json:"log_level"`
	RedisPort     int           `json:"redis_port"`
	RedisHost     string        `json:"redis_host"`
	RedisPassword string        `json:"-"`
	StartLead     time.Duration `json:"start_lead"`
	SwitchLead    time.Duration `json:"switch_lead"`
	MaxLead       time.Duration `json:"max_lead"`
	DevicesLimit  int           `json:"devices_limit"`
	SendBuffer    int           `json:"send_buffer"`
	ReadLimit     int64         `json:"read_limit"`
	PingPeriod    time.Duration `json:"ping_period"`
	RateLimit     float64       `json:"rate_limit"`
	RateBurst     int           `json:"rate_burst"`
}

func (cfg *AppConfig) Validate() error {
	if cfg.DevicesLimit < 1 {
		return fmt.Errorf("devices limit must be greater than 0")
	}
	if cfg.StartLead < 0 || cfg.SwitchLead < 0 {
		return fmt.Errorf("lead times must not be negative")
	}
	if cfg.MaxLead < cfg.StartLead || cfg.MaxLead < cfg.SwitchLead {
		return fmt.Errorf("max lead must not be less than the default lead times")
	}
	if cfg.SendBuffer < 1 {
		return fmt.Errorf("send buffer must be greater than 0")
	}
	if cfg.ReadLimit < 1 {
		return fmt.Errorf("read limit must be greater than 0")
	}
	if cfg.PingPeriod <= 0 {
		return fmt.Errorf("ping period must be positive")
	}
	if cfg.RateLimit < 0 || cfg.RateBurst < 0 {
		return fmt.Errorf("rate limit and burst must not be negative")
	}
	if _, err := parseLogLevel(cfg.LogLevel); err != nil {
		return err
	}

	return nil
}

func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}

	return level, nil
}

// App is a fully wired coordinator that is not yet listening.
type App struct {
	handler http.Handler
	logger  *slog.Logger
}

// New wires every component on top of an already connected Redis client.
func New(cfg *AppConfig, rc *redis.Client, clk clock.Clock, logger *slog.Logger) *App {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	catalogRepo := catalogRedis.NewRepo(rc, logger)
	deviceRepo := deviceInmemory.NewRepo(logger)
	connectionRepo := connInmemory.NewRepo(logger)

	playbackService := playback.NewService(deviceRepo, connectionRepo, clk, m, logger, playback.Config{
		DefaultStartLead:  cfg.StartLead,
		DefaultSwitchLead: cfg.SwitchLead,
		MaxLead:           cfg.MaxLead,
		DevicesLimit:      cfg.DevicesLimit,
		Secret:            cfg.Secret,
		DeviceTokenTTL:    playback.DefaultConfig().DeviceTokenTTL,
	})

	connCfg := wsconn.DefaultConfig()
	connCfg.SendBuffer = cfg.SendBuffer
	connCfg.ReadLimit = cfg.ReadLimit
	connCfg.PingPeriod = cfg.PingPeriod
	connCfg.PongWait = cfg.PingPeriod * 10 / 9

	ctrl := controller.NewController(playbackService, catalogRepo, clk, m, reg, logger, controller.Config{
		Conn:      connCfg,
		RateLimit: rate.Limit(cfg.RateLimit),
		RateBurst: cfg.RateBurst,
	})

	return &App{
		handler: ctrl.GetMux(),
		logger:  logger,
	}
}

func (a *App) Handler() http.Handler {
	return a.handler
}

func Run(ctx context.Context, cfg *AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logLevel, _ := parseLogLevel(cfg.LogLevel)
	h := ctxlogger.ContextHandler{
		Handler: slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level:     logLevel,
			AddSource: true,
		}),
	}

	logger := slog.New(&h)

	rc, err := redisclient.NewRedisClient(ctx, &redisclient.Config{
		Port:     cfg.RedisPort,
		Host:     cfg.RedisHost,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		return fmt.Errorf("failed to create redis client: %w", err)
	}
	defer rc.Close()

	a := New(cfg, rc, clock.New(), logger)
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// graceful shutdown
	serverCtx, serverStopCtx := context.WithCancel(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sig)
	go func() {
		select {
		case <-sig:
		case <-ctx.Done():
		}

		shutdownCtx, c := context.WithTimeout(context.WithoutCancel(serverCtx), 30*time.Second)
		defer c()

		go func() {
			<-shutdownCtx.Done()
			if shutdownCtx.Err() == context.DeadlineExceeded {
				log.Fatal("graceful shutdown timed out.. forcing exit.")
			}
		}()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Fatal(err)
		}
		serverStopCtx()
	}()

	logger.InfoContext(serverCtx, "starting server", "address", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	<-serverCtx.Done()

	return nil
}
