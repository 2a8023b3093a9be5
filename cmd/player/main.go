package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sharetube/syncplay/internal/player"
	"github.com/sharetube/syncplay/pkg/ctxlogger"
)

type configVar[T any] struct {
	envKey       string
	flagKey      string
	defaultValue T
	usage        string
}

var (
	serverURL = configVar[string]{
		envKey:       "PLAYER_SERVER_URL",
		flagKey:      "server-url",
		defaultValue: "http://localhost:80",
		usage:        "Coordinator base URL",
	}
	deviceClass = configVar[string]{
		envKey:       "PLAYER_DEVICE_CLASS",
		flagKey:      "device-class",
		defaultValue: "desktop",
		usage:        "Device class hint: desktop, mobile or tablet",
	}
	displayName = configVar[string]{
		envKey:       "PLAYER_DISPLAY_NAME",
		flagKey:      "display-name",
		defaultValue: "",
		usage:        "Display name to request after registering",
	}
	logLevel = configVar[string]{
		envKey:       "PLAYER_LOG_LEVEL",
		flagKey:      "log-level",
		defaultValue: "INFO",
		usage:        "Logging level",
	}
	queue = configVar[[]string]{
		envKey:       "PLAYER_QUEUE",
		flagKey:      "queue",
		defaultValue: nil,
		usage:        "Track ids in play order, used for auto-advance",
	}
	autoplay = configVar[bool]{
		envKey:       "PLAYER_AUTOPLAY",
		flagKey:      "autoplay",
		defaultValue: false,
		usage:        "Request a synchronized start of the first queued track once registered",
	}
	probeInterval = configVar[time.Duration]{
		envKey:       "PLAYER_PROBE_INTERVAL",
		flagKey:      "probe-interval",
		defaultValue: 30 * time.Second,
		usage:        "Clock probe interval",
	}
	driftInterval = configVar[time.Duration]{
		envKey:       "PLAYER_DRIFT_INTERVAL",
		flagKey:      "drift-interval",
		defaultValue: 25 * time.Millisecond,
		usage:        "Drift correction tick",
	}
	driftThreshold = configVar[time.Duration]{
		envKey:       "PLAYER_DRIFT_THRESHOLD",
		flagKey:      "drift-threshold",
		defaultValue: 40 * time.Millisecond,
		usage:        "Drift tolerated before a hard seek",
	}
	engineRate = configVar[float64]{
		envKey:       "PLAYER_ENGINE_RATE",
		flagKey:      "engine-rate",
		defaultValue: 1,
		usage:        "Speed of the simulated engine, values off 1 simulate a drifting device",
	}
)

type playerConfig struct {
	LogLevel   string
	Autoplay   bool
	EngineRate float64
	Client     player.Config
}

func bind[T any](v configVar[T]) {
	viper.BindEnv(v.flagKey, v.envKey)
	viper.SetDefault(v.flagKey, v.defaultValue)
}

func loadConfig() *playerConfig {
	pflag.String(serverURL.flagKey, serverURL.defaultValue, serverURL.usage)
	pflag.String(deviceClass.flagKey, deviceClass.defaultValue, deviceClass.usage)
	pflag.String(displayName.flagKey, displayName.defaultValue, displayName.usage)
	pflag.String(logLevel.flagKey, logLevel.defaultValue, logLevel.usage)
	pflag.StringSlice(queue.flagKey, queue.defaultValue, queue.usage)
	pflag.Bool(autoplay.flagKey, autoplay.defaultValue, autoplay.usage)
	pflag.Duration(probeInterval.flagKey, probeInterval.defaultValue, probeInterval.usage)
	pflag.Duration(driftInterval.flagKey, driftInterval.defaultValue, driftInterval.usage)
	pflag.Duration(driftThreshold.flagKey, driftThreshold.defaultValue, driftThreshold.usage)
	pflag.Float64(engineRate.flagKey, engineRate.defaultValue, engineRate.usage)
	pflag.Parse()

	viper.BindPFlags(pflag.CommandLine)

	bind(serverURL)
	bind(deviceClass)
	bind(displayName)
	bind(logLevel)
	bind(queue)
	bind(autoplay)
	bind(probeInterval)
	bind(driftInterval)
	bind(driftThreshold)
	bind(engineRate)

	clientCfg := player.DefaultConfig()
	clientCfg.ServerURL = viper.GetString(serverURL.flagKey)
	clientCfg.DeviceClass = viper.GetString(deviceClass.flagKey)
	clientCfg.DisplayName = viper.GetString(displayName.flagKey)
	clientCfg.Queue = viper.GetStringSlice(queue.flagKey)
	clientCfg.ProbeInterval = viper.GetDuration(probeInterval.flagKey)
	clientCfg.DriftInterval = viper.GetDuration(driftInterval.flagKey)
	clientCfg.DriftThreshold = viper.GetDuration(driftThreshold.flagKey)

	return &playerConfig{
		LogLevel:   viper.GetString(logLevel.flagKey),
		Autoplay:   viper.GetBool(autoplay.flagKey),
		EngineRate: viper.GetFloat64(engineRate.flagKey),
		Client:     clientCfg,
	}
}

func run(ctx context.Context, cfg *playerConfig) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	if cfg.Client.ProbeInterval <= 0 || cfg.Client.DriftInterval <= 0 {
		return errors.New("probe and drift intervals must be positive")
	}

	logger := slog.New(&ctxlogger.ContextHandler{
		Handler: slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level:     level,
			AddSource: true,
		}),
	})

	clk := clock.New()
	client := player.NewClient(cfg.Client, player.NewSimEngine(clk, cfg.EngineRate), clk, logger)

	if cfg.Autoplay && len(cfg.Client.Queue) > 0 {
		go func() {
			select {
			case <-ctx.Done():
				return
			case <-client.Registered():
			}
			if err := client.RequestPlay(cfg.Client.Queue[0], 0); err != nil {
				logger.WarnContext(ctx, "failed to request play", "error", err)
			}
		}()
	}

	if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, loadConfig()); err != nil {
		log.Fatal(err)
	}
}
