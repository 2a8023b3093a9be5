package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sharetube/syncplay/internal/app"
)

type configVar[T any] struct {
	envKey       string
	flagKey      string
	defaultValue T
	usage        string
}

var (
	secret = configVar[string]{
		envKey:       "SERVER_SECRET",
		flagKey:      "secret",
		defaultValue: "",
		usage:        "Secret signing device tokens, empty disables them",
	}
	port = configVar[int]{
		envKey:       "SERVER_PORT",
		flagKey:      "port",
		defaultValue: 80,
		usage:        "Server port",
	}
	host = configVar[string]{
		envKey:       "SERVER_HOST",
		flagKey:      "host",
		defaultValue: "0.0.0.0",
		usage:        "Server host",
	}
	logLevel = configVar[string]{
		envKey:       "SERVER_LOG_LEVEL",
		flagKey:      "log-level",
		defaultValue: "INFO",
		usage:        "Logging level",
	}
	startLeadMs = configVar[int]{
		envKey:       "SERVER_START_LEAD_MS",
		flagKey:      "start-lead-ms",
		defaultValue: 150,
		usage:        "Default lead time of a synchronized start",
	}
	switchLeadMs = configVar[int]{
		envKey:       "SERVER_SWITCH_LEAD_MS",
		flagKey:      "switch-lead-ms",
		defaultValue: 100,
		usage:        "Default lead time of a synchronized track switch",
	}
	maxLeadMs = configVar[int]{
		envKey:       "SERVER_MAX_LEAD_MS",
		flagKey:      "max-lead-ms",
		defaultValue: 5000,
		usage:        "Upper bound for requested lead times",
	}
	devicesLimit = configVar[int]{
		envKey:       "SERVER_DEVICES_LIMIT",
		flagKey:      "devices-limit",
		defaultValue: 32,
		usage:        "Maximum number of connected devices",
	}
	sendBuffer = configVar[int]{
		envKey:       "SERVER_SEND_BUFFER",
		flagKey:      "send-buffer",
		defaultValue: 64,
		usage:        "Outgoing frames queued per device before dropping",
	}
	readLimit = configVar[int]{
		envKey:       "SERVER_READ_LIMIT",
		flagKey:      "read-limit",
		defaultValue: 64 << 10,
		usage:        "Maximum inbound frame size in bytes",
	}
	pingPeriod = configVar[time.Duration]{
		envKey:       "SERVER_PING_PERIOD",
		flagKey:      "ping-period",
		defaultValue: 54 * time.Second,
		usage:        "Websocket keepalive ping period",
	}
	rateLimit = configVar[float64]{
		envKey:       "SERVER_RATE_LIMIT",
		flagKey:      "rate-limit",
		defaultValue: 50,
		usage:        "Inbound messages per second allowed per device, 0 disables",
	}
	rateBurst = configVar[int]{
		envKey:       "SERVER_RATE_BURST",
		flagKey:      "rate-burst",
		defaultValue: 100,
		usage:        "Inbound message burst allowed per device",
	}
	redisPort = configVar[int]{
		envKey:       "REDIS_PORT",
		flagKey:      "redis-port",
		defaultValue: 6379,
		usage:        "Redis port",
	}
	redisHost = configVar[string]{
		envKey:       "REDIS_HOST",
		flagKey:      "redis-host",
		defaultValue: "localhost",
		usage:        "Redis host",
	}
	redisPassword = configVar[string]{
		envKey:       "REDIS_PASSWORD",
		flagKey:      "redis-password",
		defaultValue: "",
		usage:        "Redis password",
	}
)

func bind[T any](v configVar[T]) {
	viper.BindEnv(v.flagKey, v.envKey)
	viper.SetDefault(v.flagKey, v.defaultValue)
}

func loadAppConfig() *app.AppConfig {
	pflag.String(secret.flagKey, secret.defaultValue, secret.usage)
	pflag.Int(port.flagKey, port.defaultValue, port.usage)
	pflag.String(host.flagKey, host.defaultValue, host.usage)
	pflag.String(logLevel.flagKey, logLevel.defaultValue, logLevel.usage)
	pflag.Int(startLeadMs.flagKey, startLeadMs.defaultValue, startLeadMs.usage)
	pflag.Int(switchLeadMs.flagKey, switchLeadMs.defaultValue, switchLeadMs.usage)
	pflag.Int(maxLeadMs.flagKey, maxLeadMs.defaultValue, maxLeadMs.usage)
	pflag.Int(devicesLimit.flagKey, devicesLimit.defaultValue, devicesLimit.usage)
	pflag.Int(sendBuffer.flagKey, sendBuffer.defaultValue, sendBuffer.usage)
	pflag.Int(readLimit.flagKey, readLimit.defaultValue, readLimit.usage)
	pflag.Duration(pingPeriod.flagKey, pingPeriod.defaultValue, pingPeriod.usage)
	pflag.Float64(rateLimit.flagKey, rateLimit.defaultValue, rateLimit.usage)
	pflag.Int(rateBurst.flagKey, rateBurst.defaultValue, rateBurst.usage)
	pflag.Int(redisPort.flagKey, redisPort.defaultValue, redisPort.usage)
	pflag.String(redisHost.flagKey, redisHost.defaultValue, redisHost.usage)
	pflag.String(redisPassword.flagKey, redisPassword.defaultValue, redisPassword.usage)
	pflag.Parse()

	viper.BindPFlags(pflag.CommandLine)

	bind(secret)
	bind(port)
	bind(host)
	bind(logLevel)
	bind(startLeadMs)
	bind(switchLeadMs)
	bind(maxLeadMs)
	bind(devicesLimit)
	bind(sendBuffer)
	bind(readLimit)
	bind(pingPeriod)
	bind(rateLimit)
	bind(rateBurst)
	bind(redisPort)
	bind(redisHost)
	bind(redisPassword)

	config := &app.AppConfig{
		Secret:        viper.GetString(secret.flagKey),
		Host:          viper.GetString(host.flagKey),
		Port:          viper.GetInt(port.flagKey),
		LogLevel:      viper.GetString(logLevel.flagKey),
		StartLead:     time.Duration(viper.GetInt(startLeadMs.flagKey)) * time.Millisecond,
		SwitchLead:    time.Duration(viper.GetInt(switchLeadMs.flagKey)) * time.Millisecond,
		MaxLead:       time.Duration(viper.GetInt(maxLeadMs.flagKey)) * time.Millisecond,
		DevicesLimit:  viper.GetInt(devicesLimit.flagKey),
		SendBuffer:    viper.GetInt(sendBuffer.flagKey),
		ReadLimit:     viper.GetInt64(readLimit.flagKey),
		PingPeriod:    viper.GetDuration(pingPeriod.flagKey),
		RateLimit:     viper.GetFloat64(rateLimit.flagKey),
		RateBurst:     viper.GetInt(rateBurst.flagKey),
		RedisPort:     viper.GetInt(redisPort.flagKey),
		RedisHost:     viper.GetString(redisHost.flagKey),
		RedisPassword: viper.GetString(redisPassword.flagKey),
	}

	return config
}

func main() {
	ctx := context.Background()

	appConfig := loadAppConfig()

	jsonConfig, _ := json.MarshalIndent(appConfig, "", "  ")
	fmt.Printf("starting app with config: %s\n", jsonConfig)

	if err := app.Run(ctx, appConfig); err != nil {
		log.Fatal(err)
	}
}
