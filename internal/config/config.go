package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	authConfig "github.com/iurnickita/ifgmart/internal/auth/config"
	handlerConfig "github.com/iurnickita/ifgmart/internal/handler/config"
	loggerConfig "github.com/iurnickita/ifgmart/internal/logger/config"
	"github.com/iurnickita/ifgmart/internal/model"
	notifyConfig "github.com/iurnickita/ifgmart/internal/notify/config"
	serviceConfig "github.com/iurnickita/ifgmart/internal/service/config"
	storeConfig "github.com/iurnickita/ifgmart/internal/store/config"
	telemetryConfig "github.com/iurnickita/ifgmart/internal/telemetry/config"
)

const serviceName = "ifgmart"

type Config struct {
	Handler   handlerConfig.Config
	Service   serviceConfig.Config
	Store     storeConfig.Config
	Logger    loggerConfig.Config
	Auth      authConfig.Config
	Notify    notifyConfig.Config
	Telemetry telemetryConfig.Config
}

// GetConfig читает флаги командной строки. Переменные окружения
// (в том числе из .env) имеют приоритет над флагами
func GetConfig() (Config, error) {
	// .env может отсутствовать
	_ = godotenv.Load()
	return parse(os.Args[1:], os.LookupEnv)
}

func parse(args []string, lookupEnv func(string) (string, bool)) (Config, error) {
	var cfg Config
	fs := flag.NewFlagSet(serviceName, flag.ContinueOnError)

	fs.StringVar(&cfg.Handler.ServerAddr, "a", "localhost:8080", "server address")
	fs.StringVar(&cfg.Store.DBDsn, "d", "", "database dsn, empty for in-memory store")
	fs.StringVar(&cfg.Logger.LogLevel, "l", "info", "log level")
	fs.StringVar(&cfg.Auth.JWTSecret, "s", "", "auth provider jwt secret")
	fs.StringVar(&cfg.Auth.AuthURL, "b", "", "auth provider base url")
	fs.StringVar(&cfg.Auth.AuthAPIKey, "k", "", "auth provider api key")
	fs.StringVar(&cfg.Notify.RedisAddr, "r", "", "redis address for event notifications")
	fs.IntVar(&cfg.Service.StartingGrant, "g", model.DefaultStartingGrant, "starting balance of a new user")
	fs.StringVar(&cfg.Service.PurchaseMode, "m", serviceConfig.PurchaseModeAtomic, "purchase mode: atomic or saga")
	fs.StringVar(&cfg.Telemetry.OTLPEndpoint, "o", "", "otlp http endpoint for traces")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	envs := []struct {
		key string
		dst *string
	}{
		{"RUN_ADDRESS", &cfg.Handler.ServerAddr},
		{"DATABASE_URI", &cfg.Store.DBDsn},
		{"LOG_LEVEL", &cfg.Logger.LogLevel},
		{"JWT_SECRET", &cfg.Auth.JWTSecret},
		{"AUTH_URL", &cfg.Auth.AuthURL},
		{"AUTH_API_KEY", &cfg.Auth.AuthAPIKey},
		{"REDIS_ADDRESS", &cfg.Notify.RedisAddr},
		{"PURCHASE_MODE", &cfg.Service.PurchaseMode},
		{"OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint},
	}
	for _, env := range envs {
		if value, ok := lookupEnv(env.key); ok {
			*env.dst = value
		}
	}
	if value, ok := lookupEnv("STARTING_GRANT"); ok {
		grant, err := strconv.Atoi(value)
		if err != nil || grant < 0 {
			return Config{}, fmt.Errorf("STARTING_GRANT must be a non-negative integer, got %q", value)
		}
		cfg.Service.StartingGrant = grant
	}

	switch cfg.Service.PurchaseMode {
	case serviceConfig.PurchaseModeAtomic, serviceConfig.PurchaseModeSaga:
	default:
		return Config{}, fmt.Errorf("unknown purchase mode %q", cfg.Service.PurchaseMode)
	}
	cfg.Telemetry.ServiceName = serviceName
	return cfg, nil
}
