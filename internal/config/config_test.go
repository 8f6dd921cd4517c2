package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serviceConfig "github.com/iurnickita/ifgmart/internal/service/config"
)

func env(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func TestParseDefaults(t *testing.T) {
	cfg, err := parse(nil, env(nil))
	require.NoError(t, err)

	assert.Equal(t, "localhost:8080", cfg.Handler.ServerAddr)
	assert.Empty(t, cfg.Store.DBDsn)
	assert.Equal(t, "info", cfg.Logger.LogLevel)
	assert.Equal(t, 10000, cfg.Service.StartingGrant)
	assert.Equal(t, serviceConfig.PurchaseModeAtomic, cfg.Service.PurchaseMode)
	assert.Equal(t, "ifgmart", cfg.Telemetry.ServiceName)
}

func TestParseEnvOverridesFlags(t *testing.T) {
	cfg, err := parse(
		[]string{"-a", ":9000", "-m", "saga", "-g", "500", "-s", "flag-secret"},
		env(map[string]string{
			"RUN_ADDRESS":    ":9100",
			"STARTING_GRANT": "700",
			"REDIS_ADDRESS":  "localhost:6379",
		}),
	)
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Handler.ServerAddr)
	assert.Equal(t, 700, cfg.Service.StartingGrant)
	assert.Equal(t, serviceConfig.PurchaseModeSaga, cfg.Service.PurchaseMode)
	assert.Equal(t, "flag-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, "localhost:6379", cfg.Notify.RedisAddr)
}

func TestParseInvalid(t *testing.T) {
	_, err := parse([]string{"-m", "eventual"}, env(nil))
	assert.Error(t, err)

	_, err = parse(nil, env(map[string]string{"STARTING_GRANT": "lots"}))
	assert.Error(t, err)
}
