package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/verifactu-dispatcher/pkg/config"
)

// ──────────────────────────────────────────────────────────────────────────────
// Load
// ──────────────────────────────────────────────────────────────────────────────

func TestLoad_ValoresPorDefecto(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := config.Load()
	require.NoError(t, err)

	v := cfg.Verifactu
	assert.Equal(t, "dev", v.Env)
	assert.Equal(t, 7, v.MaxAttempts)
	assert.Equal(t, "0,1,5,15,60,180,720", v.Backoff)
	assert.Equal(t, 30, v.PollIntervalSeconds)
	assert.Equal(t, 30, v.SubmitTimeoutSeconds)
	assert.Equal(t, 10, v.StaleAfterMinutes)
	assert.Equal(t, 100, v.BatchSize)
	assert.Equal(t, 4, v.Workers)
	assert.Equal(t, "postgres", v.Store)
	assert.Empty(t, v.SeedCSV)
	assert.False(t, v.ShortCircuitPermanent)
	assert.False(t, v.AutoMigrate)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "info", cfg.App.LogLevel)
}

func TestLoad_VariablesDeEntorno(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("VERIFACTU_ENV", "TEST")
	t.Setenv("VERIFACTU_MAX_ATTEMPTS", "3")
	t.Setenv("VERIFACTU_BACKOFF", "0,2,4")
	t.Setenv("VERIFACTU_WORKERS", "8")
	t.Setenv("VERIFACTU_REJECT_RATE", "0.25")
	t.Setenv("VERIFACTU_SHORT_CIRCUIT_PERMANENT", "true")
	t.Setenv("VERIFACTU_STORE", "memory")
	t.Setenv("VERIFACTU_AUTO_MIGRATE", "1")
	t.Setenv("VERIFACTU_SEED_CSV", "/data/facturas.csv")
	t.Setenv("HTTP_PORT", "9090")

	cfg, err := config.Load()
	require.NoError(t, err)

	v := cfg.Verifactu
	assert.Equal(t, "test", v.Env, "el entorno se normaliza a minúsculas")
	assert.Equal(t, 3, v.MaxAttempts)
	assert.Equal(t, "0,2,4", v.Backoff)
	assert.Equal(t, 8, v.Workers)
	assert.InDelta(t, 0.25, v.RejectRate, 1e-9)
	assert.True(t, v.ShortCircuitPermanent)
	assert.Equal(t, "memory", v.Store)
	assert.Equal(t, "/data/facturas.csv", v.SeedCSV)
	assert.True(t, v.AutoMigrate)
	assert.Equal(t, 9090, cfg.HTTP.Port)
}

func TestLoad_StoreInvalido(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("VERIFACTU_STORE", "redis")

	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoad_RejectRateFueraDeRango(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("VERIFACTU_REJECT_RATE", "1.5")

	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoad_StaleDebeSuperarElTimeoutDeEnvio(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("VERIFACTU_STALE_AFTER_MINUTES", "1")
	t.Setenv("VERIFACTU_SUBMIT_TIMEOUT_SECONDS", "60")

	_, err := config.Load()
	require.Error(t, err, "con stale = timeout un envío lento se barrería mientras sigue en vuelo")
	assert.Contains(t, err.Error(), "VERIFACTU_STALE_AFTER_MINUTES")

	t.Setenv("VERIFACTU_SUBMIT_TIMEOUT_SECONDS", "59")
	_, err = config.Load()
	assert.NoError(t, err)
}

func TestLoad_SeedCSVRequiereStoreMemory(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("VERIFACTU_SEED_CSV", "facturas.csv")

	_, err := config.Load()
	assert.Error(t, err)
}

// ──────────────────────────────────────────────────────────────────────────────
// DBConfig
// ──────────────────────────────────────────────────────────────────────────────

func TestDBConfig_ConnectionString(t *testing.T) {
	c := config.DBConfig{Host: "db", Port: 5432, User: "app", Password: "p@ss:word", DBName: "verifactu", SSLMode: "disable"}
	assert.Equal(t, "postgres://app:p%40ss%3Aword@db:5432/verifactu?sslmode=disable", c.ConnectionString())

	c.DatabaseURL = "postgres://x@y/z"
	assert.Equal(t, "postgres://x@y/z", c.ConnectionString(), "DATABASE_URL tiene prioridad")
}
