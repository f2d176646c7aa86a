package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 14, cfg.Lending.LoanPeriodDays)
	assert.Equal(t, 10.0, cfg.Lending.FinePerDay)
	assert.Equal(t, 5, cfg.Lending.MaxActiveLoans)
	assert.Equal(t, 2, cfg.Lending.MaxRenewals)
	assert.Equal(t, 3, cfg.Lending.ReminderDays)
	assert.Equal(t, time.Hour, cfg.Sweep.OverdueInterval)
	assert.Equal(t, 24*time.Hour, cfg.Sweep.NoticeInterval)
}

func TestLoad_YAMLFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "library.yaml")
	content := `
http:
  addr: ":9090"
lending:
  loan_period_days: 7
  fine_per_day: 5
sweep:
  overdue_interval: 30m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, 7, cfg.Lending.LoanPeriodDays)
	assert.Equal(t, 5.0, cfg.Lending.FinePerDay)
	assert.Equal(t, 30*time.Minute, cfg.Sweep.OverdueInterval)
	assert.Equal(t, 5, cfg.Lending.MaxActiveLoans)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "library.yaml")
	require.NoError(t, os.WriteFile(path, []byte("lending:\n  fine_per_day: 5\n"), 0o600))

	t.Setenv("FINE_PER_DAY", "12.5")
	t.Setenv("PORT", "8181")
	t.Setenv("SWEEP_ENABLED", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 12.5, cfg.Lending.FinePerDay)
	assert.Equal(t, ":8181", cfg.HTTP.Addr)
	assert.False(t, cfg.Sweep.Enabled)
}

func TestLoad_RejectsMalformedEnv(t *testing.T) {
	t.Setenv("LOAN_PERIOD_DAYS", "two weeks")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loan_period_days")
}

func TestLoad_PrefixedEnvReachesEveryKey(t *testing.T) {
	t.Setenv("LIBRARY_LENDING_LOST_BOOK_FEE", "750")
	t.Setenv("LIBRARY_NOTIFY_QUEUE_SIZE", "32")
	t.Setenv("LIBRARY_SWEEP_RUN_TIMEOUT", "90s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 750.0, cfg.Lending.LostBookFee)
	assert.Equal(t, 32, cfg.Notify.QueueSize)
	assert.Equal(t, 90*time.Second, cfg.Sweep.RunTimeout)
}

func TestLoad_RejectsZeroTimeouts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "library.yaml")
	require.NoError(t, os.WriteFile(path, []byte("notify:\n  timeout: 0s\nhttp:\n  shutdown_timeout: 0s\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notify.timeout")
	assert.Contains(t, err.Error(), "http.shutdown_timeout")
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Lending.LoanPeriodDays = 0
	cfg.Lending.FinePerDay = -1
	cfg.Auth.JWTSecret = ""
	cfg.Notify.Timeout = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loan_period_days")
	assert.Contains(t, err.Error(), "fine_per_day")
	assert.Contains(t, err.Error(), "jwt_secret")
	assert.Contains(t, err.Error(), "notify.timeout")
}
