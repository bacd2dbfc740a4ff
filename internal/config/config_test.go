package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GmsLightVision/Gms-Trader/internal/config"
	"github.com/GmsLightVision/Gms-Trader/internal/domain"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults_ValidWithToken(t *testing.T) {
	cfg := config.Defaults()
	cfg.Deriv.APIToken = "tok"
	require.NoError(t, cfg.Validate())

	st := cfg.Trading.Staking()
	assert.Equal(t, "R_50", st.Symbol)
	assert.Equal(t, 4, st.Barrier)
	assert.Equal(t, domain.ContractDigitUnder, st.ContractType)
	assert.Equal(t, 2*time.Second, st.Cooldown)
	assert.InDelta(t, 2.2, st.MartingaleFactor, 1e-9)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "paper"
	cfg.Trading.Prediction = 12
	cfg.Trading.InitialStake = 0
	cfg.Storage.Driver = "mongo"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "paper"`)
	assert.Contains(t, msg, "either api_token or encrypted_token_path")
	assert.Contains(t, msg, "trading: prediction must be a digit 0-9")
	assert.Contains(t, msg, "trading: initial_stake must be positive")
	assert.Contains(t, msg, `unknown driver "mongo"`)
}

func TestValidate_EncryptedTokenNeedsPassword(t *testing.T) {
	cfg := config.Defaults()
	cfg.Deriv.EncryptedTokenPath = "token.enc"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token_password is required")
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "gms.toml", `
mode = "server"

[deriv]
app_id = "4242"
api_token = "from-file"
request_timeout = "3s"

[trading]
market = "R_100"
prediction = 5
contract_type = "digitover"
cooldown = "500ms"

[session]
poll_interval = "250ms"
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, "4242", cfg.Deriv.AppID)
	assert.Equal(t, 3*time.Second, cfg.Deriv.RequestTimeout.Duration)
	assert.Equal(t, 250*time.Millisecond, cfg.Session.PollInterval.Duration)

	st := cfg.Trading.Staking()
	assert.Equal(t, "R_100", st.Symbol)
	assert.Equal(t, 5, st.Barrier)
	assert.Equal(t, domain.ContractDigitOver, st.ContractType)
	assert.Equal(t, 500*time.Millisecond, st.Cooldown)
	// Untouched keys keep their defaults.
	assert.InDelta(t, 0.35, st.InitialStake, 1e-9)
	require.NoError(t, cfg.Validate())
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "gms.yaml", `
deriv:
  api_token: yaml-token
  reconnect_base: 1s
trading:
  initial_stake: 1.5
  stop_loss: 50
storage:
  driver: sqlite
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "yaml-token", cfg.Deriv.APIToken)
	assert.Equal(t, time.Second, cfg.Deriv.ReconnectBase.Duration)
	assert.InDelta(t, 1.5, cfg.Trading.InitialStake, 1e-9)
	assert.InDelta(t, 50, cfg.Trading.StopLoss, 1e-9)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	require.NoError(t, cfg.Validate())
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	path := writeFile(t, "gms.ini", "mode=trade")
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GMSTRADER_DERIV_API_TOKEN", "env-token")
	t.Setenv("GMSTRADER_TRADING_MARTINGALE_FACTOR", "3.1")
	t.Setenv("GMSTRADER_SESSION_POLL_INTERVAL", "2s")
	t.Setenv("GMSTRADER_NOTIFY_EVENTS", "stop_loss, ,target_reached")
	t.Setenv("GMSTRADER_REDIS_ENABLED", "true")
	t.Setenv("GMSTRADER_SERVER_PORT", "not-a-number")
	t.Setenv("PORT", "")
	t.Setenv("DERIV_API_TOKEN", "")

	path := writeFile(t, "gms.toml", "[deriv]\napi_token = \"file-token\"\n")
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.Deriv.APIToken)
	assert.InDelta(t, 3.1, cfg.Trading.MartingaleFactor, 1e-9)
	assert.Equal(t, 2*time.Second, cfg.Session.PollInterval.Duration)
	assert.Equal(t, []string{"stop_loss", "target_reached"}, cfg.Notify.Events)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 3000, cfg.Server.Port, "unparsable values are ignored")
}

func TestRedactedConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Deriv.APIToken = "secret-token"
	cfg.Server.APIKey = "key"
	cfg.S3.SecretKey = "s3"
	cfg.Notify.Events = []string{"stop_loss"}

	out := config.RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Deriv.APIToken)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "", out.Redis.Password, "empty secrets stay empty")

	out.Notify.Events[0] = "changed"
	assert.Equal(t, "secret-token", cfg.Deriv.APIToken)
	assert.Equal(t, "stop_loss", cfg.Notify.Events[0])
}
