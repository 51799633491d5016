package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/hscode-copilot/internal/common"
	"github.com/Veraticus/hscode-copilot/internal/model"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, StoreMemory, cfg.Session.Store)
	assert.Equal(t, 2*time.Hour, cfg.Session.IdleTimeout)
	assert.Equal(t, 20, cfg.Search.TopK)
	assert.InDelta(t, 0.6, cfg.Search.Threshold, 1e-9)
	assert.Equal(t, 10*time.Minute, cfg.Search.CacheTTL)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, model.DefaultThresholds(), cfg.Thresholds)
	assert.Equal(t, CallerScripted, cfg.Verification.Caller)
	assert.Equal(t, 2*time.Second, cfg.Verification.PollInterval)
	assert.Equal(t, 300, cfg.Verification.MaxPolls)
	assert.NotContains(t, cfg.Database.Path, "$HOME")

	engineCfg := cfg.Engine()
	assert.Equal(t, 6, engineCfg.Convergence.MaxIterations)
	assert.Equal(t, 3, engineCfg.Alternatives)
	assert.Equal(t, 85, engineCfg.Thresholds.Classified)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
session:
  store: sqlite
search:
  top_k: 10
  threshold: 0.5
classification:
  query_mode: local
  max_iterations: 4
thresholds:
  classified: 90
verification:
  caller: http
  url: http://agent.internal
  outcome: rejected
`), 0o600))
	t.Setenv("HSCODE_SERVER_ADDR", ":9090")
	t.Setenv("HSCODE_LLM_API_KEY", "sk-env")

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "sk-env", cfg.LLM.APIKey)
	assert.Equal(t, StoreSQLite, cfg.Session.Store)
	assert.Equal(t, QueryModeLocal, cfg.Classification.QueryMode)
	assert.Equal(t, 90, cfg.Thresholds.Classified)
	assert.Equal(t, 80, cfg.Thresholds.Verification)

	engineCfg := cfg.Engine()
	assert.Equal(t, 10, engineCfg.TopK)
	assert.InDelta(t, 0.5, engineCfg.Threshold, 1e-9)
	assert.Equal(t, 4, engineCfg.Convergence.MaxIterations)

	assert.Equal(t, "http://agent.internal", cfg.HTTPCaller().BaseURL)
	assert.Equal(t, model.OutcomeRejected, cfg.ScriptedCaller().Outcome)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
	}{
		{name: "log level", key: "logging.level", value: "verbose"},
		{name: "log format", key: "logging.format", value: "xml"},
		{name: "store", key: "session.store", value: "postgres"},
		{name: "query mode", key: "classification.query_mode", value: "magic"},
		{name: "caller", key: "verification.caller", value: "carrier-pigeon"},
		{name: "outcome", key: "verification.outcome", value: "maybe"},
		{name: "top k", key: "search.top_k", value: 0},
		{name: "threshold", key: "search.threshold", value: 1.5},
		{name: "iterations", key: "classification.max_iterations", value: 0},
		{name: "thresholds", key: "thresholds.classified", value: 120},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			v.Set(tt.key, tt.value)

			_, err := Load(v)
			require.Error(t, err)
			assert.ErrorIs(t, err, common.ErrInvalidConfig)
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	t.Setenv("HSCODE_TEST_DIR", "/srv/data")

	assert.Empty(t, ExpandPath(""))
	assert.Equal(t, home, ExpandPath("~"))
	assert.Equal(t, filepath.Join(home, "db", "hscode.db"), ExpandPath("~/db/hscode.db"))
	assert.Equal(t, "/srv/data/hscode.db", ExpandPath("$HSCODE_TEST_DIR/hscode.db"))
	assert.Equal(t, "/abs/path", ExpandPath("/abs/path"))
}
