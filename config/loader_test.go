package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "chromem", cfg.Index.Backend)
	assert.Equal(t, 15, cfg.Retrieval.TopK)
	assert.Equal(t, 0.95, cfg.Dedup.Threshold)
	assert.Equal(t, 0.7, cfg.Extraction.ConfidenceFloor)
	assert.InDelta(t, 1.0, cfg.Retrieval.Weights.Sum(), 0.001)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
database:
  driver: postgres
  dsn: "host=db user=memflow dbname=memflow"
redis:
  addr: "redis:6379"
retrieval:
  top_k: 10
  token_budget: 1500
extraction:
  history_window: 5
reconciler:
  interval: 30s
`)

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 10, cfg.Retrieval.TopK)
	assert.Equal(t, 1500, cfg.Retrieval.TokenBudget)
	assert.Equal(t, 5, cfg.Extraction.HistoryWindow)
	assert.Equal(t, 30*time.Second, cfg.Reconciler.Interval)

	// Untouched sections keep their defaults.
	assert.Equal(t, 50, cfg.Retrieval.TopM)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeConfigFile(t, "database:\n  driver: postgres\n")

	t.Setenv("MEMFLOW_DATABASE_DRIVER", "mysql")
	t.Setenv("MEMFLOW_LLM_API_KEY", "sk-test")
	t.Setenv("MEMFLOW_DEDUP_SAME_TYPE_ONLY", "true")
	t.Setenv("MEMFLOW_COORDINATOR_PROFILE_TTL", "90s")
	t.Setenv("MEMFLOW_LOG_OUTPUT_PATHS", "stdout, /var/log/memflow.log")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.True(t, cfg.Dedup.SameTypeOnly)
	assert.Equal(t, 90*time.Second, cfg.Coordinator.ProfileTTL)
	assert.Equal(t, []string{"stdout", "/var/log/memflow.log"}, cfg.Log.OutputPaths)
}

func TestLoad_EnvReachesNestedWeights(t *testing.T) {
	t.Setenv("MEMFLOW_RETRIEVAL_WEIGHTS_SIMILARITY", "0.40")
	t.Setenv("MEMFLOW_RETRIEVAL_WEIGHTS_IMPORTANCE", "0.20")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 0.40, cfg.Retrieval.Weights.Similarity)
	assert.Equal(t, 0.20, cfg.Retrieval.Weights.Importance)
	assert.InDelta(t, 1.0, cfg.Retrieval.Weights.Sum(), 0.001)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/memflow.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "database: [not a mapping")
	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
}

func TestLoad_RejectsBadWeightSum(t *testing.T) {
	path := writeConfigFile(t, `
retrieval:
  weights:
    similarity: 0.9
    importance: 0.9
`)
	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retrieval.weights")
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	t.Setenv("MEMFLOW_DATABASE_DRIVER", "oracle")
	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.driver")
}

func TestLoad_RejectsBadDedupThreshold(t *testing.T) {
	t.Setenv("MEMFLOW_DEDUP_THRESHOLD", "1.5")
	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dedup.threshold")
}

func TestLoad_CustomValidator(t *testing.T) {
	called := false
	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			called = true
			return nil
		}).
		Load()
	require.NoError(t, err)
	assert.True(t, called)
}

func TestLoad_CustomEnvPrefix(t *testing.T) {
	t.Setenv("APP_DATABASE_DRIVER", "postgres")
	cfg, err := NewLoader().WithEnvPrefix("APP").Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
}

func TestValidate_TopKLargerThanTopM(t *testing.T) {
	cfg := Default()
	cfg.Retrieval.TopM = 5
	cfg.Retrieval.TopK = 10
	require.Error(t, cfg.Validate())
}

func TestBuildLogger(t *testing.T) {
	cfg := Default()
	logger := cfg.BuildLogger()
	require.NotNil(t, logger)
	logger.Info("config logger smoke test")

	cfg.Log.Format = "console"
	cfg.Log.Level = "debug"
	cfg.Log.EnableCaller = true
	require.NotNil(t, cfg.BuildLogger())
}
