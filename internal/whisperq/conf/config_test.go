package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisperq/whisperq/internal/segment"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:5000", cfg.Addr())
	assert.Equal(t, "large-v3", cfg.DefaultModel)
	assert.Equal(t, int64(500*1024*1024), cfg.MaxContentBytes())
	assert.Equal(t, segment.DefaultWindowSeconds, cfg.WindowSeconds)
	assert.Equal(t, "whispercpp", cfg.Speech.Provider)
	assert.True(t, cfg.IsSupportedModel("base"))
	assert.False(t, cfg.IsSupportedModel("turbo"))
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 8080
default_model: base
window_seconds: 45
merge_lead_words: 12
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "base", cfg.DefaultModel)
	assert.Equal(t, 45.0, cfg.WindowSeconds)
	assert.Equal(t, 12, cfg.MergePolicy().LeadWords)
	assert.Equal(t, 5, cfg.MergePolicy().FinalLeadWords)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("WHISPERQ_PORT", "9999")
	t.Setenv("WHISPERQ_DEFAULT_MODEL", "small")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, "small", cfg.DefaultModel)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Port = 0
	assert.ErrorContains(t, cfg.Validate(), "port")

	cfg = base()
	cfg.MaxContentMB = 0
	assert.ErrorContains(t, cfg.Validate(), "max_content_mb")

	cfg = base()
	cfg.DefaultModel = "unknown"
	assert.ErrorContains(t, cfg.Validate(), "default_model")

	cfg = base()
	cfg.SupportedModels = nil
	assert.ErrorContains(t, cfg.Validate(), "supported_models")

	cfg = base()
	cfg.OverlapSeconds = cfg.WindowSeconds
	assert.ErrorContains(t, cfg.Validate(), "overlap_seconds")

	cfg = base()
	cfg.Speech.Provider = "openai"
	assert.ErrorContains(t, cfg.Validate(), "api_key")
	cfg.Speech.APIKey = "sk-test"
	assert.NoError(t, cfg.Validate())

	cfg = base()
	cfg.Speech.Provider = "azure"
	assert.ErrorContains(t, cfg.Validate(), "unsupported speech provider")
}

func TestPlannerGeometry(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	planner := cfg.Planner()
	windows := planner.Plan(75)
	require.Len(t, windows, 3)
	assert.Equal(t, 28.0, windows[1].Start)
}
