package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
cache:
  backend: memory
compressor:
  endpoint: https://api.anthropic.com/v1/messages
  api_key: test-key
  model: test-model
`

func TestLoadFromBytesAppliesDefaults(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 4, cfg.Scheduler.Workers)
	assert.Equal(t, 60*time.Second, cfg.Scheduler.CallTimeout)
	assert.Equal(t, 5, cfg.Combat.KeepRecent)
	assert.Equal(t, 200, cfg.Structural.MaxStringLength)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestEnvExpansion(t *testing.T) {
	t.Setenv("TEST_DM_KEY", "from-env")

	yaml := `
cache:
  backend: ${TEST_CACHE_BACKEND:-memory}
compressor:
  endpoint: https://api.anthropic.com/v1/messages
  api_key: ${TEST_DM_KEY}
  model: ${TEST_DM_MODEL:-fallback-model}
`
	cfg, err := LoadFromBytes([]byte(yaml))
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Cache.Backend, "unset variable uses the default")
	assert.Equal(t, "from-env", cfg.Compressor.APIKey)
	assert.Equal(t, "fallback-model", cfg.Compressor.Model)
}

func TestEnvOverridesDefault(t *testing.T) {
	t.Setenv("TEST_CACHE_BACKEND2", "memory")

	yaml := `
cache:
  backend: ${TEST_CACHE_BACKEND2:-file}
compressor:
  endpoint: e
  api_key: k
  model: m
`
	cfg, err := LoadFromBytes([]byte(yaml))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Cache.Backend)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "unknown cache backend",
			yaml: `
cache:
  backend: redis
compressor: {endpoint: e, api_key: k, model: m}
`,
			wantErr: "cache.backend",
		},
		{
			name: "file backend without path",
			yaml: `
cache:
  backend: file
compressor: {endpoint: e, api_key: k, model: m}
`,
			wantErr: "cache.path",
		},
		{
			name: "missing endpoint",
			yaml: `
cache: {backend: memory}
compressor: {api_key: k, model: m}
`,
			wantErr: "compressor.endpoint",
		},
		{
			name: "missing api key",
			yaml: `
cache: {backend: memory}
compressor: {endpoint: e, model: m}
`,
			wantErr: "compressor.api_key",
		},
		{
			name: "negative workers",
			yaml: `
cache: {backend: memory}
compressor: {endpoint: e, api_key: k, model: m}
scheduler: {workers: -2}
`,
			wantErr: "scheduler.workers",
		},
		{
			name: "half-configured system swap",
			yaml: `
cache: {backend: memory}
compressor: {endpoint: e, api_key: k, model: m}
system_swap: {opening_phrase: "You are the Dungeon Master"}
`,
			wantErr: "system_swap",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBedrockNeedsNoAPIKey(t *testing.T) {
	yaml := `
cache: {backend: memory}
compressor:
  provider: bedrock
  endpoint: https://bedrock-runtime.us-east-1.amazonaws.com/model/m/invoke
  model: m
`
	_, err := LoadFromBytes([]byte(yaml))
	assert.NoError(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	assert.Error(t, err)

	_, err = Load("")
	assert.Error(t, err)
}
