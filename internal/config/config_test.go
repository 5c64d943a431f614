package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644), "无法写入临时配置文件")
	return path
}

// TestLoadConfigOverridesDefaults 验证 YAML 中的值覆盖默认值，未出现的字段保留默认值
func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
pipeline:
  workers: 8
  initial_backoff: "2s"
rabbitmq:
  prefetch_count: 20
providers:
  - name: openai
    model: gpt-4o-mini
    max_input_chars: 6000
    default_confidence: 80
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8, cfg.Pipeline.Workers)
	assert.Equal(t, "2s", cfg.Pipeline.InitialBackoff)
	assert.Equal(t, "10s", cfg.Pipeline.MaxBackoff, "未配置的字段应保留默认值")
	assert.Equal(t, 50, cfg.Pipeline.MinTextLength)
	assert.Equal(t, 3, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, 20, cfg.RabbitMQ.PrefetchCount)

	require.Len(t, cfg.Providers, 1, "providers 列表应被整体替换")
	p := cfg.Providers[0]
	assert.Equal(t, VendorOpenAICompatible, p.Vendor, "vendor 缺省为 openai_compatible")
	assert.Equal(t, 6000, p.MaxInputChars)
	require.NotNil(t, p.DefaultConfidence)
	assert.Equal(t, 80.0, *p.DefaultConfidence)
	assert.Equal(t, "60s", p.Timeout)
}

// TestLoadConfigDefaultChain 验证不提供文件时使用默认供应商链
func TestLoadConfigDefaultChain(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	require.Len(t, cfg.Providers, 3)
	assert.Equal(t, "llama-3.1-8b-instant", cfg.Providers[0].Model)
	assert.Equal(t, 4000, cfg.Providers[0].MaxInputChars)
	assert.Equal(t, "gpt-4o-mini", cfg.Providers[2].Model)
	assert.Equal(t, 6000, cfg.Providers[2].MaxInputChars)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	for _, p := range cfg.Providers {
		assert.Equal(t, DefaultMaxTokens, p.MaxTokens)
	}
}

// TestLoadConfigDefaultConfidence 验证缺省时补 90，显式配置的 0 保留
func TestLoadConfigDefaultConfidence(t *testing.T) {
	path := writeConfig(t, `
providers:
  - name: groq
    model: llama-3.1-8b-instant
    max_input_chars: 4000
    default_confidence: 0
  - name: openai
    model: gpt-4o-mini
    max_input_chars: 6000
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 2)

	require.NotNil(t, cfg.Providers[0].DefaultConfidence)
	assert.Equal(t, 0.0, *cfg.Providers[0].DefaultConfidence)
	require.NotNil(t, cfg.Providers[1].DefaultConfidence)
	assert.Equal(t, 90.0, *cfg.Providers[1].DefaultConfidence)
}

// TestLoadConfigProviderKeyFromEnv 验证 api_key_env 指向的环境变量被读取
func TestLoadConfigProviderKeyFromEnv(t *testing.T) {
	t.Setenv("TEST_PROVIDER_KEY", "sk-test")
	t.Setenv("API_KEY", "intake-key")

	path := writeConfig(t, `
providers:
  - name: groq
    model: llama-3.1-8b-instant
    api_key_env: TEST_PROVIDER_KEY
    max_input_chars: 4000
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.Providers[0].APIKey)
	assert.Equal(t, "intake-key", cfg.Server.APIKey)
}

// TestLoadConfigValidation 验证非法配置被拒绝
func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "置信度超出范围",
			content: `
providers:
  - name: groq
    model: m
    default_confidence: 150
`,
		},
		{
			name: "未知的供应商类型",
			content: `
providers:
  - name: x
    vendor: carrier-pigeon
    model: m
`,
		},
		{
			name: "未知的数据库驱动",
			content: `
database:
  driver: oracle
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "配置文件不存在")
}

func TestCreateSampleConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.yaml")
	require.NoError(t, CreateSampleConfig(path))
	assert.Error(t, CreateSampleConfig(path), "已存在的文件不应被覆盖")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Providers, 3)
}

func TestGetDuration(t *testing.T) {
	assert.Equal(t, 2*time.Second, GetDuration("2s", time.Second))
	assert.Equal(t, time.Second, GetDuration("", time.Second))
	assert.Equal(t, time.Second, GetDuration("garbage", time.Second))
}
