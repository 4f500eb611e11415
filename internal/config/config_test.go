package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"FEISHU_ACCESS_TOKEN", "FEISHU_APP_ID", "FEISHU_APP_SECRET", "FEISHU_BASE_URL", "FEISHU_LARK", "FEISHU_EXPORT_DIR", "FEISHU_LOG_LEVEL", "FEISHU_CONCURRENCY"} {
		t.Setenv(key, "")
	}
}

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
[feishu]
access_token = "u-file"

[export]
output_dir = "/tmp/out"
table_format = "HTML"
concurrency = 40
max_depth = 2
with_block_ids = true

[http]
timeout = "5s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "u-file", cfg.Feishu.AccessToken)
	assert.Equal(t, FeishuBaseURL, cfg.Feishu.BaseURL)
	assert.Equal(t, "/tmp/out", cfg.Export.OutputDir)
	assert.Equal(t, "html", cfg.Export.TableFormat)
	assert.Equal(t, MaxConcurrency, cfg.Export.Concurrency)
	assert.Equal(t, 2, cfg.Export.MaxDepth)
	assert.True(t, cfg.Export.WithBlockIDs)
	assert.Equal(t, 5*time.Second, cfg.HTTP.Timeout.Duration)
	assert.Equal(t, 3, cfg.HTTP.MaxRetries)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[feishu]
access_token = "u-file"
`)
	clearEnv(t)
	t.Setenv("FEISHU_ACCESS_TOKEN", "u-env")
	t.Setenv("FEISHU_LARK", "true")
	t.Setenv("FEISHU_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "u-env", cfg.Feishu.AccessToken)
	assert.Equal(t, LarkBaseURL, cfg.Feishu.BaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
[export]
tabel_format = "md"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "export.tabel_format")
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Feishu.BaseURL = "ftp://nope"
	cfg.Export.TableFormat = "csv"
	cfg.Export.MaxDepth = -1
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)

	var verrs ValidateErrors
	require.True(t, errors.As(err, &verrs))
	fields := make([]string, 0, len(verrs))
	for _, v := range verrs {
		fields = append(fields, v.Field)
	}
	assert.ElementsMatch(t, []string{"feishu.base_url", "export.table_format", "export.max_depth", "log.level"}, fields)
}

func TestHasCredentials(t *testing.T) {
	assert.False(t, FeishuConfig{}.HasCredentials())
	assert.False(t, FeishuConfig{AppID: "cli_a"}.HasCredentials())
	assert.True(t, FeishuConfig{AppID: "cli_a", AppSecret: "s"}.HasCredentials())
	assert.True(t, FeishuConfig{AccessToken: "u-1"}.HasCredentials())
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}
