// Package config loads exporter settings from a TOML file and the
// environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	FeishuBaseURL = "https://open.feishu.cn"
	LarkBaseURL   = "https://open.larksuite.com"

	MaxConcurrency = 8
)

// Config is the full exporter configuration.
type Config struct {
	Feishu FeishuConfig `toml:"feishu"`
	Export ExportConfig `toml:"export"`
	Rate   RateConfig   `toml:"rate"`
	HTTP   HTTPConfig   `toml:"http"`
	Log    LogConfig    `toml:"log"`
}

// FeishuConfig selects the API host and credentials. AccessToken (a user or
// tenant token) wins over AppID/AppSecret, which mint tenant tokens.
type FeishuConfig struct {
	BaseURL     string `toml:"base_url"`
	Lark        bool   `toml:"lark"`
	AccessToken string `toml:"access_token"`
	AppID       string `toml:"app_id"`
	AppSecret   string `toml:"app_secret"`
}

// HasCredentials reports whether any way to authenticate is configured.
func (f FeishuConfig) HasCredentials() bool {
	return f.AccessToken != "" || (f.AppID != "" && f.AppSecret != "")
}

type ExportConfig struct {
	OutputDir        string `toml:"output_dir"`
	TableFormat      string `toml:"table_format"`
	Concurrency      int    `toml:"concurrency"`
	MaxDepth         int    `toml:"max_depth"`
	FrontMatter      bool   `toml:"front_matter"`
	WithBlockIDs     bool   `toml:"with_block_ids"`
	FilenameEscaping string `toml:"filename_escaping"`
	Prettier         bool   `toml:"prettier"`
}

type RateConfig struct {
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

type HTTPConfig struct {
	Timeout    Duration `toml:"timeout"`
	MaxRetries int      `toml:"max_retries"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Duration decodes TOML strings such as "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Feishu: FeishuConfig{
			BaseURL: FeishuBaseURL,
		},
		Export: ExportConfig{
			OutputDir:        ".",
			TableFormat:      "md",
			Concurrency:      3,
			FilenameEscaping: "auto",
		},
		Rate: RateConfig{
			RequestsPerSecond: 5,
			Burst:             5,
		},
		HTTP: HTTPConfig{
			Timeout:    Duration{30 * time.Second},
			MaxRetries: 3,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Path returns the default config file location.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "feishu-to-markdown", "config.toml"), nil
}

// Load reads path, or the default location when path is empty. A missing
// default file is not an error; a missing explicit file is. Environment
// overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		p, err := Path()
		if err == nil {
			path = p
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := LoadTOML(cfg, path); err != nil {
				return nil, err
			}
		} else if explicit {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes the file at path over cfg.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("decode %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

func (c *Config) fillDefaults() {
	defaults := Default()
	if strings.TrimSpace(c.Feishu.BaseURL) == "" {
		c.Feishu.BaseURL = defaults.Feishu.BaseURL
	}
	if c.Feishu.Lark && c.Feishu.BaseURL == FeishuBaseURL {
		c.Feishu.BaseURL = LarkBaseURL
	}
	c.Feishu.BaseURL = strings.TrimRight(c.Feishu.BaseURL, "/")
	if c.Export.OutputDir == "" {
		c.Export.OutputDir = defaults.Export.OutputDir
	}
	if c.Export.TableFormat == "" {
		c.Export.TableFormat = defaults.Export.TableFormat
	}
	c.Export.TableFormat = strings.ToLower(strings.TrimSpace(c.Export.TableFormat))
	if c.Export.Concurrency <= 0 {
		c.Export.Concurrency = defaults.Export.Concurrency
	}
	if c.Export.Concurrency > MaxConcurrency {
		c.Export.Concurrency = MaxConcurrency
	}
	if c.Export.FilenameEscaping == "" {
		c.Export.FilenameEscaping = defaults.Export.FilenameEscaping
	}
	if c.Rate.RequestsPerSecond <= 0 {
		c.Rate.RequestsPerSecond = defaults.Rate.RequestsPerSecond
	}
	if c.Rate.Burst <= 0 {
		c.Rate.Burst = defaults.Rate.Burst
	}
	if c.HTTP.Timeout.Duration <= 0 {
		c.HTTP.Timeout = defaults.HTTP.Timeout
	}
	if c.HTTP.MaxRetries < 0 {
		c.HTTP.MaxRetries = 0
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
}

// ApplyEnvOverrides applies FEISHU_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if token := os.Getenv("FEISHU_ACCESS_TOKEN"); token != "" {
		c.Feishu.AccessToken = token
	}
	if id := os.Getenv("FEISHU_APP_ID"); id != "" {
		c.Feishu.AppID = id
	}
	if secret := os.Getenv("FEISHU_APP_SECRET"); secret != "" {
		c.Feishu.AppSecret = secret
	}
	if base := os.Getenv("FEISHU_BASE_URL"); base != "" {
		c.Feishu.BaseURL = base
	}
	if lark := os.Getenv("FEISHU_LARK"); lark != "" {
		c.Feishu.Lark = parseBool(lark)
	}
	if dir := os.Getenv("FEISHU_EXPORT_DIR"); dir != "" {
		c.Export.OutputDir = dir
	}
	if level := os.Getenv("FEISHU_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if n := os.Getenv("FEISHU_CONCURRENCY"); n != "" {
		if v, err := strconv.Atoi(n); err == nil {
			c.Export.Concurrency = v
		}
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "1" || s == "true" || s == "yes"
}

// ValidationError is one invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors collects every invalid setting.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns ValidateErrors when any
// setting is out of range.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if !strings.HasPrefix(c.Feishu.BaseURL, "https://") && !strings.HasPrefix(c.Feishu.BaseURL, "http://") {
		errs = append(errs, ValidationError{Field: "feishu.base_url", Message: fmt.Sprintf("invalid url %q", c.Feishu.BaseURL)})
	}
	switch c.Export.TableFormat {
	case "md", "html":
	default:
		errs = append(errs, ValidationError{Field: "export.table_format", Message: fmt.Sprintf("invalid format %q, must be one of: md, html", c.Export.TableFormat)})
	}
	switch strings.ToLower(c.Export.FilenameEscaping) {
	case "auto", "posix", "windows":
	default:
		errs = append(errs, ValidationError{Field: "export.filename_escaping", Message: fmt.Sprintf("invalid mode %q, must be one of: auto, posix, windows", c.Export.FilenameEscaping)})
	}
	if c.Export.MaxDepth < 0 {
		errs = append(errs, ValidationError{Field: "export.max_depth", Message: "must not be negative"})
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{Field: "log.level", Message: fmt.Sprintf("invalid level %q", c.Log.Level)})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
