// Package config loads the YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/payback159/cubesatbudget/pkg/databudget"
	"github.com/payback159/cubesatbudget/pkg/linkbudget"
	"github.com/payback159/cubesatbudget/pkg/models"
	"github.com/payback159/cubesatbudget/pkg/passes"
)

// Auth modes.
const (
	AuthAllowAll = "allow_all"
	AuthPassword = "password"
)

type Config struct {
	Server struct {
		Addr            string        `yaml:"addr"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		IdleTimeout     time.Duration `yaml:"idle_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		TrustedProxies  []string      `yaml:"trusted_proxies"`
		CSRFKey         string        `yaml:"csrf_key"`
	} `yaml:"server"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	AutoSave struct {
		Interval time.Duration `yaml:"interval"`
		OnEdit   bool          `yaml:"on_edit"`
	} `yaml:"autosave"`
	Auth struct {
		Mode         string            `yaml:"mode"`
		Users        map[string]string `yaml:"users"`
		JWTSecret    string            `yaml:"jwt_secret"`
		TokenTTL     time.Duration     `yaml:"token_ttl"`
		RequireToken bool              `yaml:"require_token"`
	} `yaml:"auth"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
	Theme   models.Theme                `yaml:"theme"`
	Link    models.LinkBudgetParameters `yaml:"link"`
	Data    models.DataBudgetParameters `yaml:"data"`
	Rules   []databudget.RuleSpec       `yaml:"rules"`
	Station passes.Station              `yaml:"station"`
	Export  struct {
		Dir string `yaml:"dir"`
	} `yaml:"export"`
}

// Default returns a configuration that runs without a file.
func Default() *Config {
	c := &Config{}
	c.Server.Addr = "127.0.0.1:8080"
	c.Server.ReadTimeout = 15 * time.Second
	c.Server.WriteTimeout = 30 * time.Second
	c.Server.IdleTimeout = 60 * time.Second
	c.Server.ShutdownTimeout = 10 * time.Second
	c.Database.Path = "cubesatbudget.db"
	c.AutoSave.Interval = 30 * time.Second
	c.AutoSave.OnEdit = false
	c.Auth.Mode = AuthAllowAll
	c.Auth.TokenTTL = 12 * time.Hour
	c.Logging.Level = "info"
	c.Logging.Format = "json"
	c.Theme = models.ThemeLight
	c.Link = models.DefaultLinkParameters()
	c.Data = models.DefaultDataParameters()
	c.Rules = databudget.DefaultRuleSpecs()
	c.Export.Dir = "."
	return c
}

// Load overlays the YAML file at filePath on Default and validates the result.
func Load(filePath string) (*Config, error) {
	config := Default()
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filePath, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}
	return config, nil
}

// LoadOrDefault loads filePath, falling back to Default when it does not exist.
func LoadOrDefault(filePath string) (*Config, error) {
	if filePath == "" {
		return Default(), nil
	}
	c, err := Load(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return c, err
}

// Validate rejects configurations the application cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("server.addr is required")
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database.path is required")
	}
	if c.AutoSave.Interval < 0 {
		return fmt.Errorf("autosave.interval must not be negative, got %s", c.AutoSave.Interval)
	}
	switch c.Auth.Mode {
	case AuthAllowAll:
	case AuthPassword:
		if len(c.Auth.Users) == 0 {
			return errors.New("auth.users is required in password mode")
		}
	default:
		return fmt.Errorf("auth.mode must be %q or %q, got %q", AuthAllowAll, AuthPassword, c.Auth.Mode)
	}
	if c.Auth.RequireToken && len(c.Auth.JWTSecret) < 32 {
		return errors.New("auth.jwt_secret must be at least 32 bytes when auth.require_token is set")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive, got %s", c.Auth.TokenTTL)
	}
	if c.Server.CSRFKey != "" && len(c.Server.CSRFKey) != 32 {
		return errors.New("server.csrf_key must be 32 bytes")
	}
	if !c.Theme.Valid() {
		return fmt.Errorf("theme must be %q or %q, got %q", models.ThemeLight, models.ThemeDark, c.Theme)
	}
	if err := linkbudget.Validate(c.Link); err != nil {
		return fmt.Errorf("link: %w", err)
	}
	if err := databudget.Validate(c.Data); err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := databudget.CompileRules(c.Rules); err != nil {
		return fmt.Errorf("rules: %w", err)
	}
	return nil
}

// CompiledRules returns the configured recommendation rules. Validate must
// have passed.
func (c *Config) CompiledRules() []databudget.Rule {
	rules, err := databudget.CompileRules(c.Rules)
	if err != nil {
		return databudget.DefaultRules()
	}
	return rules
}

// IsProduction reports whether ENV=production is set.
func IsProduction() bool {
	return os.Getenv("ENV") == "production"
}
