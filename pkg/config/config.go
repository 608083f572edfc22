package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

type Config struct {
	App       AppConfig                 `json:"app" yaml:"app"`
	Gateways  map[string]GatewayConfig  `json:"gateways" yaml:"gateways"`
	Providers map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Memory    MemoryConfig              `json:"memory" yaml:"memory"`
	Security  SecurityConfig            `json:"security" yaml:"security"`
	Apps      map[string]string         `json:"apps" yaml:"apps"`
	Search    SearchConfig              `json:"search" yaml:"search"`
	Log       LogConfig                 `json:"log" yaml:"log"`
	Input     InputConfig               `json:"input" yaml:"input"`
	Launcher  LauncherConfig            `json:"launcher" yaml:"launcher"`
}

type AppConfig struct {
	Name      string `json:"name" yaml:"name"`
	Workspace string `json:"workspace" yaml:"workspace"`
	Prompts   string `json:"prompts" yaml:"prompts"`
}

type GatewayConfig struct {
	Token     string   `json:"token" yaml:"token"`
	Addr      string   `json:"addr,omitempty" yaml:"addr,omitempty"`
	// AllowFrom lists chat or user IDs that may issue commands. Empty allows all.
	AllowFrom []string `json:"allow_from,omitempty" yaml:"allow_from,omitempty"`
	Enabled   bool     `json:"enabled" yaml:"enabled"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

type MemoryConfig struct {
	Type string `json:"type" yaml:"type"` // sqlite | memory
	Path string `json:"path" yaml:"path"`
}

// SecurityConfig is the raw form of the guardrail policy. Empty lists mean
// no restriction on that dimension.
type SecurityConfig struct {
	AllowedApps     []string `json:"allowed_apps" yaml:"allowed_apps"`
	AllowedDomains  []string `json:"allowed_domains" yaml:"allowed_domains"`
	RequireApproval bool     `json:"require_approval" yaml:"require_approval"`
	DeniedPatterns  []string `json:"denied_patterns" yaml:"denied_patterns"`
	// KillSwitchKey is the command text that cancels every running workflow.
	KillSwitchKey   string   `json:"kill_switch_key" yaml:"kill_switch_key"`
	// StrictParse extracts the first balanced JSON object from model output
	// instead of the span between the first '{' and the last '}'.
	StrictParse     bool     `json:"strict_parse" yaml:"strict_parse"`
}

type SearchConfig struct {
	// URLTemplate must contain exactly one %s, replaced by the escaped query.
	URLTemplate string `json:"url_template" yaml:"url_template"`
}

type LogConfig struct {
	Level      string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format     string `json:"format" yaml:"format"` // json, console
	LLMLogPath string `json:"llm_log_path" yaml:"llm_log_path"`
}

type InputConfig struct {
	Backend string `json:"backend" yaml:"backend"` // xdotool | none
}

type LauncherConfig struct {
	Browser  string `json:"browser" yaml:"browser"` // system | chromedp
	StripExe bool   `json:"strip_exe" yaml:"strip_exe"`
}

var knownProviders = map[string]bool{
	"openai":     true,
	"openrouter": true,
	"ollama":     true,
}

// Default returns a config that runs against a local Ollama model with an
// open policy and an on-disk audit database.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:      "handsfree",
			Workspace: ".",
			Prompts:   "./prompts",
		},
		Gateways: map[string]GatewayConfig{},
		Providers: map[string]ProviderConfig{
			"ollama": {
				Model:   "llama3.2",
				BaseURL: "http://localhost:11434",
				Enabled: true,
			},
		},
		Memory: MemoryConfig{
			Type: "sqlite",
			Path: "handsfree.db",
		},
		Security: SecurityConfig{
			KillSwitchKey: "/stop",
		},
		Apps: map[string]string{},
		Search: SearchConfig{
			URLTemplate: "https://www.google.com/search?q=%s",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			LLMLogPath: filepath.Join("logs", "llm.jsonl"),
		},
		Input: InputConfig{
			Backend: "xdotool",
		},
		Launcher: LauncherConfig{
			Browser:  "system",
			StripExe: true,
		},
	}
}

// Load reads the config file at path. JSON is the default format; files
// ending in .yaml or .yml are decoded as YAML. An empty path or a missing
// file yields Default(). Values from a .env file in the working directory
// and HANDSFREE_* variables override secrets from the file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := decode(path, data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	overrideFromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

func overrideFromEnv(c *Config) {
	if v := os.Getenv("HANDSFREE_LLM_API_KEY"); v != "" {
		for name, p := range c.Providers {
			if p.Enabled {
				p.APIKey = v
				c.Providers[name] = p
			}
		}
	}
	if v := os.Getenv("HANDSFREE_TELEGRAM_TOKEN"); v != "" {
		c.setGatewayToken("telegram", v)
	}
	if v := os.Getenv("HANDSFREE_DISCORD_TOKEN"); v != "" {
		c.setGatewayToken("discord", v)
	}
}

func (c *Config) setGatewayToken(name, token string) {
	if c.Gateways == nil {
		c.Gateways = map[string]GatewayConfig{}
	}
	g := c.Gateways[name]
	g.Token = token
	c.Gateways[name] = g
}

// Validate checks the fields that would otherwise fail late at dispatch time.
func (c *Config) Validate() error {
	for name := range c.Providers {
		if !knownProviders[name] {
			return fmt.Errorf("%w: unknown provider %q", ErrInvalid, name)
		}
	}
	if t := c.Search.URLTemplate; t != "" && strings.Count(t, "%s") != 1 {
		return fmt.Errorf("%w: search.url_template must contain exactly one %%s", ErrInvalid)
	}
	switch c.Input.Backend {
	case "", "xdotool", "none":
	default:
		return fmt.Errorf("%w: unknown input backend %q", ErrInvalid, c.Input.Backend)
	}
	switch c.Launcher.Browser {
	case "", "system", "chromedp":
	default:
		return fmt.Errorf("%w: unknown browser launcher %q", ErrInvalid, c.Launcher.Browser)
	}
	for alias, exe := range c.Apps {
		if strings.TrimSpace(alias) == "" || strings.TrimSpace(exe) == "" {
			return fmt.Errorf("%w: empty app alias entry %q=%q", ErrInvalid, alias, exe)
		}
	}
	return nil
}

// GetDefaultProvider returns the first enabled provider in name order.
func (c *Config) GetDefaultProvider() (string, ProviderConfig) {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if p := c.Providers[name]; p.Enabled {
			return name, p
		}
	}
	return "", ProviderConfig{}
}

// GetGatewayConfig returns the named gateway config if it is enabled.
func (c *Config) GetGatewayConfig(name string) (GatewayConfig, bool) {
	g, ok := c.Gateways[name]
	if ok && g.Enabled {
		return g, true
	}
	return GatewayConfig{}, false
}
