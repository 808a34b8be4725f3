package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App       AppConfig                 `json:"app" yaml:"app"`
	Gateways  map[string]GatewayConfig  `json:"gateways" yaml:"gateways"`
	Providers map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Memory    MemoryConfig              `json:"memory" yaml:"memory"`
	Database  DatabaseConfig            `json:"database" yaml:"database"`
	Planner   PlannerConfig             `json:"planner" yaml:"planner"`
}

type AppConfig struct {
	Name        string `json:"name" yaml:"name"`
	PromptsDir  string `json:"prompts_dir" yaml:"prompts_dir"`
	MetricsAddr string `json:"metrics_addr,omitempty" yaml:"metrics_addr,omitempty"`
	LLMLogPath  string `json:"llm_log_path,omitempty" yaml:"llm_log_path,omitempty"`
}

type GatewayConfig struct {
	Token   string `json:"token" yaml:"token"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

type MemoryConfig struct {
	Type string `json:"type" yaml:"type"`
	Path string `json:"path" yaml:"path"`
}

// DatabaseConfig selects the backing store the plans run against.
type DatabaseConfig struct {
	// Type is one of sqlite, postgresql, duckdb.
	Type string `json:"type" yaml:"type"`
	// Path is the database file for sqlite and duckdb.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
	// DSN is the connection string for postgresql.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// PlannerConfig bounds plan acquisition and execution.
type PlannerConfig struct {
	MaxAttempts      int      `json:"max_attempts" yaml:"max_attempts"`
	OracleTimeout    Duration `json:"oracle_timeout" yaml:"oracle_timeout"`
	ValidatorTimeout Duration `json:"validator_timeout" yaml:"validator_timeout"`
	StepTimeout      Duration `json:"step_timeout" yaml:"step_timeout"`
	Refine           bool     `json:"refine" yaml:"refine"`
	Synthesize       bool     `json:"synthesize" yaml:"synthesize"`
	// HistoryMessages is how many earlier chat messages the refiner sees.
	HistoryMessages  int      `json:"history_messages" yaml:"history_messages"`
}

// Duration reads "30s"-style strings or integer seconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return d.parse(s)
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("invalid duration %s", string(b))
	}
	d.Duration = time.Duration(secs * float64(time.Second))
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var secs float64
	if node.Tag == "!!int" || node.Tag == "!!float" {
		if err := node.Decode(&secs); err != nil {
			return err
		}
		d.Duration = time.Duration(secs * float64(time.Second))
		return nil
	}
	return d.parse(node.Value)
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

// LoadConfig reads a JSON or YAML (.yaml, .yml) configuration file and applies defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "querypilot"
	}
	if c.App.PromptsDir == "" {
		c.App.PromptsDir = "./prompts"
	}
	if c.App.LLMLogPath == "" {
		c.App.LLMLogPath = filepath.Join("logs", "llm.jsonl")
	}
	if c.Memory.Path == "" {
		c.Memory.Path = "querypilot_history.db"
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	c.Database.Type = strings.ToLower(c.Database.Type)
	if c.Planner.MaxAttempts == 0 {
		c.Planner.MaxAttempts = 3
	}
	if c.Planner.OracleTimeout.Duration == 0 {
		c.Planner.OracleTimeout.Duration = 60 * time.Second
	}
	if c.Planner.ValidatorTimeout.Duration == 0 {
		c.Planner.ValidatorTimeout.Duration = 60 * time.Second
	}
	if c.Planner.StepTimeout.Duration == 0 {
		c.Planner.StepTimeout.Duration = 30 * time.Second
	}
	if c.Planner.HistoryMessages == 0 {
		c.Planner.HistoryMessages = 6
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "sqlite", "duckdb":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for %s", c.Database.Type)
		}
	case "postgresql", "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgresql")
		}
	default:
		return fmt.Errorf("unsupported database type %q", c.Database.Type)
	}
	if c.Planner.MaxAttempts < 1 {
		return fmt.Errorf("planner.max_attempts must be at least 1, got %d", c.Planner.MaxAttempts)
	}
	return nil
}

// GetDefaultProvider returns the first enabled provider, by name.
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

// GetGatewayConfig returns a gateway's config if it is enabled and has a token.
func (c *Config) GetGatewayConfig(name string) (GatewayConfig, bool) {
	g, ok := c.Gateways[name]
	if ok && g.Enabled && g.Token != "" {
		return g, true
	}
	return GatewayConfig{}, false
}
