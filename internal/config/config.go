package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// CustomAttribute represents a user-defined attribute with an expression
type CustomAttribute struct {
	Name       string
	Expression string
}

// EnvConfig holds configuration read from POSTFIX_TRACER_* environment variables.
// Command-line flags override any value set here.
type EnvConfig struct {
	Input      string `env:"POSTFIX_TRACER_INPUT" envDefault:"-"`
	Report     string `env:"POSTFIX_TRACER_REPORT" envDefault:"summary"`
	Filter     string `env:"POSTFIX_TRACER_FILTER" envDefault:""`
	Attributes string `env:"POSTFIX_TRACER_ATTRIBUTES" envDefault:""`
	TraceID    string `env:"POSTFIX_TRACER_TRACE_ID" envDefault:""`
	Removal    string `env:"POSTFIX_TRACER_REMOVAL" envDefault:"mark"`

	RetainLines     uint64 `env:"POSTFIX_TRACER_RETAIN_LINES" envDefault:"1000"`
	IdleLines       uint64 `env:"POSTFIX_TRACER_IDLE_LINES" envDefault:"0"`
	MaxTransactions int    `env:"POSTFIX_TRACER_MAX_TRANSACTIONS" envDefault:"100000"`
	SweepEvery      uint64 `env:"POSTFIX_TRACER_SWEEP_EVERY" envDefault:"1000"`

	MetricsAddr string `env:"POSTFIX_TRACER_METRICS_ADDR" envDefault:""`
	ForwardDNS  bool   `env:"POSTFIX_TRACER_FORWARD_DNS" envDefault:"false"`

	LogLevel  string `env:"POSTFIX_TRACER_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"POSTFIX_TRACER_LOG_FORMAT" envDefault:"text"`
	LogOutput string `env:"POSTFIX_TRACER_LOG_OUTPUT" envDefault:"stderr"`
}

// Config is the resolved runtime configuration.
type Config struct {
	EnvConfig
	CustomAttributes []CustomAttribute
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set.
// Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// ParseEnvConfig parses configuration from environment variables
func ParseEnvConfig() (*EnvConfig, error) {
	var cfg EnvConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment config: %w", err)
	}
	return &cfg, nil
}

// New builds a Config from env values and the custom attributes given on the
// command line. Environment attributes come first, CLI attributes are appended.
func New(envCfg *EnvConfig, cliAttributes []string) (*Config, error) {
	envAttrs, err := ParseAttributeString(envCfg.Attributes)
	if err != nil {
		return nil, fmt.Errorf("POSTFIX_TRACER_ATTRIBUTES: %w", err)
	}

	cfg := &Config{EnvConfig: *envCfg, CustomAttributes: envAttrs}
	for _, a := range cliAttributes {
		attr, err := ParseAttribute(a)
		if err != nil {
			return nil, err
		}
		cfg.CustomAttributes = append(cfg.CustomAttributes, attr)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values env.Parse cannot check on its own.
func (c *Config) Validate() error {
	if c.Input == "" {
		return errors.New("input cannot be empty (use - for stdin)")
	}
	if c.Report == "" {
		return errors.New("report cannot be empty")
	}
	if c.MaxTransactions < 0 {
		return fmt.Errorf("max transactions must not be negative, got %d", c.MaxTransactions)
	}
	seen := make(map[string]bool, len(c.CustomAttributes))
	for _, a := range c.CustomAttributes {
		if seen[a.Name] {
			return fmt.Errorf("duplicate attribute %q", a.Name)
		}
		seen[a.Name] = true
	}
	return nil
}

// ParseAttribute parses a single NAME=EXPR definition.
func ParseAttribute(s string) (CustomAttribute, error) {
	parts := strings.SplitN(s, "=", 2)
	if len(parts) != 2 {
		return CustomAttribute{}, fmt.Errorf("invalid attribute format %q, expected NAME=EXPR", s)
	}

	name := strings.TrimSpace(parts[0])
	expression := strings.TrimSpace(parts[1])
	if name == "" {
		return CustomAttribute{}, fmt.Errorf("attribute name cannot be empty in %q", s)
	}
	if expression == "" {
		return CustomAttribute{}, fmt.Errorf("attribute expression cannot be empty in %q", s)
	}
	return CustomAttribute{Name: name, Expression: expression}, nil
}

// ParseAttributeString parses a semicolon-separated list of NAME=EXPR
// definitions. Empty sections are skipped.
func ParseAttributeString(s string) ([]CustomAttribute, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	var attrs []CustomAttribute
	for _, section := range strings.Split(s, ";") {
		if strings.TrimSpace(section) == "" {
			continue
		}
		attr, err := ParseAttribute(section)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, attr)
	}
	return attrs, nil
}
