package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ProvidersConfig is the YAML file describing providers, quota limits,
// pricing and the language route table. Environment variables in ${VAR}
// form are expanded before parsing.
type ProvidersConfig struct {
	PriorityOrder []string         `yaml:"priority_order"`
	BridgeLang    string           `yaml:"bridge_lang"`
	Providers     []ProviderConfig `yaml:"providers"`
	Routes        []RouteConfig    `yaml:"routes"`
	APIKeys       []string         `yaml:"api_key_hashes"`
}

type ProviderConfig struct {
	ID     string       `yaml:"id"`
	Local  bool         `yaml:"local"`
	Limits QuotaLimits  `yaml:"limits"`
	Price  PricingEntry `yaml:"pricing"`
}

// QuotaLimits configures one provider's admission limits. Zero means
// unlimited for that dimension.
type QuotaLimits struct {
	RequestsPerMinute int64   `yaml:"requests_per_minute"`
	RequestsPerHour   int64   `yaml:"requests_per_hour"`
	RequestsPerDay    int64   `yaml:"requests_per_day"`
	RequestsPerMonth  int64   `yaml:"requests_per_month"`
	CharsPerMinute    int64   `yaml:"chars_per_minute"`
	CharsPerHour      int64   `yaml:"chars_per_hour"`
	CharsPerDay       int64   `yaml:"chars_per_day"`
	CharsPerMonth     int64   `yaml:"chars_per_month"`
	TokensPerMinute   int64   `yaml:"tokens_per_minute"`
	TokensPerHour     int64   `yaml:"tokens_per_hour"`
	TokensPerDay      int64   `yaml:"tokens_per_day"`
	TokensPerMonth    int64   `yaml:"tokens_per_month"`
	DailyCostUSD      float64 `yaml:"daily_cost_usd"`
	MonthlyCostUSD    float64 `yaml:"monthly_cost_usd"`
}

type PricingEntry struct {
	USDPerMillionChars  float64 `yaml:"usd_per_million_chars"`
	USDPerMillionTokens float64 `yaml:"usd_per_million_tokens"`
}

// RouteConfig declares one directly servable language pair.
type RouteConfig struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
	Model  string `yaml:"model"`
}

// LoadProviders reads and parses the providers YAML file.
func LoadProviders(path string) (*ProvidersConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg ProvidersConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse providers config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *ProvidersConfig) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("providers config: at least one provider is required")
	}
	if c.BridgeLang == "" {
		c.BridgeLang = "en"
	}

	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("providers config: provider with empty id")
		}
		if seen[p.ID] {
			return fmt.Errorf("providers config: duplicate provider %q", p.ID)
		}
		seen[p.ID] = true
	}

	for _, r := range c.Routes {
		if r.Source == "" || r.Target == "" {
			return fmt.Errorf("providers config: route with empty language")
		}
		if r.Source == r.Target {
			return fmt.Errorf("providers config: route %s->%s maps a language to itself", r.Source, r.Target)
		}
	}

	if len(c.PriorityOrder) == 0 {
		for _, p := range c.Providers {
			c.PriorityOrder = append(c.PriorityOrder, p.ID)
		}
	}

	return nil
}
