package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct. Values come from a YAML
// file, environment overrides and flags; components receive the parts
// they need at construction rather than reading globals.
type Config struct {
	Server struct {
		Address string `yaml:"address"`
		Port    int    `yaml:"port"`
		TLS     struct {
			CertFile string `yaml:"cert_file"`
			KeyFile  string `yaml:"key_file"`
		} `yaml:"tls"`
	} `yaml:"server"`
	Storage struct {
		// DBPath selects the pebble store; empty means in-memory.
		DBPath string `yaml:"db_path"`
	} `yaml:"storage"`
	Analysis struct {
		BaseURL              string   `yaml:"base_url"`
		ModerationWebhookURL string   `yaml:"moderation_webhook_url"`
		FactCheckWebhookURL  string   `yaml:"factcheck_webhook_url"`
		Timeout              Duration `yaml:"timeout"`
		// Denylist is the terminal moderation heuristic: replaceable
		// policy, not a fixed algorithm.
		Denylist []string `yaml:"denylist"`
		// ClaimMarkers decide which messages warrant a fact-check pass.
		ClaimMarkers []string `yaml:"claim_markers"`
		ClaimMinLen  int      `yaml:"claim_min_len"`
	} `yaml:"analysis"`
	Channel struct {
		// BufferSize bounds the per-connection replay buffer (events).
		BufferSize int `yaml:"buffer_size"`
		// SendQueue bounds each subscriber's outgoing queue (events).
		SendQueue int `yaml:"send_queue"`
		// MaxEventBytes caps a single encoded event.
		MaxEventBytes SizeBytes `yaml:"max_event_bytes"`
		MaxBackoff    Duration  `yaml:"max_backoff"`
	} `yaml:"channel"`
	Security struct {
		CORS struct {
			AllowedOrigins []string `yaml:"allowed_origins"`
		} `yaml:"cors"`
		RateLimit struct {
			RPS   float64 `yaml:"rps"`
			Burst int     `yaml:"burst"`
		} `yaml:"rate_limit"`
	} `yaml:"security"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // text|json
	} `yaml:"logging"`
	Archive struct {
		Enabled bool   `yaml:"enabled"`
		Cron    string `yaml:"cron"`
		// Period a room must be closed before it is archived.
		Period Duration `yaml:"period"`
		Dir    string   `yaml:"dir"`
	} `yaml:"archive"`
	Validation struct {
		MaxContentLen int `yaml:"max_content_len"`
	} `yaml:"validation"`
}

// Defaults documented in the external-interfaces contract: a local
// analysis backend and local workflow webhooks.
const (
	DefaultBaseURL              = "http://localhost:8000"
	DefaultModerationWebhookURL = "http://localhost:5678/webhook/moderation"
	DefaultFactCheckWebhookURL  = "http://localhost:5678/webhook/factcheck"
	DefaultAnalysisTimeout      = 5 * time.Second
)

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8080
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// ApplyDefaults fills unset values with documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Analysis.BaseURL == "" {
		c.Analysis.BaseURL = DefaultBaseURL
	}
	if c.Analysis.ModerationWebhookURL == "" {
		c.Analysis.ModerationWebhookURL = DefaultModerationWebhookURL
	}
	if c.Analysis.FactCheckWebhookURL == "" {
		c.Analysis.FactCheckWebhookURL = DefaultFactCheckWebhookURL
	}
	if c.Analysis.Timeout.Duration() == 0 {
		c.Analysis.Timeout = Duration(DefaultAnalysisTimeout)
	}
	if len(c.Analysis.Denylist) == 0 {
		c.Analysis.Denylist = []string{"toxic"}
	}
	if c.Channel.BufferSize == 0 {
		c.Channel.BufferSize = 256
	}
	if c.Channel.SendQueue == 0 {
		c.Channel.SendQueue = 64
	}
	if c.Channel.MaxEventBytes == 0 {
		c.Channel.MaxEventBytes = 256 * 1024
	}
	if c.Channel.MaxBackoff.Duration() == 0 {
		c.Channel.MaxBackoff = Duration(30 * time.Second)
	}
	if c.Validation.MaxContentLen == 0 {
		c.Validation.MaxContentLen = 4096
	}
	if c.Archive.Dir == "" {
		c.Archive.Dir = "./archive"
	}
}

// Load reads a YAML config from path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseCommandFlags defines and parses command-line flags and returns
// their values along with a map indicating which were explicitly set.
func ParseCommandFlags() (addr string, dbPath string, cfgPath string, setFlags map[string]bool) {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	dbPtr := flag.String("db", "", "Pebble DB path (empty = in-memory store)")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return *addrPtr, *dbPtr, *cfgPtr, setFlags
}

// LoadEnvOverrides applies environment overrides onto cfg and reports
// whether any env vars were used. The analysis endpoints honor the
// documented option names (API_BASE_URL, MODERATION_WEBHOOK_URL,
// FACTCHECK_WEBHOOK_URL); everything else uses the PUBLICSQUARE_
// prefix.
func LoadEnvOverrides(cfg *Config) bool {
	envUsed := false

	if v := os.Getenv("API_BASE_URL"); v != "" {
		envUsed = true
		cfg.Analysis.BaseURL = v
	}
	if v := os.Getenv("MODERATION_WEBHOOK_URL"); v != "" {
		envUsed = true
		cfg.Analysis.ModerationWebhookURL = v
	}
	if v := os.Getenv("FACTCHECK_WEBHOOK_URL"); v != "" {
		envUsed = true
		cfg.Analysis.FactCheckWebhookURL = v
	}
	if v := os.Getenv("PUBLICSQUARE_ANALYSIS_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Analysis.Timeout = Duration(d)
		}
	}
	if v := os.Getenv("PUBLICSQUARE_DENYLIST"); v != "" {
		envUsed = true
		cfg.Analysis.Denylist = parseList(v)
	}

	if v := os.Getenv("PUBLICSQUARE_ADDR"); v != "" {
		envUsed = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	}
	if v := os.Getenv("PUBLICSQUARE_DB_PATH"); v != "" {
		envUsed = true
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("PUBLICSQUARE_CORS_ORIGINS"); v != "" {
		envUsed = true
		cfg.Security.CORS.AllowedOrigins = parseList(v)
	}
	if v := os.Getenv("PUBLICSQUARE_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envUsed = true
			cfg.Security.RateLimit.RPS = f
		}
	}
	if v := os.Getenv("PUBLICSQUARE_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Security.RateLimit.Burst = n
		}
	}
	if c := os.Getenv("PUBLICSQUARE_TLS_CERT"); c != "" {
		envUsed = true
		cfg.Server.TLS.CertFile = c
	}
	if k := os.Getenv("PUBLICSQUARE_TLS_KEY"); k != "" {
		envUsed = true
		cfg.Server.TLS.KeyFile = k
	}
	return envUsed
}

func parseList(v string) []string {
	if v == "" {
		return nil
	}
	parts := []string{}
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}

// EffectiveConfigResult bundles the merged config with the values the
// entrypoint resolved from flags/env/file plus their source.
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	DBPath string
	Source string // flags | env | config
}

// LoadEffective loads config from path (missing file yields an empty
// config), applies env overrides and defaults, and reports env usage.
func LoadEffective(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err != nil {
		cfg = &Config{}
	}
	envUsed := LoadEnvOverrides(cfg)
	cfg.ApplyDefaults()
	return cfg, envUsed, nil
}

// ResolveConfigPath decides the config file path using the
// flag-provided value and PUBLICSQUARE_CONFIG when the flag was unset.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("PUBLICSQUARE_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
