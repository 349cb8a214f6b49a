// Package config loads the gateway's YAML configuration, with environment
// variables taking precedence over whatever the file sets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sovereign-gateway/core/internal/errs"
)

type Config struct {
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`

	Proxy struct {
		UpstreamProxy struct {
			Enabled bool   `yaml:"enabled"`
			URL     string `yaml:"url"`
		} `yaml:"upstream_proxy"`
	} `yaml:"proxy"`

	LocalAI struct {
		Ollama   LocalProvider `yaml:"ollama"`
		LMStudio LocalProvider `yaml:"lmstudio"`
	} `yaml:"local_ai"`

	DatabasePath string `yaml:"database_path"`
	Verbose      bool   `yaml:"verbose"`

	// EmbeddingAPIKey authenticates the semantic-cache embedding call
	// (generativelanguage.googleapis.com uses key-based auth, unlike the
	// OAuth-based Cloud-Code endpoints). Empty disables the semantic cache.
	EmbeddingAPIKey string `yaml:"embedding_api_key"`
}

type LocalProvider struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

func Default() *Config {
	c := &Config{Port: 8045}
	c.LocalAI.Ollama = LocalProvider{Enabled: false, URL: "http://localhost:11434"}
	c.LocalAI.LMStudio = LocalProvider{Enabled: false, URL: "http://localhost:1234"}
	return c
}

// Load reads path if present, then applies environment overrides. A missing
// file is not an error — defaults plus env vars are a valid configuration.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if yerr := yaml.Unmarshal(data, cfg); yerr != nil {
				return nil, errs.Wrap(errs.KindConfig, "parsing "+path, yerr)
			}
		} else if !os.IsNotExist(err) {
			return nil, errs.Wrap(errs.KindConfig, "reading "+path, err)
		}
	}

	applyEnv(cfg)

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, errs.New(errs.KindConfig, fmt.Sprintf("invalid port %d", cfg.Port))
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("GATEWAY_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("GATEWAY_AUTH_TOKEN"); v != "" {
		cfg.AuthToken = v
	}
	if v := os.Getenv("GATEWAY_UPSTREAM_PROXY_URL"); v != "" {
		cfg.Proxy.UpstreamProxy.Enabled = true
		cfg.Proxy.UpstreamProxy.URL = v
	}
	if v := os.Getenv("GATEWAY_OLLAMA_URL"); v != "" {
		cfg.LocalAI.Ollama.Enabled = true
		cfg.LocalAI.Ollama.URL = v
	}
	if v := os.Getenv("GATEWAY_LMSTUDIO_URL"); v != "" {
		cfg.LocalAI.LMStudio.Enabled = true
		cfg.LocalAI.LMStudio.URL = v
	}
	if v := os.Getenv("GATEWAY_DB_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := strings.ToLower(os.Getenv("GATEWAY_VERBOSE")); v == "1" || v == "true" || v == "yes" {
		cfg.Verbose = true
	}
	if v := os.Getenv("GATEWAY_EMBEDDING_API_KEY"); v != "" {
		cfg.EmbeddingAPIKey = v
	}
}
