package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port      string `yaml:"port"`
		PublicURL string `yaml:"publicUrl"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL string `yaml:"ttl"`
	} `yaml:"quiz"`
	Rooms struct {
		CodeAttempts int    `yaml:"codeAttempts"`
		HostGrace    string `yaml:"hostGrace"`
		IdleTimeout  string `yaml:"idleTimeout"`
		ReapInterval string `yaml:"reapInterval"`
		OutboxSize   int    `yaml:"outboxSize"`
	} `yaml:"rooms"`
	Scoring struct {
		BasePoints       int    `yaml:"basePoints"`
		DefaultTimeLimit string `yaml:"defaultTimeLimit"`
	} `yaml:"scoring"`
	Auth struct {
		Secret   string `yaml:"secret"`
		Issuer   string `yaml:"issuer"`
		TokenTTL string `yaml:"tokenTTL"`
	} `yaml:"auth"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	cfg := Config{}
	cfg.Server.Port = "8080"
	cfg.Server.PublicURL = "http://localhost:8080"
	cfg.Redis.TTL = "24h"
	cfg.Quiz.TTL = "10m"
	cfg.Rooms.CodeAttempts = 16
	cfg.Rooms.HostGrace = "30s"
	cfg.Rooms.IdleTimeout = "2h"
	cfg.Rooms.ReapInterval = "1m"
	cfg.Rooms.OutboxSize = 64
	cfg.Scoring.BasePoints = 1000
	cfg.Scoring.DefaultTimeLimit = "20s"
	cfg.Auth.Issuer = "live-quiz"
	cfg.Auth.TokenTTL = "12h"
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	return cfg
}

// Load reads YAML config from path on top of Default. A missing file is
// not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
