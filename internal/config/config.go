package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	API struct {
		BaseURL string `yaml:"base_url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"api"`
	Push struct {
		Kind           string `yaml:"kind"` // websocket, nats or none
		URL            string `yaml:"url"`
		SubjectPrefix  string `yaml:"subject_prefix"`
		ReconnectDelay string `yaml:"reconnect_delay"`
	} `yaml:"push"`
	Polling struct {
		ConnectedInterval    string `yaml:"connected_interval"`
		DisconnectedInterval string `yaml:"disconnected_interval"`
		FailureThreshold     int    `yaml:"failure_threshold"`
	} `yaml:"polling"`
	Feedback struct {
		Timeout           string `yaml:"timeout"`
		FallbackCorrect   string `yaml:"fallback_correct"`
		FallbackIncorrect string `yaml:"fallback_incorrect"`
	} `yaml:"feedback"`
	Store struct {
		Kind  string `yaml:"kind"` // memory, redis, sqlite or postgres
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			TTL      string `yaml:"ttl"`
		} `yaml:"redis"`
		SQLite struct {
			Path string `yaml:"path"`
		} `yaml:"sqlite"`
		Postgres struct {
			URL string `yaml:"url"`
		} `yaml:"postgres"`
	} `yaml:"store"`
	Learner struct {
		AutoSubmitOnTimeout bool `yaml:"auto_submit_on_timeout"`
		DefaultConfidence   int  `yaml:"default_confidence"`
	} `yaml:"learner"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Load reads YAML config from path and applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	return cfg, nil
}

// Default is used when no config file exists: in-memory store, no push channel.
func Default() Config {
	cfg := Config{}
	cfg.API.BaseURL = "http://localhost:8080"
	cfg.Push.Kind = "none"
	cfg.Store.Kind = "memory"
	cfg.Learner.DefaultConfidence = 50
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyEnv() {
	if v := os.Getenv("QUIZ_API_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("QUIZ_PUSH_URL"); v != "" {
		c.Push.URL = v
	}
	if v := os.Getenv("QUIZ_STORE"); v != "" {
		c.Store.Kind = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Store.Redis.Addr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Store.Postgres.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Duration parses a duration string or returns the fallback if empty or invalid.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	return fallback
}
