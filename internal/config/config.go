// Package config loads Gantry's server configuration from a YAML file,
// following the same load-then-default pattern the rest of the corpus uses
// for its own startup configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is Gantry's complete server configuration.
type Config struct {
	AppName string `yaml:"app_name"`
	Debug   bool   `yaml:"debug"`

	Broker BrokerConfig `yaml:"broker"`
	KV     KVConfig     `yaml:"kv"`
	Blob   BlobConfig   `yaml:"blob"`

	Operator OperatorConfig `yaml:"operator"`
}

// BrokerConfig configures the message bus.
type BrokerConfig struct {
	Port  string `yaml:"port"`
	Debug bool   `yaml:"debug"`
}

// KVConfig configures the catalog's Badger-backed key-value store.
type KVConfig struct {
	Dir        string `yaml:"dir"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// BlobConfig configures the stream service's filesystem-backed blob store.
type BlobConfig struct {
	Dir       string `yaml:"dir"`
	ChunkSize uint64 `yaml:"chunk_size"`
}

// OperatorConfig names the operator key and the set of account keys it has
// signed, establishing the catalog's trusted-signer snapshot at startup.
type OperatorConfig struct {
	Operator string   `yaml:"operator"`
	Signers  []string `yaml:"signers"`
}

// Load reads and parses filename, applying defaults for anything left zero.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", filename, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", filename, err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.AppName == "" {
		cfg.AppName = "gantry"
	}
	if cfg.Broker.Port == "" {
		cfg.Broker.Port = ":9091"
	}
	if cfg.KV.Dir == "" {
		cfg.KV.Dir = "./data/catalog"
	}
	if cfg.Blob.Dir == "" {
		cfg.Blob.Dir = "./data/blobs"
	}
	if cfg.Blob.ChunkSize == 0 {
		cfg.Blob.ChunkSize = 256 * 1024
	}
}

// Default returns Gantry's hardcoded fallback configuration, used when no
// config file is available at startup.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}
