// Copyright 2026 CheckoutFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads per-checkout configuration from
// {checkout_dir}/config.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the name of the per-checkout config file.
const ConfigFileName = "config.yaml"

// Config represents per-checkout configuration.
type Config struct {
	RootHash    string `yaml:"root-hash"`    // hex hash of the checked-out root tree
	OverlayDir  string `yaml:"overlay-dir"`  // default: "overlay"
	CachePath   string `yaml:"cache-path"`   // default: "localstore.db"
	Logging     string `yaml:"logging"`      // logging level: none, info, debug, trace (case insensitive)
	ExcludeFile string `yaml:"exclude-file"` // gitignore-style patterns skipped by debug dump; default: none
}

// ApplyDefaults fills zero-value fields with their defaults.
func (cfg *Config) ApplyDefaults() {
	if cfg.OverlayDir == "" {
		cfg.OverlayDir = "overlay"
	}
	if cfg.CachePath == "" {
		cfg.CachePath = "localstore.db"
	}
	if cfg.Logging == "" {
		cfg.Logging = "info"
	}
}

// Load reads the config file under checkoutDir. A missing file is not an
// error; the returned config carries defaults.
func Load(checkoutDir string) (*Config, error) {
	cfg := &Config{}
	path := filepath.Join(checkoutDir, ConfigFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg.ApplyDefaults()
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// Save writes the config file under checkoutDir.
func (cfg *Config) Save(checkoutDir string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	path := filepath.Join(checkoutDir, ConfigFileName)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}

// ConfigureLogging applies the configured logging level to logrus.
func (cfg *Config) ConfigureLogging() {
	switch strings.ToLower(cfg.Logging) {
	case "none":
		log.SetLevel(log.ErrorLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "trace":
		log.SetLevel(log.TraceLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}
