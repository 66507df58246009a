// Copyright 2025 The nginx-switcher Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	switcher "github.com/fab617/nginx-switcher"
	"gopkg.in/yaml.v3"
)

// RootEnv overrides the application root when set.
const RootEnv = "NGINX_SWITCHER_ROOT"

type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

// Config is the daemon configuration file.
type Config struct {
	Listen         string        `yaml:"listen"`
	Root           string        `yaml:"root"`
	Store          string        `yaml:"store"`
	Interval       time.Duration `yaml:"interval"`
	SpawnWait      time.Duration `yaml:"spawnWait"`
	Watch          bool          `yaml:"watch"`
	MaxConnections int           `yaml:"maxConnections"`
	Log            LogConfig     `yaml:"log"`
}

func DefaultConfig() *Config {
	return &Config{
		Listen:         "127.0.0.1:8321",
		Store:          switcher.DefaultStoreFile,
		Interval:       switcher.DefaultInterval,
		SpawnWait:      switcher.DefaultSpawnWait,
		Watch:          true,
		MaxConnections: 64,
		Log: LogConfig{
			File:       filepath.Join("logs", "switcherd.log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// LoadConfig reads path over the defaults.  An empty path yields the
// defaults.  The root environment variable, when set, wins over the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, e := os.ReadFile(path)
		if e != nil {
			return nil, e
		}
		if e = yaml.Unmarshal(data, cfg); e != nil {
			return nil, fmt.Errorf("parse %s: %w", path, e)
		}
	}
	if root := os.Getenv(RootEnv); root != "" {
		cfg.Root = root
	}
	if e := cfg.validate(); e != nil {
		return nil, e
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is empty")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %v", c.Interval)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("maxConnections must not be negative")
	}
	return nil
}

// logPath resolves the log file against the root.
func (c *Config) logPath(root string) string {
	if c.Log.File == "" || filepath.IsAbs(c.Log.File) {
		return c.Log.File
	}
	return filepath.Join(root, c.Log.File)
}
