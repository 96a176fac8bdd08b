// Copyright 2024 Google Inc. All Rights Reserved.
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

// Package config defines and loads the JSON configuration document that
// gates which modules are enabled and how they behave.
package config

import (
	"fmt"
	"os"

	"github.com/mathieuhardy/cerebro/internal/cerebroerr"
	"github.com/spf13/viper"
)

// TemperatureConfig selects the sensor chip and feature pattern the CPU
// module reads physical temperatures from.
type TemperatureConfig struct {
	Device  string `mapstructure:"device"`
	Pattern string `mapstructure:"pattern"`
}

// JSONConfig gates a module's synthetic `json` leaf.
type JSONConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ShellConfig gates a module's synthetic `shell` leaf.
type ShellConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ModuleConfig is the per-module configuration block recognized by the
// registrar (see ModuleConfig fields table in the component design).
type ModuleConfig struct {
	Enabled     *bool              `mapstructure:"enabled"`
	TimeoutS    *uint64            `mapstructure:"timeout_s"`
	Temperature *TemperatureConfig `mapstructure:"temperature"`
	JSON        *JSONConfig        `mapstructure:"json"`
	Shell       *ShellConfig       `mapstructure:"shell"`
}

// IsEnabled reports whether the module should be started at all.
func (m *ModuleConfig) IsEnabled() bool {
	return m != nil && m.Enabled != nil && *m.Enabled
}

// Timeout returns the configured sampler sleep interval, or the given
// default if none was configured.
func (m *ModuleConfig) Timeout(def uint64) uint64 {
	if m == nil || m.TimeoutS == nil {
		return def
	}

	return *m.TimeoutS
}

// JSONEnabled reports whether the module's `json` leaf should be exposed.
func (m *ModuleConfig) JSONEnabled() bool {
	return m != nil && m.JSON != nil && m.JSON.Enabled
}

// ShellEnabled reports whether the module's `shell` leaf should be exposed.
func (m *ModuleConfig) ShellEnabled() bool {
	return m != nil && m.Shell != nil && m.Shell.Enabled
}

// Config is the top-level configuration document: a map from module name
// to its configuration block.
type Config struct {
	Modules map[string]ModuleConfig `mapstructure:"modules"`
}

// Module returns the configuration for a named module, or nil if the
// configuration document has no entry for it (in which case the registrar
// skips the module entirely).
func (c *Config) Module(name string) *ModuleConfig {
	if c == nil {
		return nil
	}

	mc, ok := c.Modules[name]
	if !ok {
		return nil
	}

	return &mc
}

// Load reads and parses the JSON configuration document at path.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, cerebroerr.Wrap(cerebroerr.ConfigLoad, fmt.Sprintf("config file %q not found", path), err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		return nil, cerebroerr.Wrap(cerebroerr.ConfigLoad, "reading configuration", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, cerebroerr.Wrap(cerebroerr.ConfigLoad, "unmarshalling configuration", err)
	}

	return &cfg, nil
}
