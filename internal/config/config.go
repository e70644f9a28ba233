// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config resolves MemoBuild's runtime configuration: the
// MEMOBUILD_* environment variables from spec §6 are authoritative, with an
// optional YAML file supplying defaults for anything not set in the
// environment — grounded on cmd/cie/config.go's Config struct and
// getEnv(key, default) helper idiom in the teacher.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileConfig is the optional memobuild.yaml shape.
type FileConfig struct {
	CacheDir    string   `yaml:"cache_dir"`
	RemoteURL   string   `yaml:"remote_url"`
	Regions     []string `yaml:"regions"`
	RemoteExec  string   `yaml:"remote_exec"`
	Workers     []string `yaml:"workers"`
	Strategy    string   `yaml:"strategy"`
	NoColor     bool     `yaml:"no_color"`
}

// LoadFile reads a YAML config file if present; a missing file is not an
// error (defaults apply).
func LoadFile(path string) (FileConfig, error) {
	var fc FileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fc, nil
		}
		return fc, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return fc, nil
}

// Config is the fully resolved runtime configuration: env vars win,
// falling back to the file config, falling back to a built-in default.
type Config struct {
	CacheDir       string
	RemoteURL      string
	Regions        map[string]string // name -> url
	RemoteExecURL  string
	Workers        []string
	Strategy       string
	HealthInterval string
	NoColor        bool
}

// EnvOr returns os.Getenv(key) if set, else def — the teacher's
// getEnv(key, default) pattern from cmd/cie/config.go.
func EnvOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// Resolve builds a Config from the environment, falling back to fc for
// anything the environment doesn't set, per spec §6's env var list.
func Resolve(fc FileConfig) Config {
	cacheDir := EnvOr("MEMOBUILD_CACHE_DIR", fc.CacheDir)
	if cacheDir == "" {
		home, _ := os.UserHomeDir()
		cacheDir = filepath.Join(home, ".memobuild", "cache")
	}

	regions := make(map[string]string)
	if raw := EnvOr("MEMOBUILD_REGIONS", strings.Join(fc.Regions, ",")); raw != "" {
		for _, pair := range strings.Split(raw, ",") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			if idx := strings.Index(pair, "="); idx > 0 {
				regions[pair[:idx]] = pair[idx+1:]
			}
		}
	}

	var workers []string
	if raw := EnvOr("MEMOBUILD_WORKERS", strings.Join(fc.Workers, ",")); raw != "" {
		for _, w := range strings.Split(raw, ",") {
			if w = strings.TrimSpace(w); w != "" {
				workers = append(workers, w)
			}
		}
	}

	return Config{
		CacheDir:       cacheDir,
		RemoteURL:      EnvOr("MEMOBUILD_REMOTE_URL", fc.RemoteURL),
		Regions:        regions,
		RemoteExecURL:  EnvOr("MEMOBUILD_REMOTE_EXEC", fc.RemoteExec),
		Workers:        workers,
		Strategy:       EnvOr("MEMOBUILD_STRATEGY", fc.Strategy),
		HealthInterval: EnvOr("MEMOBUILD_HEALTH_INTERVAL", "30s"),
		NoColor:        EnvOr("MEMOBUILD_NO_COLOR", boolStr(fc.NoColor)) == "true",
	}
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
