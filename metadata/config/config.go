// Copyright 2024 The Packman Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License
//
// SPDX-License-Identifier: Apache-2.0
//

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/packman-dev/packman/internal/fsutil"
)

const (
	DefaultStateFile = "packman.json"
	DefaultCacheDir  = "cache"
	DefaultUserAgent = "packman/1.0"
)

// UpdaterConfig holds the settings shared by the registry, resolver and
// downloader. Lengths are in bytes.
type UpdaterConfig struct {
	MaxRedirects         int               `yaml:"max_redirects"`
	PackIndexMaxLength   int64             `yaml:"pack_index_max_length"`
	VersionListMaxLength int64             `yaml:"version_list_max_length"`
	IconMaxLength        int64             `yaml:"icon_max_length"`
	DownloadMaxLength    int64             `yaml:"download_max_length"`
	Timeout              time.Duration     `yaml:"timeout"`
	UserAgent            string            `yaml:"user_agent"`
	Headers              map[string]string `yaml:"headers"`
	// OnlyNewer restricts offered updates to versions ordered after the
	// installed one.
	OnlyNewer    bool     `yaml:"only_newer"`
	Repositories []string `yaml:"repositories"`
	// WorkDir is the base for relative CacheDir, StatePath and InstallDir.
	WorkDir    string `yaml:"work_dir,omitempty"`
	CacheDir   string `yaml:"cache_dir"`
	StatePath  string `yaml:"state_path"`
	InstallDir string `yaml:"install_dir"`
	// DisableLocalCache turns off the on-disk response cache.
	DisableLocalCache bool `yaml:"disable_local_cache"`
}

// New creates a new UpdaterConfig instance with default values
func New() *UpdaterConfig {
	return &UpdaterConfig{
		MaxRedirects:         3,
		PackIndexMaxLength:   2000000,   // bytes
		VersionListMaxLength: 1000000,   // bytes
		IconMaxLength:        1000000,   // bytes
		DownloadMaxLength:    512 << 20, // bytes
		Timeout:              30 * time.Second,
		UserAgent:            DefaultUserAgent,
		Headers:              map[string]string{},
		WorkDir:              ".",
		CacheDir:             DefaultCacheDir,
		StatePath:            DefaultStateFile,
	}
}

// LoadFile reads a YAML config file over the defaults. Relative paths in
// the file are resolved against the file's directory unless work_dir is
// set.
func LoadFile(path string) (*UpdaterConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := New()
	cfg.WorkDir = filepath.Dir(path)
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as YAML to path. WorkDir is not written, so the file
// keeps resolving paths against its own directory.
func (cfg *UpdaterConfig) Save(path string) error {
	out := *cfg
	out.WorkDir = ""
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return err
	}
	return fsutil.AtomicWriteFile(path, data, 0640)
}

// AddRepository appends url unless it is listed already.
func (cfg *UpdaterConfig) AddRepository(url string) bool {
	for _, u := range cfg.Repositories {
		if u == url {
			return false
		}
	}
	cfg.Repositories = append(cfg.Repositories, url)
	return true
}

// Validate rejects settings the updater cannot work with.
func (cfg *UpdaterConfig) Validate() error {
	if cfg.MaxRedirects < 0 {
		return fmt.Errorf("max_redirects must not be negative, got %d", cfg.MaxRedirects)
	}
	for name, v := range map[string]int64{
		"pack_index_max_length":   cfg.PackIndexMaxLength,
		"version_list_max_length": cfg.VersionListMaxLength,
		"icon_max_length":         cfg.IconMaxLength,
		"download_max_length":     cfg.DownloadMaxLength,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}
	return nil
}

// Path resolves p against WorkDir.
func (cfg *UpdaterConfig) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(cfg.WorkDir, p)
}

// EnsurePathsExist creates the cache, state and install directories if
// they don't exist yet.
func (cfg *UpdaterConfig) EnsurePathsExist() error {
	dirs := []string{filepath.Dir(cfg.Path(cfg.StatePath))}
	if !cfg.DisableLocalCache {
		dirs = append(dirs, cfg.Path(cfg.CacheDir))
	}
	if cfg.InstallDir != "" {
		dirs = append(dirs, cfg.Path(cfg.InstallDir))
	}
	for _, path := range dirs {
		if err := os.MkdirAll(path, 0750); err != nil {
			return err
		}
	}
	return nil
}
