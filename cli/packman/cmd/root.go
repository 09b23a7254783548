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

package cmd

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-logr/stdr"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/packman-dev/packman/metadata"
	"github.com/packman-dev/packman/metadata/config"
	"github.com/packman-dev/packman/metadata/metrics"
	"github.com/packman-dev/packman/metadata/updater"
)

const DefaultConfigFile = "packman.yaml"

var Verbosity bool
var ConfigPath string
var AssumeYes bool
var MetricsAddr string

var rootCmd = &cobra.Command{
	Use:   "packman",
	Short: "packman - discover, check and download packs",
	Long: `packman is a CLI tool for pack repositories.

It lists the packs published by the configured repositories, checks installed
packs for updates and downloads new versions.

Every download is verified against the SHA-256 published in the pack's
versions document. Servers are only contacted after you confirmed them once.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// handle verbosity level
		if Verbosity {
			log.SetLevel(log.DebugLevel)
			stdr.SetVerbosity(1)
			metadata.SetLogger(stdr.New(stdlog.New(os.Stderr, "packman: ", stdlog.LstdFlags)))
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		// show the help message if no command has been used
		if len(args) == 0 {
			_ = cmd.Help()
			os.Exit(0)
		}
	},
}

func Execute() {
	rootCmd.PersistentFlags().BoolVarP(&Verbosity, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&ConfigPath, "config", "c", DefaultConfigFile, "path of the packman config file")
	rootCmd.PersistentFlags().BoolVarP(&AssumeYes, "yes", "y", false, "trust every host without asking")
	rootCmd.PersistentFlags().StringVar(&MetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while running")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads ConfigPath, falling back to the defaults rooted at the
// config file's directory when it doesn't exist yet.
func loadConfig() (*config.UpdaterConfig, error) {
	cfg, err := config.LoadFile(ConfigPath)
	if errors.Is(err, os.ErrNotExist) {
		log.Debugf("No config file at %s, using defaults", ConfigPath)
		cfg = config.New()
		cfg.WorkDir = filepath.Dir(ConfigPath)
		return cfg, nil
	}
	return cfg, err
}

// newUpdater creates an Updater from the config file with an interactive
// confirmation handler.
func newUpdater(cmd *cobra.Command) (*updater.Updater, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsurePathsExist(); err != nil {
		return nil, fmt.Errorf("failed to prepare local directories: %w", err)
	}
	var m metrics.Metrics = metrics.Noop{}
	if MetricsAddr != "" {
		m = metrics.NewProm("packman")
		go func() {
			log.Debugf("Serving metrics on %s", MetricsAddr)
			if err := http.ListenAndServe(MetricsAddr, metrics.Handler()); err != nil {
				log.Warnf("Metrics server stopped: %v", err)
			}
		}()
	}
	up, err := updater.New(cfg,
		updater.WithMetrics(m),
		updater.WithConfirmationHandler(confirmationHandler(cmd.InOrStdin(), cmd.ErrOrStderr())))
	if err != nil {
		return nil, fmt.Errorf("failed to create Updater instance: %w", err)
	}
	return up, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
