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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/packman-dev/packman/metadata/truststore"
)

var ignoreCmd = &cobra.Command{
	Use:   "ignore",
	Short: "Stop offering specific updates",
}

var ignoreSHA256Cmd = &cobra.Command{
	Use:   "sha256 <uid> <sha256>",
	Short: "Never offer the download with this digest for a pack",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTrustStore(func(ts *truststore.TrustStore) error {
			if err := ts.IgnoreUpdateSHA256(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ignoring sha256 %s for %s\n", args[1], args[0])
			return nil
		})
	},
}

var ignoreVersionCmd = &cobra.Command{
	Use:   "version <uid> <version>",
	Short: "Don't offer this version of a pack until reset",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTrustStore(func(ts *truststore.TrustStore) error {
			if err := ts.TempIgnoreSourceVersion(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ignoring version %s of %s until reset\n", args[1], args[0])
			return nil
		})
	},
}

var resetCmd = &cobra.Command{
	Use:     "reset <uid>",
	Aliases: []string{"r"},
	Short:   "Offer the temporarily ignored versions of a pack again",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTrustStore(func(ts *truststore.TrustStore) error {
			if err := ts.ClearTempIgnoredSourceVersions(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Temporarily ignored versions of %s were reset\n", args[0])
			return nil
		})
	},
}

var trustCmd = &cobra.Command{
	Use:   "trust <host>",
	Short: "Allow connecting to a host without asking",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTrustStore(func(ts *truststore.TrustStore) error {
			if err := ts.MarkTrusted(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Host %s is trusted\n", args[0])
			return nil
		})
	},
}

var distrustCmd = &cobra.Command{
	Use:   "distrust <host>",
	Short: "Never connect to a host",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTrustStore(func(ts *truststore.TrustStore) error {
			if err := ts.MarkUntrusted(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Host %s is not trusted\n", args[0])
			return nil
		})
	},
}

func init() {
	ignoreCmd.AddCommand(ignoreSHA256Cmd, ignoreVersionCmd)
	rootCmd.AddCommand(ignoreCmd, resetCmd, trustCmd, distrustCmd)
}

// withTrustStore opens the state file named by the config without
// creating an Updater.
func withTrustStore(fn func(ts *truststore.TrustStore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.EnsurePathsExist(); err != nil {
		return fmt.Errorf("failed to prepare local directories: %w", err)
	}
	ts, err := truststore.Open(cfg.Path(cfg.StatePath))
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}
	return fn(ts)
}
