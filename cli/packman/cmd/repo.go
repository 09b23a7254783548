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
	"text/tabwriter"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/packman-dev/packman/metadata"
)

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Manage pack repositories",
}

var repoAddCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Add a pack repository to the config file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RepoAddCmd(cmd, args[0])
	},
}

var repoListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List the configured pack repositories",
	Args:    cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RepoListCmd(cmd)
	},
}

func init() {
	repoCmd.AddCommand(repoAddCmd, repoListCmd)
	rootCmd.AddCommand(repoCmd)
}

func RepoAddCmd(cmd *cobra.Command, url string) error {
	if !metadata.IsAcceptedURL(url) {
		return metadata.ErrRejectedURLScheme{URL: url}
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.AddRepository(url) {
		fmt.Fprintf(cmd.OutOrStdout(), "Repository %s is already configured\n", url)
		return nil
	}
	if err := cfg.Save(ConfigPath); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	log.Debugf("Saved %s", ConfigPath)
	fmt.Fprintf(cmd.OutOrStdout(), "Added repository %s\n", url)
	return nil
}

func RepoListCmd(cmd *cobra.Command) error {
	up, err := newUpdater(cmd)
	if err != nil {
		return err
	}
	defer up.Close()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "URL\tHOST TRUSTED")
	for _, repo := range up.Repositories() {
		trusted := "unknown"
		if host, err := metadata.HostOf(repo.URL); err == nil {
			switch {
			case up.TrustStore().IsTrusted(host):
				trusted = "yes"
			case up.TrustStore().IsUntrusted(host):
				trusted = "no"
			}
		}
		fmt.Fprintf(w, "%s\t%s\n", repo.URL, trusted)
	}
	return w.Flush()
}
