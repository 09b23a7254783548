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

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/packman-dev/packman/metadata/updater"
)

var DownloadFound bool
var InstallDir string

var checkCmd = &cobra.Command{
	Use:     "check <uid> <installed-version> <versions-url>",
	Aliases: []string{"c"},
	Short:   "Check an installed pack for an update",
	Args:    cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return CheckCmd(cmd, args[0], args[1], args[2])
	},
}

var downloadCmd = &cobra.Command{
	Use:     "download <url> <uid> <version> <sha256>",
	Aliases: []string{"d"},
	Short:   "Download and verify a pack archive",
	Args:    cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		return DownloadCmd(cmd, args[0], args[1], args[2], args[3])
	},
}

func init() {
	checkCmd.Flags().BoolVarP(&DownloadFound, "download", "d", false, "download the update if one is available")
	checkCmd.Flags().StringVarP(&InstallDir, "install-dir", "o", "", "directory to download into (default from config)")
	downloadCmd.Flags().StringVarP(&InstallDir, "install-dir", "o", "", "directory to download into (default from config)")
	rootCmd.AddCommand(checkCmd, downloadCmd)
}

func CheckCmd(cmd *cobra.Command, uid, version, url string) error {
	up, err := newUpdater(cmd)
	if err != nil {
		return err
	}
	defer up.Close()

	out := cmd.OutOrStdout()
	var found *updater.Update
	err = up.CheckForUpdate(commandContext(cmd), uid, version, url,
		func(u *updater.Update) {
			found = u
			fmt.Fprintf(out, "Update available for %s: %s -> %s\n", u.UID, u.InstalledVersion, u.Version)
			fmt.Fprintf(out, "  %s\n  sha256:%s\n", u.DownloadURL, u.SHA256)
			for _, line := range u.Changelog {
				fmt.Fprintf(out, "  - %s\n", line)
			}
		},
		func(uid string) {
			fmt.Fprintf(out, "No update available for %s\n", uid)
		})
	if err != nil {
		return fmt.Errorf("failed to check %s for updates: %w", uid, err)
	}
	if found == nil || !DownloadFound {
		return nil
	}
	return download(cmd, up, found.DownloadURL, found.UID, found.Version, found.SHA256)
}

func DownloadCmd(cmd *cobra.Command, url, uid, version, sha256 string) error {
	up, err := newUpdater(cmd)
	if err != nil {
		return err
	}
	defer up.Close()
	return download(cmd, up, url, uid, version, sha256)
}

func download(cmd *cobra.Command, up *updater.Updater, url, uid, version, sha256 string) error {
	up.Observe(updater.ObserverFuncs{
		OnProgress: func(id string, received, total int64) {
			if total < 0 {
				log.Debugf("%s: %d bytes", id, received)
				return
			}
			log.Debugf("%s: %d/%d bytes", id, received, total)
		},
	})
	res, err := up.DownloadUpdate(commandContext(cmd), url, InstallDir, uid, version, sha256)
	if err != nil {
		return fmt.Errorf("failed to download %s %s: %w", uid, version, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Successfully downloaded %s %s at - %s\n", res.UID, res.Version, res.Path)
	return nil
}
