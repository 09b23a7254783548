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
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"l"},
	Short:   "List the packs of all configured repositories",
	Args:    cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ListCmd(cmd)
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func ListCmd(cmd *cobra.Command) error {
	up, err := newUpdater(cmd)
	if err != nil {
		return err
	}
	defer up.Close()

	packs, err := up.GetAvailablePacks(commandContext(cmd))
	if err != nil {
		// skipped repositories don't hide the others
		for _, e := range unwrapJoined(err) {
			log.Warn(e)
		}
	}
	uids := maps.Keys(packs)
	slices.Sort(uids)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "UID\tNAME\tAUTHOR\tPLATFORM\tVERSIONS")
	for _, uid := range uids {
		p := packs[uid]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", uid, p.Name, p.Author, p.Platform, p.VersionsURL)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if len(uids) == 0 && err != nil {
		return errors.New("no repository could be fetched")
	}
	return nil
}

func unwrapJoined(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

var versionsCmd = &cobra.Command{
	Use:   "versions <versions-url>",
	Short: "Show the versions document of a pack",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return VersionsCmd(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(versionsCmd)
}

func VersionsCmd(cmd *cobra.Command, url string) error {
	up, err := newUpdater(cmd)
	if err != nil {
		return err
	}
	defer up.Close()

	info, err := up.GetCommunityVersion(commandContext(cmd), url)
	if err != nil {
		return fmt.Errorf("failed to fetch versions: %w", err)
	}
	out := cmd.OutOrStdout()
	for _, v := range info.Versions {
		if v.Available() {
			fmt.Fprintf(out, "%s\t%s\tsha256:%s\n", v.PackageVersion, *v.DownloadURL, v.Digest())
		} else {
			fmt.Fprintf(out, "%s\t(retracted)\n", v.PackageVersion)
		}
		for _, line := range v.Changelog {
			fmt.Fprintf(out, "    %s\n", strings.TrimSpace(line))
		}
	}
	return nil
}
