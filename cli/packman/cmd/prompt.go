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
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/packman-dev/packman/metadata/confirmation"
)

// confirmationHandler asks on out and reads the answer from in. Without
// --yes a non-interactive stdin denies every host.
func confirmationHandler(in io.Reader, out io.Writer) confirmation.Func {
	reader := bufio.NewReader(in)
	return func(ctx context.Context, message string) bool {
		if AssumeYes {
			log.Debugf("Auto-approved: %s", message)
			return true
		}
		if f, ok := in.(*os.File); ok && !term.IsTerminal(int(f.Fd())) {
			log.Warnf("Not asking without a terminal, denied: %s (use --yes to approve)", message)
			return false
		}
		fmt.Fprintf(out, "%s (y/n)\n", message)
		return askForConfirmation(reader, out)
	}
}

func askForConfirmation(r *bufio.Reader, out io.Writer) bool {
	for {
		response, err := r.ReadString('\n')
		if err != nil && response == "" {
			return false
		}
		switch strings.ToLower(strings.TrimSpace(response)) {
		case "y", "yes":
			return true
		case "n", "no":
			return false
		}
		if err != nil {
			return false
		}
		fmt.Fprintln(out, "I'm sorry but I didn't get what you meant, please type (y)es or (n)o and then press enter:")
	}
}
