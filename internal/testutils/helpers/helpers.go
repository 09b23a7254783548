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

// Package helpers holds small utilities shared by the package tests.
package helpers

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/packman-dev/packman/metadata/confirmation"
)

// Prompter is a confirmation handler giving a fixed answer and recording
// every message it was asked.
type Prompter struct {
	Answer bool

	mu       sync.Mutex
	messages []string
}

// Accepting returns a Prompter approving every host.
func Accepting() *Prompter {
	return &Prompter{Answer: true}
}

// Declining returns a Prompter declining every host.
func Declining() *Prompter {
	return &Prompter{}
}

// Handler returns the confirmation function.
func (p *Prompter) Handler() confirmation.Func {
	return func(ctx context.Context, message string) bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.messages = append(p.messages, message)
		return p.Answer
	}
}

// Count returns how many prompts were shown.
func (p *Prompter) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

// Messages returns the prompts shown so far.
func (p *Prompter) Messages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.messages...)
}

// WriteTestFile writes content to a file in the given directory
func WriteTestFile(t *testing.T, dir, filename string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, content, 0600); err != nil {
		t.Fatalf("failed to write test file %s: %v", path, err)
	}
	return path
}

// MustMarshal marshals v to JSON or fails the test
func MustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	return data
}
