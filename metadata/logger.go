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

package metadata

import "sync"

var (
	logMu sync.RWMutex
	log   Logger = DiscardLogger{}
)

// Logger is the subset of go-logr/logr's interface used by packman, so a
// logr.Logger (for instance from stdr) can be passed to SetLogger as is.
type Logger interface {
	// Info logs a non-error message with key/value pairs
	Info(msg string, kv ...any)
	// Error logs an error with a given message and key/value pairs.
	Error(err error, msg string, kv ...any)
}

type DiscardLogger struct{}

func (d DiscardLogger) Info(msg string, kv ...any) {
}

func (d DiscardLogger) Error(err error, msg string, kv ...any) {
}

// SetLogger replaces the package wide logger. A nil logger discards.
func SetLogger(logger Logger) {
	if logger == nil {
		logger = DiscardLogger{}
	}
	logMu.Lock()
	log = logger
	logMu.Unlock()
}

func GetLogger() Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return log
}

// ComponentLogger tags every record of the current package logger with a
// component name. The package logger is looked up on each call so a later
// SetLogger takes effect.
type ComponentLogger struct {
	Component string
}

func (c ComponentLogger) Info(msg string, kv ...any) {
	GetLogger().Info(msg, append([]any{"component", c.Component}, kv...)...)
}

func (c ComponentLogger) Error(err error, msg string, kv ...any) {
	GetLogger().Error(err, msg, append([]any{"component", c.Component}, kv...)...)
}
