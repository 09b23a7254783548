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

// Package confirmation asks the host application whether a previously
// unseen server may be contacted.
package confirmation

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/packman-dev/packman/metadata"
)

// Func asks a human (or a test double) to approve message. It may block
// for as long as it takes to get an answer.
type Func func(ctx context.Context, message string) bool

// TrustStore is the part of the trust store the gate records answers in.
type TrustStore interface {
	IsTrusted(host string) bool
	IsUntrusted(host string) bool
	MarkTrusted(host string) error
	MarkUntrusted(host string) error
}

// Gate forwards confirmation requests to a single host provided Func.
// Without a Func every request is denied.
type Gate struct {
	mu      sync.RWMutex
	handler Func
	group   singleflight.Group
}

var log = metadata.ComponentLogger{Component: "confirmation"}

// New returns a gate using handler, which may be nil.
func New(handler Func) *Gate {
	return &Gate{handler: handler}
}

// SetHandler replaces the confirmation handler.
func (g *Gate) SetHandler(handler Func) {
	g.mu.Lock()
	g.handler = handler
	g.mu.Unlock()
}

// Request asks the handler about message. Concurrent requests for the
// same host share one prompt and its answer. No retries or timeouts are
// applied; a missing handler denies.
func (g *Gate) Request(ctx context.Context, host, message string) bool {
	answer, _ := g.request(ctx, host, message)
	return answer
}

// request also reports whether a handler was asked at all.
func (g *Gate) request(ctx context.Context, host, message string) (bool, bool) {
	g.mu.RLock()
	handler := g.handler
	g.mu.RUnlock()
	if handler == nil {
		log.Info("No confirmation handler, denying", "host", host)
		return false, false
	}
	v, _, _ := g.group.Do(host, func() (any, error) {
		return handler(ctx, message), nil
	})
	return v.(bool), true
}

// Confirm implements trust on first use for host: known hosts are
// answered from store, unknown ones are asked about once and the answer
// is recorded. A declined or untrusted host yields ErrUntrustedHost.
// Without a handler the host is denied but nothing is recorded, so a
// handler installed later still gets asked.
func (g *Gate) Confirm(ctx context.Context, store TrustStore, host, purpose string) error {
	if store.IsTrusted(host) {
		return nil
	}
	if store.IsUntrusted(host) {
		return metadata.ErrUntrustedHost{Host: host}
	}
	message := fmt.Sprintf("Allow connecting to %s to %s?", host, purpose)
	answer, asked := g.request(ctx, host, message)
	if !asked {
		return metadata.ErrUntrustedHost{Host: host}
	}
	if !answer {
		if err := store.MarkUntrusted(host); err != nil {
			return err
		}
		log.Info("Host declined", "host", host)
		return metadata.ErrUntrustedHost{Host: host}
	}
	if err := store.MarkTrusted(host); err != nil {
		return err
	}
	log.Info("Host trusted", "host", host)
	return nil
}
