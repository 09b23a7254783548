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

package confirmation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packman-dev/packman/metadata"
	"github.com/packman-dev/packman/metadata/truststore"
)

func TestRequestWithoutHandlerDenies(t *testing.T) {
	g := New(nil)
	assert.False(t, g.Request(context.Background(), "example.com", "Allow?"))
}

func TestRequestPassesMessage(t *testing.T) {
	var got string
	g := New(func(ctx context.Context, message string) bool {
		got = message
		return true
	})
	assert.True(t, g.Request(context.Background(), "example.com", "Allow example.com?"))
	assert.Equal(t, "Allow example.com?", got)
}

func TestRequestCoalescesConcurrentPrompts(t *testing.T) {
	var prompts atomic.Int32
	release := make(chan struct{})
	g := New(func(ctx context.Context, message string) bool {
		prompts.Add(1)
		<-release
		return true
	})

	const callers = 5
	var started, done sync.WaitGroup
	started.Add(callers)
	done.Add(callers)
	answers := make([]bool, callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer done.Done()
			started.Done()
			answers[i] = g.Request(context.Background(), "example.com", "Allow?")
		}(i)
	}
	started.Wait()
	// give every caller time to join the pending prompt
	time.Sleep(100 * time.Millisecond)
	close(release)
	done.Wait()

	assert.Equal(t, int32(1), prompts.Load())
	for _, a := range answers {
		assert.True(t, a)
	}
}

func TestConfirm(t *testing.T) {
	for _, tt := range []struct {
		name          string
		desc          string
		setup         func(ts *truststore.TrustStore)
		handler       Func
		wantErr       error
		wantPrompts   int
		wantTrusted   bool
		wantUntrusted bool
	}{
		{
			name:        "trusted",
			desc:        "Known good hosts are not prompted for",
			setup:       func(ts *truststore.TrustStore) { _ = ts.MarkTrusted("example.com") },
			handler:     func(context.Context, string) bool { return false },
			wantTrusted: true,
		},
		{
			name:          "untrusted",
			desc:          "Declined hosts are never prompted for again",
			setup:         func(ts *truststore.TrustStore) { _ = ts.MarkUntrusted("example.com") },
			handler:       func(context.Context, string) bool { return true },
			wantErr:       metadata.ErrUntrustedHost{Host: "example.com"},
			wantUntrusted: true,
		},
		{
			name:        "accepted",
			desc:        "An accepted prompt trusts the host",
			handler:     func(context.Context, string) bool { return true },
			wantPrompts: 1,
			wantTrusted: true,
		},
		{
			name:          "declined",
			desc:          "A declined prompt distrusts the host",
			handler:       func(context.Context, string) bool { return false },
			wantErr:       metadata.ErrUntrustedHost{Host: "example.com"},
			wantPrompts:   1,
			wantUntrusted: true,
		},
		{
			name:    "no handler",
			desc:    "Fails closed without recording a decision",
			wantErr: metadata.ErrUntrustedHost{Host: "example.com"},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Logf("Desc: %s", tt.desc)
			ts := truststore.NewInMemory()
			if tt.setup != nil {
				tt.setup(ts)
			}
			prompts := 0
			g := New(nil)
			if tt.handler != nil {
				g.SetHandler(func(ctx context.Context, message string) bool {
					prompts++
					assert.Contains(t, message, "example.com")
					return tt.handler(ctx, message)
				})
			}
			err := g.Confirm(context.Background(), ts, "example.com", "check for updates")
			if tt.wantErr == nil {
				require.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, tt.wantPrompts, prompts)
			assert.Equal(t, tt.wantTrusted, ts.IsTrusted("example.com"))
			assert.Equal(t, tt.wantUntrusted, ts.IsUntrusted("example.com"))
		})
	}
}
