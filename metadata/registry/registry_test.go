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

package registry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packman-dev/packman/internal/testutils/simulator"
	"github.com/packman-dev/packman/metadata"
	"github.com/packman-dev/packman/metadata/confirmation"
	"github.com/packman-dev/packman/metadata/truststore"
)

const (
	indexURL   = "https://example.com/index.json"
	otherURL   = "https://mirror.example.org/index.json"
	versionURL = "https://example.com/demo/versions.json"
)

func acceptAll(prompts *atomic.Int32) confirmation.Func {
	return func(ctx context.Context, message string) bool {
		prompts.Add(1)
		return true
	}
}

func newRegistry(t *testing.T, sim *simulator.PackRepository, handler confirmation.Func) (*Registry, *truststore.TrustStore) {
	t.Helper()
	store := truststore.NewInMemory()
	return New(sim, store, confirmation.New(handler)), store
}

func TestAddAndFetch(t *testing.T) {
	sim := simulator.New()
	sim.PublishJSON(indexURL, metadata.PackMap{"demo-uid": simulator.Pack("Demo", versionURL)})

	var prompts atomic.Int32
	r, store := newRegistry(t, sim, acceptAll(&prompts))
	assert.True(t, r.AddRepository(indexURL))
	assert.Equal(t, []RepositoryState{{URL: indexURL}}, r.Repositories())

	packs, err := r.GetAvailablePacks(context.Background())
	require.NoError(t, err)
	require.Contains(t, packs, "demo-uid")
	assert.Equal(t, "Demo", packs["demo-uid"].Name)
	assert.Equal(t, versionURL, packs["demo-uid"].VersionsURL)
	assert.Equal(t, []RepositoryState{{URL: indexURL, Fetched: true}}, r.Repositories())
	assert.True(t, store.IsTrusted("example.com"))
	assert.Equal(t, int32(1), prompts.Load())

	// everything fetched, nothing is requested again
	before := sim.TotalFetches()
	again, err := r.GetAvailablePacks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, packs, again)
	assert.Equal(t, before, sim.TotalFetches())
}

func TestGetAvailablePacksReturnsCopy(t *testing.T) {
	sim := simulator.New()
	sim.PublishJSON(indexURL, metadata.PackMap{"demo-uid": simulator.Pack("Demo", versionURL)})
	var prompts atomic.Int32
	r, _ := newRegistry(t, sim, acceptAll(&prompts))
	r.AddRepository(indexURL)

	packs, err := r.GetAvailablePacks(context.Background())
	require.NoError(t, err)
	delete(packs, "demo-uid")

	packs, err = r.GetAvailablePacks(context.Background())
	require.NoError(t, err)
	assert.Contains(t, packs, "demo-uid")
}

func TestAddRepositoryRejectsScheme(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want bool
	}{
		{name: "https", url: "https://example.com/index.json", want: true},
		{name: "uppercase https", url: "HTTPS://example.com/index.json", want: true},
		{name: "localhost", url: "http://localhost/index.json", want: true},
		{name: "plain http", url: "http://example.com/index.json", want: false},
		{name: "localhost with port", url: "http://localhost:8080/index.json", want: false},
		{name: "file", url: "file:///tmp/index.json", want: false},
		{name: "ftp", url: "ftp://example.com/index.json", want: false},
		{name: "empty", url: "", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newRegistry(t, simulator.New(), nil)
			assert.Equal(t, tt.want, r.AddRepository(tt.url))
			if !tt.want {
				assert.Empty(t, r.Repositories())
			}
		})
	}
}

func TestAddRepositoryResetsFetched(t *testing.T) {
	sim := simulator.New()
	sim.PublishJSON(indexURL, metadata.PackMap{"demo-uid": simulator.Pack("Demo", versionURL)})
	var prompts atomic.Int32
	r, _ := newRegistry(t, sim, acceptAll(&prompts))
	r.AddRepository(indexURL)
	require.NoError(t, r.RefreshAll(context.Background()))
	assert.Equal(t, 1, sim.Fetches(indexURL))

	sim.PublishJSON(indexURL, metadata.PackMap{
		"demo-uid":  simulator.Pack("Demo", versionURL),
		"other-uid": simulator.Pack("Other", versionURL),
	})
	r.AddRepository(indexURL)
	assert.Equal(t, []RepositoryState{{URL: indexURL}}, r.Repositories())

	packs, err := r.GetAvailablePacks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sim.Fetches(indexURL))
	assert.Len(t, packs, 2)
}

func TestRefreshPartialFailure(t *testing.T) {
	tests := []struct {
		name  string
		setup func(sim *simulator.PackRepository)
	}{
		{
			name: "transport error",
			setup: func(sim *simulator.PackRepository) {
				sim.Fail(otherURL, metadata.ErrTransport{Msg: "connection refused"})
			},
		},
		{
			name: "not found",
			setup: func(sim *simulator.PackRepository) {},
		},
		{
			name: "invalid index",
			setup: func(sim *simulator.PackRepository) {
				sim.Publish(otherURL, []byte(`{"bad-uid": {"name": "missing fields"}}`))
			},
		},
		{
			name: "not json",
			setup: func(sim *simulator.PackRepository) {
				sim.Publish(otherURL, []byte(`<html></html>`))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := simulator.New()
			sim.PublishJSON(indexURL, metadata.PackMap{"demo-uid": simulator.Pack("Demo", versionURL)})
			tt.setup(sim)

			var prompts atomic.Int32
			r, _ := newRegistry(t, sim, acceptAll(&prompts))
			r.AddRepository(indexURL)
			r.AddRepository(otherURL)

			var done int
			var doneErr error
			r.Refresh(context.Background(), func(err error) {
				done++
				doneErr = err
			})
			assert.Equal(t, 1, done)
			assert.Error(t, doneErr)

			packs, err := r.GetAvailablePacks(context.Background())
			require.Error(t, err)
			assert.Contains(t, packs, "demo-uid")
			assert.NotContains(t, packs, "bad-uid")
			assert.Equal(t, []RepositoryState{
				{URL: indexURL, Fetched: true},
				{URL: otherURL, Fetched: false},
			}, r.Repositories())
		})
	}
}

func TestFailedRepositoryRetried(t *testing.T) {
	sim := simulator.New()
	sim.PublishJSON(indexURL, metadata.PackMap{"demo-uid": simulator.Pack("Demo", versionURL)})
	sim.Fail(otherURL, metadata.ErrTransport{Msg: "connection refused"})

	var prompts atomic.Int32
	r, _ := newRegistry(t, sim, acceptAll(&prompts))
	r.AddRepository(indexURL)
	r.AddRepository(otherURL)

	// a failed repository stays pending and is retried, fetched ones are not
	for i := 1; i <= 2; i++ {
		_, err := r.GetAvailablePacks(context.Background())
		require.Error(t, err)
		assert.Equal(t, 1, sim.Fetches(indexURL))
		assert.Equal(t, i, sim.Fetches(otherURL))
		assert.True(t, r.Pending())
	}

	sim.PublishJSON(otherURL, metadata.PackMap{"other-uid": simulator.Pack("Other", versionURL)})
	packs, err := r.GetAvailablePacks(context.Background())
	require.NoError(t, err)
	assert.Contains(t, packs, "demo-uid")
	assert.Contains(t, packs, "other-uid")
	assert.False(t, r.Pending())

	before := sim.TotalFetches()
	_, err = r.GetAvailablePacks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before, sim.TotalFetches())
}

func TestRefreshDeclinedHost(t *testing.T) {
	sim := simulator.New()
	sim.PublishJSON(indexURL, metadata.PackMap{"demo-uid": simulator.Pack("Demo", versionURL)})

	var prompts atomic.Int32
	r, store := newRegistry(t, sim, func(ctx context.Context, message string) bool {
		prompts.Add(1)
		return false
	})
	r.AddRepository(indexURL)

	err := r.RefreshAll(context.Background())
	assert.True(t, errors.Is(err, metadata.ErrUntrustedHost{}))
	assert.True(t, store.IsUntrusted("example.com"))
	assert.Zero(t, sim.Fetches(indexURL))

	// a declined host isn't asked about again
	err = r.RefreshAll(context.Background())
	assert.True(t, errors.Is(err, metadata.ErrUntrustedHost{}))
	assert.Equal(t, int32(1), prompts.Load())
}

func TestMergeLaterRepositoryWins(t *testing.T) {
	sim := simulator.New()
	sim.PublishJSON(indexURL, metadata.PackMap{
		"demo-uid": simulator.Pack("From example.com", versionURL),
		"only-a":   simulator.Pack("A", versionURL),
	})
	sim.PublishJSON(otherURL, metadata.PackMap{
		"demo-uid": simulator.Pack("From mirror", versionURL),
		"only-b":   simulator.Pack("B", versionURL),
	})
	var prompts atomic.Int32
	r, _ := newRegistry(t, sim, acceptAll(&prompts))
	// insertion order doesn't matter, URL order does
	r.AddRepository(otherURL)
	r.AddRepository(indexURL)

	packs, err := r.GetAvailablePacks(context.Background())
	require.NoError(t, err)
	assert.Len(t, packs, 3)
	assert.Equal(t, "From mirror", packs["demo-uid"].Name)
	assert.Equal(t, int32(2), prompts.Load())
}

func TestRefreshNotModifiedKeepsPacks(t *testing.T) {
	sim := simulator.New()
	sim.Conditional = true
	sim.PublishJSON(indexURL, metadata.PackMap{"demo-uid": simulator.Pack("Demo", versionURL)})
	var prompts atomic.Int32
	r, _ := newRegistry(t, sim, acceptAll(&prompts))

	r.AddRepository(indexURL)
	require.NoError(t, r.RefreshAll(context.Background()))
	r.AddRepository(indexURL)
	packs, err := r.GetAvailablePacks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sim.Fetches(indexURL))
	assert.Contains(t, packs, "demo-uid")
}

func TestFetchIcon(t *testing.T) {
	const iconURL = "https://example.com/demo/icon.png"
	sim := simulator.New()
	sim.Publish(iconURL, []byte{0x89, 'P', 'N', 'G'})
	var prompts atomic.Int32
	r, _ := newRegistry(t, sim, acceptAll(&prompts))

	icon, err := r.FetchIcon(context.Background(), iconURL)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, icon)

	_, err = r.FetchIcon(context.Background(), "http://example.com/demo/icon.png")
	assert.True(t, errors.Is(err, metadata.ErrRejectedURLScheme{}))
}
