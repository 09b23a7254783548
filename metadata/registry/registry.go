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

// Package registry keeps the set of known pack repositories and merges
// their pack indexes into one catalog.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/singleflight"

	"github.com/packman-dev/packman/metadata"
	"github.com/packman-dev/packman/metadata/confirmation"
	"github.com/packman-dev/packman/metadata/fetcher"
	"github.com/packman-dev/packman/metadata/metrics"
)

const (
	DefaultPackIndexMaxLength = 2000000 // bytes
	DefaultIconMaxLength      = 1000000 // bytes
)

// RepositoryState is the state of one repository in the current session.
type RepositoryState struct {
	URL     string
	Fetched bool
}

type repoState struct {
	fetched bool
	// generation changes when the URL is added again, so a refresh which
	// started before the re-add doesn't mark it fetched.
	generation uint64
}

// Registry is the set of known repositories and the catalog merged from
// their pack indexes. The catalog is only written by refreshes, which
// never overlap.
type Registry struct {
	mu           sync.Mutex
	repositories map[string]*repoState
	contrib      map[string]metadata.PackMap
	packs        metadata.PackMap

	fetcher        fetcher.Fetcher
	store          confirmation.TrustStore
	gate           *confirmation.Gate
	metrics        metrics.Metrics
	indexMaxLength int64
	iconMaxLength  int64
	refresh        singleflight.Group
}

// Option configures a Registry.
type Option func(*Registry)

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithMaxLengths bounds the size of pack indexes and icons.
func WithMaxLengths(index, icon int64) Option {
	return func(r *Registry) {
		r.indexMaxLength = index
		r.iconMaxLength = icon
	}
}

var log = metadata.ComponentLogger{Component: "registry"}

// New creates an empty registry fetching through f. Unknown hosts are
// confirmed through gate and the answers recorded in store.
func New(f fetcher.Fetcher, store confirmation.TrustStore, gate *confirmation.Gate, opts ...Option) *Registry {
	r := &Registry{
		repositories:   map[string]*repoState{},
		contrib:        map[string]metadata.PackMap{},
		packs:          metadata.PackMap{},
		fetcher:        f,
		store:          store,
		gate:           gate,
		metrics:        metrics.Noop{},
		indexMaxLength: DefaultPackIndexMaxLength,
		iconMaxLength:  DefaultIconMaxLength,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddRepository schedules url for the next refresh. Only https:// URLs
// and http://localhost/ are accepted; any other URL is rejected without
// changing the registry.
func (r *Registry) AddRepository(url string) bool {
	if !metadata.IsAcceptedURL(url) {
		log.Info("Rejected repository url", "url", url)
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.repositories[url]
	if !ok {
		st = &repoState{}
		r.repositories[url] = st
	}
	st.fetched = false
	st.generation++
	return true
}

// Repositories lists the known repositories ordered by URL.
func (r *Registry) Repositories() []RepositoryState {
	r.mu.Lock()
	defer r.mu.Unlock()
	urls := maps.Keys(r.repositories)
	slices.Sort(urls)
	res := make([]RepositoryState, 0, len(urls))
	for _, u := range urls {
		res = append(res, RepositoryState{URL: u, Fetched: r.repositories[u].fetched})
	}
	return res
}

// Pending reports whether any repository still needs fetching.
func (r *Registry) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.repositories {
		if !st.fetched {
			return true
		}
	}
	return false
}

// RefreshAll fetches every unfetched repository in URL order. A
// repository that can't be fetched, is declined or fails validation is
// skipped and stays unfetched; the others are merged into the catalog and
// marked fetched. The returned error joins the per-repository failures
// and is informational: the catalog is updated either way.
func (r *Registry) RefreshAll(ctx context.Context) error {
	_, err, _ := r.refresh.Do("refresh", func() (any, error) {
		return nil, r.refreshAll(ctx)
	})
	return err
}

// Refresh runs RefreshAll and calls onDone exactly once, after every
// repository was attempted.
func (r *Registry) Refresh(ctx context.Context, onDone func(error)) {
	err := r.RefreshAll(ctx)
	if onDone != nil {
		onDone(err)
	}
}

type pending struct {
	url        string
	generation uint64
}

func (r *Registry) refreshAll(ctx context.Context) error {
	r.mu.Lock()
	var todo []pending
	for u, st := range r.repositories {
		if !st.fetched {
			todo = append(todo, pending{url: u, generation: st.generation})
		}
	}
	r.mu.Unlock()
	slices.SortFunc(todo, func(a, b pending) bool { return a.url < b.url })

	var errs []error
	for _, p := range todo {
		packs, err := r.fetchIndex(ctx, p.url)
		if err != nil {
			log.Error(err, "Skipping repository", "url", p.url)
			errs = append(errs, fmt.Errorf("repository %s: %w", p.url, err))
			continue
		}
		r.mu.Lock()
		r.contrib[p.url] = packs
		if st := r.repositories[p.url]; st != nil && st.generation == p.generation {
			st.fetched = true
		}
		r.mu.Unlock()
	}

	r.mu.Lock()
	r.merge()
	r.mu.Unlock()
	return errors.Join(errs...)
}

// merge rebuilds the catalog from the per-repository indexes in URL
// order, so a later repository wins a UID conflict. Callers hold r.mu.
func (r *Registry) merge() {
	urls := maps.Keys(r.contrib)
	slices.Sort(urls)
	packs := metadata.PackMap{}
	owner := map[string]string{}
	for _, u := range urls {
		for uid, info := range r.contrib[u] {
			if prev, ok := owner[uid]; ok {
				log.Info("Pack provided by more than one repository", "uid", uid, "kept", u, "dropped", prev)
			}
			packs[uid] = info
			owner[uid] = u
		}
	}
	r.packs = packs
}

func (r *Registry) fetchIndex(ctx context.Context, url string) (metadata.PackMap, error) {
	host, err := metadata.HostOf(url)
	if err != nil {
		r.metrics.IncFetch("index", "error")
		return nil, err
	}
	if err := r.gate.Confirm(ctx, r.store, host, "fetch its pack list"); err != nil {
		return nil, err
	}
	res, err := r.fetcher.Get(ctx, url, r.indexMaxLength)
	if err != nil {
		r.metrics.IncFetch("index", "error")
		return nil, err
	}
	r.mu.Lock()
	prev, seen := r.contrib[url]
	r.mu.Unlock()
	if res.NotModified && seen {
		r.metrics.IncFetch("index", "not_modified")
		return prev, nil
	}
	packs, err := metadata.PackIndexFromBytes(res.Data)
	if err != nil {
		r.metrics.IncFetch("index", "invalid")
		return nil, err
	}
	r.metrics.IncFetch("index", "ok")
	log.Info("Fetched pack index", "url", url, "packs", len(packs))
	return packs, nil
}

// GetAvailablePacks returns a copy of the merged catalog, refreshing
// first if any repository is unfetched. Without unfetched repositories no
// request is made.
func (r *Registry) GetAvailablePacks(ctx context.Context) (metadata.PackMap, error) {
	var err error
	if r.Pending() {
		err = r.RefreshAll(ctx)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.packs.Clone(), err
}

// FetchIcon downloads a pack icon. The icon host goes through the same
// confirmation as repositories.
func (r *Registry) FetchIcon(ctx context.Context, url string) ([]byte, error) {
	if !metadata.IsAcceptedURL(url) {
		return nil, metadata.ErrRejectedURLScheme{URL: url}
	}
	host, err := metadata.HostOf(url)
	if err != nil {
		return nil, err
	}
	if err := r.gate.Confirm(ctx, r.store, host, "fetch a pack icon"); err != nil {
		return nil, err
	}
	res, err := r.fetcher.Get(ctx, url, r.iconMaxLength)
	if err != nil {
		r.metrics.IncFetch("icon", "error")
		return nil, err
	}
	r.metrics.IncFetch("icon", "ok")
	return res.Data, nil
}
