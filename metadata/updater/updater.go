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

// Package updater checks installed packs for updates and downloads
// verified replacements.
//
// An Updater owns every part of the workflow:
//   - the registry of pack repositories and the merged catalog,
//   - the trust store with host decisions and skip rules, persisted to
//     the state file,
//   - the confirmation gate asking the host application before an
//     unknown server is contacted,
//   - the resolver choosing the version to offer for an installed pack,
//   - the downloader installing archives only if their SHA-256 matches.
//
// All methods block the calling goroutine; applications wanting
// asynchronous behaviour call them from their own goroutines and
// receive events through Observe.
package updater

import (
	"context"
	"errors"
	"fmt"

	"github.com/packman-dev/packman/metadata"
	"github.com/packman-dev/packman/metadata/config"
	"github.com/packman-dev/packman/metadata/confirmation"
	"github.com/packman-dev/packman/metadata/fetcher"
	"github.com/packman-dev/packman/metadata/metrics"
	"github.com/packman-dev/packman/metadata/registry"
	"github.com/packman-dev/packman/metadata/truststore"
)

// Updater is the entry point to pack discovery, update checks and
// downloads.
type Updater struct {
	cfg        *config.UpdaterConfig
	fetcher    fetcher.Fetcher
	closers    []func() error
	store      *truststore.TrustStore
	gate       *confirmation.Gate
	registry   *registry.Registry
	resolver   *Resolver
	downloader *Downloader
	metrics    metrics.Metrics
	events     *observers
	handler    confirmation.Func
}

// Option configures an Updater.
type Option func(*Updater)

// WithFetcher replaces the HTTP fetcher.
func WithFetcher(f fetcher.Fetcher) Option {
	return func(up *Updater) {
		up.fetcher = f
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.Metrics) Option {
	return func(up *Updater) {
		up.metrics = m
	}
}

// WithTrustStore replaces the trust store loaded from the state file.
func WithTrustStore(ts *truststore.TrustStore) Option {
	return func(up *Updater) {
		up.store = ts
	}
}

// WithConfirmationHandler sets the initial confirmation handler.
func WithConfirmationHandler(fn confirmation.Func) Option {
	return func(up *Updater) {
		up.handler = fn
	}
}

var log = metadata.ComponentLogger{Component: "updater"}

// New creates an Updater from cfg, loading the trust store from
// cfg.StatePath and scheduling cfg.Repositories. A nil cfg uses the
// defaults.
func New(cfg *config.UpdaterConfig, opts ...Option) (*Updater, error) {
	if cfg == nil {
		cfg = config.New()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	up := &Updater{
		cfg:     cfg,
		metrics: metrics.Noop{},
		events:  &observers{},
	}
	for _, opt := range opts {
		opt(up)
	}

	if up.fetcher == nil {
		f, err := up.newFetcher()
		if err != nil {
			return nil, err
		}
		up.fetcher = f
	}
	if up.store == nil {
		if cfg.StatePath == "" {
			up.store = truststore.NewInMemory()
		} else {
			ts, err := truststore.Open(cfg.Path(cfg.StatePath))
			if err != nil {
				up.Close()
				return nil, fmt.Errorf("load state: %w", err)
			}
			up.store = ts
		}
	}

	up.gate = confirmation.New(nil)
	up.SetConfirmationHandler(up.handler)
	up.registry = registry.New(up.fetcher, up.store, up.gate,
		registry.WithMetrics(up.metrics),
		registry.WithMaxLengths(cfg.PackIndexMaxLength, cfg.IconMaxLength))
	up.resolver = NewResolver(cfg, up.fetcher, up.store, up.gate, up.metrics)
	up.downloader = NewDownloader(cfg, up.fetcher, up.metrics, up.events)

	for _, u := range cfg.Repositories {
		if !up.registry.AddRepository(u) {
			log.Info("Ignoring configured repository", "url", u)
		}
	}
	return up, nil
}

func (up *Updater) newFetcher() (fetcher.Fetcher, error) {
	cfg := up.cfg
	opts := []fetcher.Option{
		fetcher.WithUserAgent(cfg.UserAgent),
		fetcher.WithHeaders(cfg.Headers),
		fetcher.WithMaxRedirects(cfg.MaxRedirects),
		fetcher.WithTimeout(cfg.Timeout),
		fetcher.WithTrustedHosts(func(host string) bool {
			return up.store != nil && up.store.IsTrusted(host)
		}),
	}
	if !cfg.DisableLocalCache && cfg.CacheDir != "" {
		cache, err := fetcher.NewCache(cfg.Path(cfg.CacheDir))
		if err != nil {
			return nil, fmt.Errorf("open response cache: %w", err)
		}
		opts = append(opts, fetcher.WithCache(cache))
	}
	df := fetcher.New(opts...)
	up.closers = append(up.closers, df.Close)
	return fetcher.NewCircuitBreakerFetcher(df, 0), nil
}

// Close releases the resources of the default fetcher.
func (up *Updater) Close() error {
	var errs []error
	for _, c := range up.closers {
		errs = append(errs, c())
	}
	up.closers = nil
	return errors.Join(errs...)
}

// Config returns the configuration in use.
func (up *Updater) Config() *config.UpdaterConfig {
	return up.cfg
}

// TrustStore returns the trust store in use.
func (up *Updater) TrustStore() *truststore.TrustStore {
	return up.store
}

// Observe registers obs for update and download events.
func (up *Updater) Observe(obs Observer) {
	up.events.add(obs)
}

// SetConfirmationHandler sets the function asked before an unknown host
// is contacted. Without a handler unknown hosts are denied.
func (up *Updater) SetConfirmationHandler(fn confirmation.Func) {
	up.handler = fn
	if fn == nil {
		up.gate.SetHandler(nil)
		return
	}
	up.gate.SetHandler(func(ctx context.Context, message string) bool {
		answer := fn(ctx, message)
		if answer {
			up.metrics.IncPrompt("accepted")
		} else {
			up.metrics.IncPrompt("declined")
		}
		return answer
	})
}

// AddRepository schedules a pack repository. See registry.Registry.
func (up *Updater) AddRepository(url string) bool {
	return up.registry.AddRepository(url)
}

// Repositories lists the known repositories.
func (up *Updater) Repositories() []registry.RepositoryState {
	return up.registry.Repositories()
}

// GetAvailablePacks returns the merged catalog of all repositories. A
// non-nil error reports repositories that were skipped; the catalog
// holds the others.
func (up *Updater) GetAvailablePacks(ctx context.Context) (metadata.PackMap, error) {
	return up.registry.GetAvailablePacks(ctx)
}

// GetCommunityVersion returns the validated versions document at
// versionsURL.
func (up *Updater) GetCommunityVersion(ctx context.Context, versionsURL string) (*metadata.VersionInfo, error) {
	return up.resolver.FetchVersions(ctx, versionsURL)
}

// GetIcon downloads the icon at url.
func (up *Updater) GetIcon(ctx context.Context, url string) ([]byte, error) {
	return up.registry.FetchIcon(ctx, url)
}

// PackIcon returns the icon of a pack, preferring inline icon data. A
// pack without an icon yields nil.
func (up *Updater) PackIcon(ctx context.Context, info metadata.PackInfo) ([]byte, error) {
	if len(info.IconData) > 0 {
		return info.IconData, nil
	}
	if info.IconURL == nil || *info.IconURL == "" {
		return nil, nil
	}
	return up.GetIcon(ctx, *info.IconURL)
}

// CheckForUpdate checks uid at version against versionsURL. Exactly one
// of onAvailable and onNone is called unless an error is returned. A
// declined host is reported as no update. Either callback may be nil.
func (up *Updater) CheckForUpdate(ctx context.Context, uid, version, versionsURL string, onAvailable func(*Update), onNone func(uid string)) error {
	update, err := up.resolver.Check(ctx, uid, version, versionsURL)
	if err != nil && !errors.Is(err, metadata.ErrUntrustedHost{}) {
		return err
	}
	if update == nil {
		if onNone != nil {
			onNone(uid)
		}
		return nil
	}
	up.events.UpdateAvailable(update)
	if onAvailable != nil {
		onAvailable(update)
	}
	return nil
}

// CheckPack is CheckForUpdate for an installed pack.
func (up *Updater) CheckPack(ctx context.Context, pack metadata.Pack, onAvailable func(*Update), onNone func(uid string)) error {
	if pack == nil {
		return metadata.ErrValue{Msg: "no pack to check"}
	}
	return up.CheckForUpdate(ctx, pack.UID(), pack.Version(), pack.VersionsURL(), onAvailable, onNone)
}

// IgnoreUpdateSHA256 stops offering the download with the given digest
// for uid.
func (up *Updater) IgnoreUpdateSHA256(uid, sha256 string) error {
	return up.store.IgnoreUpdateSHA256(uid, sha256)
}

// TempIgnoreSourceVersion stops offering version for uid until
// ClearTempIgnores is called.
func (up *Updater) TempIgnoreSourceVersion(uid, version string) error {
	return up.store.TempIgnoreSourceVersion(uid, version)
}

// ClearTempIgnores removes every temporarily ignored version of uid.
func (up *Updater) ClearTempIgnores(uid string) error {
	return up.store.ClearTempIgnoredSourceVersions(uid)
}

// DownloadUpdate downloads url into installDir, or the configured
// install directory if installDir is empty, and verifies it against
// sha256.
func (up *Updater) DownloadUpdate(ctx context.Context, url, installDir, uid, version, sha256 string) (*Result, error) {
	if installDir == "" {
		installDir = up.cfg.Path(up.cfg.InstallDir)
	}
	if installDir == "" {
		return nil, metadata.ErrValue{Msg: "no install directory configured"}
	}
	return up.downloader.Download(ctx, url, installDir, uid, version, sha256)
}
