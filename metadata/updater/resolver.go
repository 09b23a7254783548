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

package updater

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/packman-dev/packman/metadata"
	"github.com/packman-dev/packman/metadata/config"
	"github.com/packman-dev/packman/metadata/confirmation"
	"github.com/packman-dev/packman/metadata/fetcher"
	"github.com/packman-dev/packman/metadata/metrics"
)

// Update is the single version chosen for an installed pack.
type Update struct {
	UID              string
	InstalledVersion string
	Version          string
	DownloadURL      string
	SHA256           string
	Changelog        []string
}

// SkipRules is the part of the trust store the resolver consults.
type SkipRules interface {
	confirmation.TrustStore
	IsIgnoredSHA256(uid, sha256 string) bool
	IsTempIgnoredSourceVersion(uid, version string) bool
}

// Resolver decides whether an installed pack has an update.
type Resolver struct {
	cfg     *config.UpdaterConfig
	fetcher fetcher.Fetcher
	store   SkipRules
	gate    *confirmation.Gate
	metrics metrics.Metrics

	mu     sync.Mutex
	parsed map[string]*metadata.VersionInfo
	checks singleflight.Group
}

var rlog = metadata.ComponentLogger{Component: "resolver"}

// NewResolver creates a resolver. A nil m disables metrics.
func NewResolver(cfg *config.UpdaterConfig, f fetcher.Fetcher, store SkipRules, gate *confirmation.Gate, m metrics.Metrics) *Resolver {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Resolver{
		cfg:     cfg,
		fetcher: f,
		store:   store,
		gate:    gate,
		metrics: m,
		parsed:  map[string]*metadata.VersionInfo{},
	}
}

// FetchVersions downloads and validates the versions document at
// versionsURL. When the server reports it unchanged, the previously
// parsed document is returned.
func (r *Resolver) FetchVersions(ctx context.Context, versionsURL string) (*metadata.VersionInfo, error) {
	if !metadata.IsAcceptedURL(versionsURL) {
		return nil, metadata.ErrRejectedURLScheme{URL: versionsURL}
	}
	host, err := metadata.HostOf(versionsURL)
	if err != nil {
		return nil, err
	}
	if err := r.gate.Confirm(ctx, r.store, host, "check for pack updates"); err != nil {
		return nil, err
	}

	// fetching
	res, err := r.fetcher.Get(ctx, versionsURL, r.cfg.VersionListMaxLength)
	if err != nil {
		r.metrics.IncFetch("versions", "error")
		return nil, err
	}
	r.mu.Lock()
	prev := r.parsed[versionsURL]
	r.mu.Unlock()
	if res.NotModified && prev != nil {
		r.metrics.IncFetch("versions", "not_modified")
		return prev, nil
	}

	// validating
	info, err := metadata.VersionInfoFromBytes(res.Data)
	if err != nil {
		r.metrics.IncFetch("versions", "invalid")
		return nil, err
	}
	r.metrics.IncFetch("versions", "ok")
	r.mu.Lock()
	r.parsed[versionsURL] = info
	r.mu.Unlock()
	return info, nil
}

// Check fetches the versions of uid from versionsURL and returns the
// version to offer instead of installed, or nil if there is none.
// Identical checks running at the same time share one fetch.
func (r *Resolver) Check(ctx context.Context, uid, installed, versionsURL string) (*Update, error) {
	key := strings.Join([]string{uid, installed, versionsURL}, "\x00")
	v, err, _ := r.checks.Do(key, func() (any, error) {
		return r.check(ctx, uid, installed, versionsURL)
	})
	if err != nil {
		return nil, err
	}
	update, _ := v.(*Update)
	return update, nil
}

func (r *Resolver) check(ctx context.Context, uid, installed, versionsURL string) (*Update, error) {
	id := uuid.NewString()
	rlog.Info("Checking for update", "request_id", id, "uid", uid, "installed", installed, "url", versionsURL)
	info, err := r.FetchVersions(ctx, versionsURL)
	if err != nil {
		r.metrics.IncCheck("failed")
		rlog.Error(err, "Update check failed", "request_id", id, "uid", uid)
		return nil, err
	}

	// policy filtering
	update := r.choose(uid, installed, info)
	if update == nil {
		r.metrics.IncCheck("none")
		rlog.Info("No update", "request_id", id, "uid", uid)
		return nil, nil
	}
	r.metrics.IncCheck("available")
	rlog.Info("Update available", "request_id", id, "uid", uid, "version", update.Version)
	return update, nil
}

// Candidates returns the entries of info that may be offered for uid at
// installed version, in list order.
func (r *Resolver) Candidates(uid, installed string, info *metadata.VersionInfo) []metadata.PackVersion {
	var res []metadata.PackVersion
	for _, v := range info.Versions {
		if !v.Available() || v.PackageVersion == installed {
			continue
		}
		if r.store.IsIgnoredSHA256(uid, v.Digest()) {
			continue
		}
		if r.store.IsTempIgnoredSourceVersion(uid, v.PackageVersion) {
			continue
		}
		if r.cfg.OnlyNewer && metadata.CompareVersions(v.PackageVersion, installed) <= 0 {
			continue
		}
		res = append(res, v)
	}
	return res
}

// choose picks the highest candidate; of equal versions the first listed
// wins.
func (r *Resolver) choose(uid, installed string, info *metadata.VersionInfo) *Update {
	var best *metadata.PackVersion
	candidates := r.Candidates(uid, installed, info)
	for i := range candidates {
		if best == nil || metadata.CompareVersions(candidates[i].PackageVersion, best.PackageVersion) > 0 {
			best = &candidates[i]
		}
	}
	if best == nil {
		return nil
	}
	return &Update{
		UID:              uid,
		InstalledVersion: installed,
		Version:          best.PackageVersion,
		DownloadURL:      *best.DownloadURL,
		SHA256:           metadata.NormalizeDigest(best.Digest()),
		Changelog:        best.Changelog,
	}
}
