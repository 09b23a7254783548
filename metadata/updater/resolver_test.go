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
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packman-dev/packman/internal/testutils/simulator"
	"github.com/packman-dev/packman/metadata"
	"github.com/packman-dev/packman/metadata/config"
	"github.com/packman-dev/packman/metadata/confirmation"
	"github.com/packman-dev/packman/metadata/truststore"
)

const (
	versionsURL = "https://example.com/v.json"
	archiveURL  = "https://example.com/f.zip"
)

var archive = []byte("pack archive contents")

func newResolver(t *testing.T, sim *simulator.PackRepository, cfg *config.UpdaterConfig) (*Resolver, *truststore.TrustStore) {
	t.Helper()
	if cfg == nil {
		cfg = config.New()
	}
	store := truststore.NewInMemory()
	gate := confirmation.New(func(ctx context.Context, message string) bool { return true })
	return NewResolver(cfg, sim, store, gate, nil), store
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func demoVersions() *metadata.VersionInfo {
	return &metadata.VersionInfo{Versions: []metadata.PackVersion{
		simulator.Retracted("1.0"),
		simulator.Version("1.1", archiveURL, archive),
	}}
}

func TestCheckUpdateAvailable(t *testing.T) {
	sim := simulator.New()
	sim.PublishJSON(versionsURL, demoVersions())
	r, store := newResolver(t, sim, nil)

	update, err := r.Check(context.Background(), "demo-uid", "1.0", versionsURL)
	require.NoError(t, err)
	require.NotNil(t, update)
	assert.Equal(t, "demo-uid", update.UID)
	assert.Equal(t, "1.0", update.InstalledVersion)
	assert.Equal(t, "1.1", update.Version)
	assert.Equal(t, archiveURL, update.DownloadURL)
	assert.Equal(t, simulator.Digest(archive), update.SHA256)
	assert.Equal(t, []string{"Release 1.1"}, update.Changelog)
	assert.True(t, store.IsTrusted("example.com"))
}

func TestCheckSkipRules(t *testing.T) {
	digest := simulator.Digest(archive)
	for _, tt := range []struct {
		name   string
		desc   string
		setup  func(t *testing.T, store *truststore.TrustStore)
		wantOK bool
	}{
		{
			name:   "no rules",
			desc:   "Without skip rules 1.1 is offered",
			setup:  func(t *testing.T, store *truststore.TrustStore) {},
			wantOK: true,
		},
		{
			name: "ignored digest",
			desc: "An ignored sha256 is never offered",
			setup: func(t *testing.T, store *truststore.TrustStore) {
				require.NoError(t, store.IgnoreUpdateSHA256("demo-uid", digest))
			},
		},
		{
			name: "ignored digest upper case",
			desc: "Ignored digests match regardless of case",
			setup: func(t *testing.T, store *truststore.TrustStore) {
				require.NoError(t, store.IgnoreUpdateSHA256("demo-uid", "  "+upper(digest)))
			},
		},
		{
			name: "ignored digest of other pack",
			desc: "Skip rules are per UID",
			setup: func(t *testing.T, store *truststore.TrustStore) {
				require.NoError(t, store.IgnoreUpdateSHA256("other-uid", digest))
			},
			wantOK: true,
		},
		{
			name: "temp ignored version",
			desc: "A temporarily ignored version is never offered",
			setup: func(t *testing.T, store *truststore.TrustStore) {
				require.NoError(t, store.TempIgnoreSourceVersion("demo-uid", "1.1"))
			},
		},
		{
			name: "temp ignore cleared",
			desc: "Clearing temporary ignores offers the version again",
			setup: func(t *testing.T, store *truststore.TrustStore) {
				require.NoError(t, store.TempIgnoreSourceVersion("demo-uid", "1.1"))
				require.NoError(t, store.ClearTempIgnoredSourceVersions("demo-uid"))
			},
			wantOK: true,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Logf("Desc: %s", tt.desc)
			sim := simulator.New()
			sim.PublishJSON(versionsURL, demoVersions())
			r, store := newResolver(t, sim, nil)
			tt.setup(t, store)

			update, err := r.Check(context.Background(), "demo-uid", "1.0", versionsURL)
			require.NoError(t, err)
			if tt.wantOK {
				require.NotNil(t, update)
				assert.Equal(t, "1.1", update.Version)
			} else {
				assert.Nil(t, update)
			}
		})
	}
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'f' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

func TestChooseCandidate(t *testing.T) {
	a := []byte("a")
	b := []byte("b")
	for _, tt := range []struct {
		name      string
		desc      string
		versions  []metadata.PackVersion
		installed string
		onlyNewer bool
		want      string
		wantURL   string
	}{
		{
			name:      "highest wins",
			desc:      "List order doesn't rank versions",
			versions:  []metadata.PackVersion{simulator.Version("1.2", archiveURL, a), simulator.Version("1.10", archiveURL, a), simulator.Version("1.9", archiveURL, a)},
			installed: "1.0",
			want:      "1.10",
		},
		{
			name:      "installed excluded",
			desc:      "The installed version is never offered",
			versions:  []metadata.PackVersion{simulator.Version("1.0", archiveURL, a)},
			installed: "1.0",
		},
		{
			name:      "retracted excluded",
			desc:      "Entries without download url are never offered",
			versions:  []metadata.PackVersion{simulator.Retracted("2.0"), simulator.Version("1.1", archiveURL, a)},
			installed: "1.0",
			want:      "1.1",
		},
		{
			name:      "only retracted",
			desc:      "A list of retracted entries has no update",
			versions:  []metadata.PackVersion{simulator.Retracted("2.0")},
			installed: "1.0",
		},
		{
			name:      "empty list",
			desc:      "An empty list has no update",
			versions:  []metadata.PackVersion{},
			installed: "1.0",
		},
		{
			name:      "tie keeps first",
			desc:      "Equal versions keep the earliest entry",
			versions:  []metadata.PackVersion{simulator.Version("1.1", "https://example.com/first.zip", a), simulator.Version("1.1", "https://example.com/second.zip", b)},
			installed: "1.0",
			want:      "1.1",
			wantURL:   "https://example.com/first.zip",
		},
		{
			name:      "downgrade offered",
			desc:      "Without only_newer any other version can be offered",
			versions:  []metadata.PackVersion{simulator.Version("1.5", archiveURL, a)},
			installed: "2.0",
			want:      "1.5",
		},
		{
			name:      "downgrade with only newer",
			desc:      "only_newer filters versions ordered before the installed one",
			versions:  []metadata.PackVersion{simulator.Version("1.5", archiveURL, a)},
			installed: "2.0",
			onlyNewer: true,
		},
		{
			name:      "upgrade with only newer",
			desc:      "only_newer keeps newer versions",
			versions:  []metadata.PackVersion{simulator.Version("1.5", archiveURL, a), simulator.Version("2.1", archiveURL, a)},
			installed: "2.0",
			onlyNewer: true,
			want:      "2.1",
		},
		{
			name:      "string match only",
			desc:      "Installed version exclusion is exact string match",
			versions:  []metadata.PackVersion{simulator.Version("v1.0", archiveURL, a)},
			installed: "1.0",
			want:      "v1.0",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Logf("Desc: %s", tt.desc)
			cfg := config.New()
			cfg.OnlyNewer = tt.onlyNewer
			sim := simulator.New()
			sim.PublishJSON(versionsURL, &metadata.VersionInfo{Versions: tt.versions})
			r, _ := newResolver(t, sim, cfg)

			update, err := r.Check(context.Background(), "demo-uid", tt.installed, versionsURL)
			require.NoError(t, err)
			if tt.want == "" {
				assert.Nil(t, update)
				return
			}
			require.NotNil(t, update)
			assert.Equal(t, tt.want, update.Version)
			if tt.wantURL != "" {
				assert.Equal(t, tt.wantURL, update.DownloadURL)
			}
		})
	}
}

// Every offered version must be downloadable, differ from the installed
// version and pass the skip rules.
func TestCandidatesProperty(t *testing.T) {
	digests := []string{simulator.Digest([]byte("a")), simulator.Digest([]byte("b")), simulator.Digest([]byte("c"))}
	info := &metadata.VersionInfo{Versions: []metadata.PackVersion{
		simulator.Version("1.0", archiveURL, []byte("a")),
		simulator.Version("1.1", archiveURL, []byte("b")),
		simulator.Version("1.2", archiveURL, []byte("c")),
		simulator.Version("1.3", archiveURL, []byte("c")),
		simulator.Retracted("1.4"),
	}}
	r, store := newResolver(t, simulator.New(), nil)
	require.NoError(t, store.IgnoreUpdateSHA256("demo-uid", digests[1]))
	require.NoError(t, store.TempIgnoreSourceVersion("demo-uid", "1.3"))

	got := r.Candidates("demo-uid", "1.0", info)
	var versions []string
	for _, v := range got {
		versions = append(versions, v.PackageVersion)
		assert.True(t, v.Available())
		assert.NotEqual(t, "1.0", v.PackageVersion)
		assert.False(t, store.IsIgnoredSHA256("demo-uid", v.Digest()))
		assert.False(t, store.IsTempIgnoredSourceVersion("demo-uid", v.PackageVersion))
	}
	assert.Equal(t, []string{"1.2"}, versions)
}

func TestCheckErrors(t *testing.T) {
	for _, tt := range []struct {
		name    string
		desc    string
		url     string
		body    string
		wantErr error
	}{
		{
			name:    "rejected scheme",
			desc:    "Versions URLs follow the repository URL policy",
			url:     "http://example.com/v.json",
			wantErr: metadata.ErrRejectedURLScheme{},
		},
		{
			name:    "retracted with digest",
			desc:    "A null download_url with sha256 matches both branches of oneOf",
			url:     versionsURL,
			body:    `{"versions":[{"package_version":"1.1","download_url":null,"sha256":"` + simulator.Digest(archive) + `","changelog":[]}]}`,
			wantErr: metadata.ErrSchemaValidation{},
		},
		{
			name:    "download without digest",
			desc:    "A download_url requires sha256",
			url:     versionsURL,
			body:    `{"versions":[{"package_version":"1.1","download_url":"https://example.com/f.zip","changelog":[]}]}`,
			wantErr: metadata.ErrSchemaValidation{},
		},
		{
			name:    "short digest",
			desc:    "sha256 must be 64 hex characters",
			url:     versionsURL,
			body:    `{"versions":[{"package_version":"1.1","download_url":"https://example.com/f.zip","sha256":"abc","changelog":[]}]}`,
			wantErr: metadata.ErrSchemaValidation{},
		},
		{
			name:    "missing versions",
			desc:    "The versions array is required",
			url:     versionsURL,
			body:    `{}`,
			wantErr: metadata.ErrSchemaValidation{},
		},
		{
			name:    "not found",
			desc:    "HTTP errors are transport errors",
			url:     "https://example.com/missing.json",
			wantErr: metadata.ErrTransport{},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Logf("Desc: %s", tt.desc)
			sim := simulator.New()
			if tt.body != "" {
				sim.Publish(tt.url, []byte(tt.body))
			}
			r, _ := newResolver(t, sim, nil)
			update, err := r.Check(context.Background(), "demo-uid", "1.0", tt.url)
			assert.Nil(t, update)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCheckDeclinedHost(t *testing.T) {
	sim := simulator.New()
	sim.PublishJSON(versionsURL, demoVersions())
	store := truststore.NewInMemory()
	var prompts atomic.Int32
	gate := confirmation.New(func(ctx context.Context, message string) bool {
		prompts.Add(1)
		return false
	})
	r := NewResolver(config.New(), sim, store, gate, nil)

	for i := 0; i < 2; i++ {
		update, err := r.Check(context.Background(), "demo-uid", "1.0", versionsURL)
		assert.Nil(t, update)
		assert.True(t, errors.Is(err, metadata.ErrUntrustedHost{}))
	}
	assert.Equal(t, int32(1), prompts.Load())
	assert.True(t, store.IsUntrusted("example.com"))
	assert.Zero(t, sim.Fetches(versionsURL))
}

func TestCheckNotModifiedReusesParsedList(t *testing.T) {
	sim := simulator.New()
	sim.Conditional = true
	sim.PublishWithETag(versionsURL, mustJSON(t, demoVersions()), "v1")
	r, store := newResolver(t, sim, nil)

	update, err := r.Check(context.Background(), "demo-uid", "1.0", versionsURL)
	require.NoError(t, err)
	require.NotNil(t, update)

	// same ETag: the body isn't parsed again
	sim.PublishWithETag(versionsURL, []byte("not json"), "v1")
	update, err = r.Check(context.Background(), "demo-uid", "1.0", versionsURL)
	require.NoError(t, err)
	require.NotNil(t, update)
	assert.Equal(t, "1.1", update.Version)
	assert.Equal(t, 2, sim.Fetches(versionsURL))

	// filtering is applied to the reused list
	require.NoError(t, store.TempIgnoreSourceVersion("demo-uid", "1.1"))
	update, err = r.Check(context.Background(), "demo-uid", "1.0", versionsURL)
	require.NoError(t, err)
	assert.Nil(t, update)
}

func TestFetchVersions(t *testing.T) {
	sim := simulator.New()
	sim.PublishJSON(versionsURL, demoVersions())
	r, _ := newResolver(t, sim, nil)

	info, err := r.FetchVersions(context.Background(), versionsURL)
	require.NoError(t, err)
	require.Len(t, info.Versions, 2)
	assert.False(t, info.Versions[0].Available())
	assert.Equal(t, "1.1", info.Versions[1].PackageVersion)
}
