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
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/packman-dev/packman/metadata"
	"github.com/packman-dev/packman/metadata/config"
	"github.com/packman-dev/packman/metadata/fetcher"
	"github.com/packman-dev/packman/metadata/metrics"
)

// Result describes a verified download placed into the install
// directory.
type Result struct {
	ID      string
	Path    string
	UID     string
	Version string
	SHA256  string
	Size    int64
}

// Downloader fetches pack archives and installs them only once their
// SHA-256 matches the expected digest.
type Downloader struct {
	cfg     *config.UpdaterConfig
	fetcher fetcher.Fetcher
	metrics metrics.Metrics
	events  Observer

	mu       sync.Mutex
	inFlight map[string]string
}

var dlog = metadata.ComponentLogger{Component: "downloader"}

// NewDownloader creates a downloader reporting to events. A nil m
// disables metrics, a nil events drops them.
func NewDownloader(cfg *config.UpdaterConfig, f fetcher.Fetcher, m metrics.Metrics, events Observer) *Downloader {
	if m == nil {
		m = metrics.Noop{}
	}
	if events == nil {
		events = ObserverFuncs{}
	}
	return &Downloader{
		cfg:      cfg,
		fetcher:  f,
		metrics:  m,
		events:   events,
		inFlight: map[string]string{},
	}
}

func (d *Downloader) acquire(uid, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.inFlight[uid]; ok {
		return metadata.ErrInFlight{Key: uid}
	}
	d.inFlight[uid] = id
	return nil
}

func (d *Downloader) release(uid string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inFlight, uid)
}

// Download fetches rawURL into installDir and verifies it against
// sha256. uid and version only label the result and events; one
// download per uid may run at a time. Progress events are followed by
// exactly one Complete or Failed event.
func (d *Downloader) Download(ctx context.Context, rawURL, installDir, uid, version, sha256 string) (*Result, error) {
	id := uuid.NewString()
	if err := d.acquire(uid, id); err != nil {
		return nil, err
	}
	defer d.release(uid)

	dlog.Info("Downloading update", "request_id", id, "uid", uid, "version", version, "url", rawURL)
	res, err := d.download(ctx, id, rawURL, installDir, uid, version, sha256)
	if err != nil {
		d.metrics.ObserveDownload("failed", 0)
		dlog.Error(err, "Download failed", "request_id", id, "uid", uid)
		d.events.Failed(id, err)
		return nil, err
	}
	d.metrics.ObserveDownload("ok", res.Size)
	dlog.Info("Download complete", "request_id", id, "uid", uid, "path", res.Path)
	d.events.Complete(res)
	return res, nil
}

func (d *Downloader) download(ctx context.Context, id, rawURL, installDir, uid, version, sha256 string) (*Result, error) {
	if !metadata.IsAcceptedURL(rawURL) {
		return nil, metadata.ErrRejectedURLScheme{URL: rawURL}
	}
	if len(metadata.NormalizeDigest(sha256)) != 64 {
		return nil, metadata.ErrValue{Msg: fmt.Sprintf("expected sha256 %q is not 64 hex characters", sha256)}
	}
	if err := os.MkdirAll(installDir, 0750); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(installDir, ".packman-*.part")
	if err != nil {
		return nil, err
	}
	placed := false
	defer func() {
		if !placed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	h := metadata.NewDigester()
	counter := &countingWriter{}
	w := io.MultiWriter(tmp, h, counter)
	finalURL, err := d.fetcher.Stream(ctx, rawURL, d.cfg.DownloadMaxLength, w, func(received, total int64) {
		d.events.Progress(id, received, total)
	})
	if err != nil {
		return nil, err
	}
	if err := metadata.VerifyDigest(h.Sum(nil), sha256); err != nil {
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}

	dest := filepath.Join(installDir, fileName(finalURL, uid))
	if !within(installDir, dest) {
		return nil, metadata.ErrValue{Msg: fmt.Sprintf("destination %s is outside %s", dest, installDir)}
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return nil, err
	}
	placed = true
	return &Result{
		ID:      id,
		Path:    dest,
		UID:     uid,
		Version: version,
		SHA256:  metadata.NormalizeDigest(sha256),
		Size:    counter.n,
	}, nil
}

type countingWriter struct {
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}

// fallbackName is used when neither the URL nor the uid yields a plain
// file name.
const fallbackName = "pack.zip"

// fileName derives the installed file name from the last path element
// of rawURL, falling back to uid.zip and then to fallbackName. The result
// never contains a path separator and is never "." or "..".
func fileName(rawURL, uid string) string {
	if name, ok := plainName(urlBase(rawURL)); ok {
		return name
	}
	if name, ok := plainName(uid + ".zip"); ok {
		return name
	}
	return fallbackName
}

func urlBase(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	p, err := url.PathUnescape(u.EscapedPath())
	if err != nil {
		return ""
	}
	return path.Base(p)
}

func plainName(name string) (string, bool) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return "", false
	}
	return name, true
}

// within reports whether target lies inside dir.
func within(dir, target string) bool {
	rel, err := filepath.Rel(dir, target)
	if err != nil || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
