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

// Package simulator provides an in-memory pack repository that serves
// pack indexes, version lists and archives through the fetcher interface.
package simulator

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/packman-dev/packman/metadata"
	"github.com/packman-dev/packman/metadata/fetcher"
)

// File is a single document published by the simulator.
type File struct {
	Data       []byte
	ETag       string
	Err        error
	RedirectTo string
}

// FetchTracker records every URL requested from the simulator.
type FetchTracker struct {
	Requests []string
	counts   map[string]int
}

// PackRepository is an in-memory set of documents keyed by URL.
type PackRepository struct {
	mu           sync.Mutex
	files        map[string]*File
	served       map[string]string
	Conditional  bool
	MaxRedirects int
	FetchTracker FetchTracker
}

// New creates an empty repository. Conditional requests are answered
// with not-modified when the document's ETag didn't change since it was
// last served.
func New() *PackRepository {
	return &PackRepository{
		files:        map[string]*File{},
		served:       map[string]string{},
		MaxRedirects: 3,
		FetchTracker: FetchTracker{counts: map[string]int{}},
	}
}

// Publish serves data at url, replacing any previous document.
func (r *PackRepository) Publish(url string, data []byte) {
	sum := sha256.Sum256(data)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[url] = &File{Data: data, ETag: hex.EncodeToString(sum[:8])}
}

// PublishWithETag serves data at url under a fixed ETag, so conditional
// requests see it as unchanged.
func (r *PackRepository) PublishWithETag(url string, data []byte, etag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[url] = &File{Data: data, ETag: etag}
}

// PublishJSON serves v encoded as JSON at url.
func (r *PackRepository) PublishJSON(url string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("simulator: encode %s: %v", url, err))
	}
	r.Publish(url, data)
}

// Fail makes requests for url return err.
func (r *PackRepository) Fail(url string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[url] = &File{Err: err}
}

// Redirect makes url redirect to target.
func (r *PackRepository) Redirect(url, target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[url] = &File{RedirectTo: target}
}

// Remove stops serving url.
func (r *PackRepository) Remove(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.files, url)
}

// Fetches returns how many times url was requested.
func (r *PackRepository) Fetches(url string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.FetchTracker.counts[url]
}

// TotalFetches returns the number of requests made.
func (r *PackRepository) TotalFetches() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.FetchTracker.Requests)
}

// resolve follows redirects starting at url.
func (r *PackRepository) resolve(url string) (string, *File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for hops := 0; ; hops++ {
		r.FetchTracker.Requests = append(r.FetchTracker.Requests, url)
		r.FetchTracker.counts[url]++
		f, ok := r.files[url]
		if !ok {
			return url, nil, metadata.ErrDownloadHTTP{StatusCode: 404, URL: url}
		}
		if f.Err != nil {
			return url, nil, f.Err
		}
		if f.RedirectTo == "" {
			return url, f, nil
		}
		if hops >= r.MaxRedirects {
			return url, nil, metadata.ErrTooManyRedirects{URL: url, Limit: r.MaxRedirects}
		}
		url = f.RedirectTo
	}
}

func (r *PackRepository) Get(ctx context.Context, urlPath string, maxLength int64) (*fetcher.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, metadata.ErrTransport{Msg: "request canceled", Err: err}
	}
	final, f, err := r.resolve(urlPath)
	if err != nil {
		return nil, err
	}
	if int64(len(f.Data)) > maxLength {
		return nil, metadata.ErrDownloadLengthMismatch{Msg: fmt.Sprintf("download failed for %s, length %d is larger than expected %d", urlPath, len(f.Data), maxLength)}
	}
	res := &fetcher.Response{URL: final, Data: bytes.Clone(f.Data)}
	r.mu.Lock()
	if r.Conditional && r.served[urlPath] == f.ETag {
		res.NotModified = true
	}
	r.served[urlPath] = f.ETag
	r.mu.Unlock()
	return res, nil
}

func (r *PackRepository) Stream(ctx context.Context, urlPath string, maxLength int64, w io.Writer, progress fetcher.ProgressFunc) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", metadata.ErrTransport{Msg: "request canceled", Err: err}
	}
	final, f, err := r.resolve(urlPath)
	if err != nil {
		return "", err
	}
	total := int64(len(f.Data))
	if total > maxLength {
		return "", metadata.ErrDownloadLengthMismatch{Msg: fmt.Sprintf("download failed for %s, length %d is larger than expected %d", urlPath, total, maxLength)}
	}
	if progress != nil {
		progress(0, total)
	}
	const chunk = 4
	var received int64
	for received < total {
		end := received + chunk
		if end > total {
			end = total
		}
		n, err := w.Write(f.Data[received:end])
		received += int64(n)
		if err != nil {
			return "", err
		}
		if progress != nil {
			progress(received, total)
		}
	}
	return final, nil
}

// Digest returns the hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Pack returns a minimal valid pack index entry.
func Pack(name, versionsURL string) metadata.PackInfo {
	return metadata.PackInfo{
		Name:        name,
		Author:      "Demo Author",
		Platform:    "ALttP",
		Homepage:    "https://example.com/" + name,
		VersionsURL: versionsURL,
		Description: "Demo pack " + name,
	}
}

// Version returns a downloadable version entry for data served at url.
func Version(version, url string, data []byte) metadata.PackVersion {
	digest := Digest(data)
	return metadata.PackVersion{
		PackageVersion: version,
		DownloadURL:    &url,
		SHA256:         &digest,
		Changelog:      []string{"Release " + version},
	}
}

// Retracted returns a version entry without a download.
func Retracted(version string) metadata.PackVersion {
	return metadata.PackVersion{
		PackageVersion: version,
		Changelog:      []string{},
	}
}
