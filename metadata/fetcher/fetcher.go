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

package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/dnscache"

	"github.com/packman-dev/packman/metadata"
)

// UnknownLength is reported as the total of a download whose origin did
// not send a Content-Length.
const UnknownLength int64 = -1

// ProgressFunc receives the number of bytes received so far and the
// expected total, or UnknownLength.
type ProgressFunc func(received, total int64)

// Response is the result of a metadata fetch.
type Response struct {
	// URL is the final URL after redirects.
	URL  string
	Data []byte
	// NotModified is set when the server confirmed the cached copy, in
	// which case Data holds the cached body.
	NotModified bool
}

// Fetcher interface
type Fetcher interface {
	// Get downloads urlPath into memory, revalidating against the local
	// response cache when one is configured.
	Get(ctx context.Context, urlPath string, maxLength int64) (*Response, error)
	// Stream downloads urlPath into w without caching and returns the
	// final URL after redirects.
	Stream(ctx context.Context, urlPath string, maxLength int64, w io.Writer, progress ProgressFunc) (string, error)
}

// DefaultFetcher implements Fetcher
type DefaultFetcher struct {
	client       *http.Client
	userAgent    string
	headers      map[string]string
	maxRedirects int
	cache        *Cache
	trustedHost  func(host string) bool
	stop         chan struct{}
	stopOnce     sync.Once
}

// Option configures a DefaultFetcher.
type Option func(*DefaultFetcher)

// WithHTTPClient sets a custom HTTP client. Its CheckRedirect is replaced
// by the fetcher's redirect bound.
func WithHTTPClient(c *http.Client) Option {
	return func(f *DefaultFetcher) {
		cp := *c
		f.client = &cp
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *DefaultFetcher) {
		f.userAgent = ua
	}
}

// WithHeaders sets default headers applied to every request.
func WithHeaders(h map[string]string) Option {
	return func(f *DefaultFetcher) {
		for k, v := range h {
			f.headers[k] = v
		}
	}
}

// WithMaxRedirects bounds the number of redirects followed per request.
func WithMaxRedirects(n int) Option {
	return func(f *DefaultFetcher) {
		f.maxRedirects = n
	}
}

// WithTimeout sets the overall request timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *DefaultFetcher) {
		f.client.Timeout = d
	}
}

// WithCache enables conditional requests against c.
func WithCache(c *Cache) Option {
	return func(f *DefaultFetcher) {
		f.cache = c
	}
}

// WithTrustedHosts makes Get refuse a redirect to a host other than the
// requested one unless trusted reports it as already trusted. Stream is not
// restricted, its payloads are verified by digest.
func WithTrustedHosts(trusted func(host string) bool) Option {
	return func(f *DefaultFetcher) {
		f.trustedHost = trusted
	}
}

type metadataRequestKey struct{}

// New creates a DefaultFetcher dialing through a DNS cache.
func New(opts ...Option) *DefaultFetcher {
	resolver := &dnscache.Resolver{}
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	f := &DefaultFetcher{
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					host, port, err := net.SplitHostPort(addr)
					if err != nil {
						return nil, err
					}
					ips, err := resolver.LookupHost(ctx, host)
					if err != nil {
						return nil, err
					}
					var lastErr error
					for _, ip := range ips {
						conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
						if err == nil {
							return conn, nil
						}
						lastErr = err
					}
					return nil, fmt.Errorf("failed to dial any resolved IP of %s: %w", host, lastErr)
				},
				ForceAttemptHTTP2:     true,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
		headers:      map[string]string{},
		maxRedirects: 3,
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.client.CheckRedirect = f.checkRedirect
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				resolver.Refresh(true)
			case <-f.stop:
				return
			}
		}
	}()
	return f
}

// Close stops the DNS cache refresher.
func (d *DefaultFetcher) Close() error {
	d.stopOnce.Do(func() { close(d.stop) })
	return nil
}

func (d *DefaultFetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) > d.maxRedirects {
		return metadata.ErrTooManyRedirects{URL: via[0].URL.String(), Limit: d.maxRedirects}
	}
	target := req.URL.String()
	if metadata.IsAcceptedURL(via[0].URL.String()) && !metadata.IsAcceptedURL(target) {
		return metadata.ErrRejectedURLScheme{URL: target}
	}
	if d.trustedHost != nil && req.Context().Value(metadataRequestKey{}) != nil {
		host := strings.ToLower(req.URL.Host)
		if host != strings.ToLower(via[0].URL.Host) && !d.trustedHost(host) {
			return metadata.ErrUntrustedHost{Host: host}
		}
	}
	d.setHeaders(req)
	return nil
}

func (d *DefaultFetcher) setHeaders(req *http.Request) {
	for k, v := range d.headers {
		req.Header.Set(k, v)
	}
	// Use in case of multiple sessions.
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}
}

func (d *DefaultFetcher) do(ctx context.Context, urlPath string, prepare func(*http.Request)) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlPath, nil)
	if err != nil {
		return nil, metadata.ErrTransport{Msg: "creating request for " + urlPath, Err: err}
	}
	d.setHeaders(req)
	if prepare != nil {
		prepare(req)
	}
	res, err := d.client.Do(req)
	if err != nil {
		var redirects metadata.ErrTooManyRedirects
		if errors.As(err, &redirects) {
			return nil, redirects
		}
		var scheme metadata.ErrRejectedURLScheme
		if errors.As(err, &scheme) {
			return nil, scheme
		}
		var untrusted metadata.ErrUntrustedHost
		if errors.As(err, &untrusted) {
			return nil, untrusted
		}
		return nil, metadata.ErrTransport{Msg: "fetching " + urlPath, Err: err}
	}
	return res, nil
}

// Get downloads a file from urlPath, errors out if it failed or its
// length is larger than maxLength.
func (d *DefaultFetcher) Get(ctx context.Context, urlPath string, maxLength int64) (*Response, error) {
	var cached *Entry
	if d.cache != nil {
		cached = d.cache.Load(urlPath)
	}
	ctx = context.WithValue(ctx, metadataRequestKey{}, true)
	res, err := d.do(ctx, urlPath, func(req *http.Request) {
		if cached == nil {
			return
		}
		if cached.ETag != "" {
			req.Header.Set("If-None-Match", cached.ETag)
		}
		if cached.LastModified != "" {
			req.Header.Set("If-Modified-Since", cached.LastModified)
		}
	})
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	finalURL := res.Request.URL.String()

	if res.StatusCode == http.StatusNotModified && cached != nil {
		return &Response{URL: finalURL, Data: cached.Data, NotModified: true}, nil
	}
	if res.StatusCode != http.StatusOK {
		return nil, metadata.ErrDownloadHTTP{StatusCode: res.StatusCode, URL: urlPath}
	}
	// Error if the reported size is greater than what is expected.
	if res.ContentLength > maxLength {
		return nil, metadata.ErrDownloadLengthMismatch{Msg: fmt.Sprintf("download failed for %s, length %d is larger than expected %d", urlPath, res.ContentLength, maxLength)}
	}
	// Although the size has been checked above, use a LimitReader in case
	// the reported size is inaccurate, or size is -1 which indicates an
	// unknown length. We read maxLength + 1 in order to check if the read data
	// surpassed our set limit.
	data, err := io.ReadAll(io.LimitReader(res.Body, maxLength+1))
	if err != nil {
		return nil, metadata.ErrTransport{Msg: "reading " + urlPath, Err: err}
	}
	if int64(len(data)) > maxLength {
		return nil, metadata.ErrDownloadLengthMismatch{Msg: fmt.Sprintf("download failed for %s, length %d is larger than expected %d", urlPath, len(data), maxLength)}
	}
	if d.cache != nil {
		entry := &Entry{
			URL:          urlPath,
			ETag:         res.Header.Get("ETag"),
			LastModified: res.Header.Get("Last-Modified"),
			Data:         data,
		}
		if entry.ETag != "" || entry.LastModified != "" {
			if err := d.cache.Store(entry); err != nil {
				metadata.GetLogger().Error(err, "failed to cache response", "url", urlPath)
			}
		}
	}
	return &Response{URL: finalURL, Data: data}, nil
}

// Stream copies the body of urlPath into w, reporting progress after
// every chunk. Received counts delivered to progress never decrease.
func (d *DefaultFetcher) Stream(ctx context.Context, urlPath string, maxLength int64, w io.Writer, progress ProgressFunc) (string, error) {
	res, err := d.do(ctx, urlPath, nil)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", metadata.ErrDownloadHTTP{StatusCode: res.StatusCode, URL: urlPath}
	}
	total := res.ContentLength
	if total < 0 {
		total = UnknownLength
	}
	if total > maxLength {
		return "", metadata.ErrDownloadLengthMismatch{Msg: fmt.Sprintf("download failed for %s, length %d is larger than expected %d", urlPath, total, maxLength)}
	}
	if progress == nil {
		progress = func(int64, int64) {}
	}
	progress(0, total)

	var received int64
	buf := make([]byte, 32*1024)
	body := io.LimitReader(res.Body, maxLength+1)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			received += int64(n)
			if received > maxLength {
				return "", metadata.ErrDownloadLengthMismatch{Msg: fmt.Sprintf("download failed for %s, more than %d bytes received", urlPath, maxLength)}
			}
			if _, err := w.Write(buf[:n]); err != nil {
				return "", err
			}
			progress(received, total)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return "", metadata.ErrTransport{Msg: "reading " + urlPath, Err: rerr}
		}
	}
	if total != UnknownLength && received != total {
		return "", metadata.ErrDownloadLengthMismatch{Msg: fmt.Sprintf("download failed for %s, received %d of %d bytes", urlPath, received, total)}
	}
	return res.Request.URL.String(), nil
}
