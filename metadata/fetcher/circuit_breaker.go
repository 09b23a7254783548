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
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"

	"github.com/packman-dev/packman/metadata"
)

// CircuitBreakerFetcher wraps a Fetcher with per-host circuit breakers so
// a dead host fails fast instead of stalling every refresh. Requests are
// never retried; an open breaker is reported as a transport error.
type CircuitBreakerFetcher struct {
	fetcher   Fetcher
	threshold int64
	breakers  map[string]*circuit.Breaker
	mu        sync.RWMutex
}

// NewCircuitBreakerFetcher creates a new circuit breaker wrapper which
// trips after threshold consecutive transport failures.
func NewCircuitBreakerFetcher(f Fetcher, threshold int64) *CircuitBreakerFetcher {
	if threshold <= 0 {
		threshold = 5
	}
	return &CircuitBreakerFetcher{
		fetcher:   f,
		threshold: threshold,
		breakers:  make(map[string]*circuit.Breaker),
	}
}

// getBreaker returns or creates a circuit breaker for the given host.
func (cbf *CircuitBreakerFetcher) getBreaker(host string) *circuit.Breaker {
	cbf.mu.RLock()
	breaker, exists := cbf.breakers[host]
	cbf.mu.RUnlock()

	if exists {
		return breaker
	}

	cbf.mu.Lock()
	defer cbf.mu.Unlock()

	// Double-check after acquiring write lock
	if breaker, exists := cbf.breakers[host]; exists {
		return breaker
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	breaker = circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(cbf.threshold),
	})
	cbf.breakers[host] = breaker
	return breaker
}

// call runs fn under the breaker of rawURL's host. Only transport level
// failures and 5xx responses count against the host.
func (cbf *CircuitBreakerFetcher) call(rawURL string, fn func() error) error {
	host := hostKey(rawURL)
	breaker := cbf.getBreaker(host)
	if !breaker.Ready() {
		return metadata.ErrTransport{Msg: "circuit breaker open for host " + host}
	}
	var callErr error
	err := breaker.Call(func() error {
		callErr = fn()
		var httpErr metadata.ErrDownloadHTTP
		if errors.As(callErr, &httpErr) && httpErr.StatusCode < 500 {
			return nil
		}
		if errors.Is(callErr, metadata.ErrDownloadLengthMismatch{}) || errors.Is(callErr, context.Canceled) {
			return nil
		}
		if errors.Is(callErr, metadata.ErrTransport{}) {
			return callErr
		}
		return nil
	}, 0)
	if callErr != nil {
		return callErr
	}
	if err != nil {
		return metadata.ErrTransport{Msg: "circuit breaker for host " + host, Err: err}
	}
	return nil
}

// Get wraps the underlying fetcher's Get with circuit breaker logic.
func (cbf *CircuitBreakerFetcher) Get(ctx context.Context, urlPath string, maxLength int64) (*Response, error) {
	var res *Response
	err := cbf.call(urlPath, func() error {
		var err error
		res, err = cbf.fetcher.Get(ctx, urlPath, maxLength)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Stream wraps the underlying fetcher's Stream with circuit breaker logic.
func (cbf *CircuitBreakerFetcher) Stream(ctx context.Context, urlPath string, maxLength int64, w io.Writer, progress ProgressFunc) (string, error) {
	var final string
	err := cbf.call(urlPath, func() error {
		var err error
		final, err = cbf.fetcher.Stream(ctx, urlPath, maxLength, w, progress)
		return err
	})
	if err != nil {
		return "", err
	}
	return final, nil
}

// BreakerState returns the current state of circuit breakers by host.
func (cbf *CircuitBreakerFetcher) BreakerState() map[string]string {
	cbf.mu.RLock()
	defer cbf.mu.RUnlock()

	states := make(map[string]string)
	for host, breaker := range cbf.breakers {
		if breaker.Tripped() {
			states[host] = "open"
		} else {
			states[host] = "closed"
		}
	}
	return states
}

func hostKey(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}
