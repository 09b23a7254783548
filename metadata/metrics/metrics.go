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

// Package metrics counts fetches, prompts and downloads.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics defines the counters the updater reports to.
type Metrics interface {
	// IncFetch counts a metadata fetch by kind ("index", "versions",
	// "icon") and outcome ("ok", "not_modified", "invalid", "error").
	IncFetch(kind, outcome string)
	// IncPrompt counts a confirmation prompt by answer.
	IncPrompt(answer string)
	// IncCheck counts an update check by result ("available", "none",
	// "failed").
	IncCheck(result string)
	// ObserveDownload counts a finished download by outcome and the bytes
	// it received.
	ObserveDownload(outcome string, bytes int64)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) IncFetch(string, string)       {}
func (Noop) IncPrompt(string)              {}
func (Noop) IncCheck(string)               {}
func (Noop) ObserveDownload(string, int64) {}

// Prom implements Metrics backed by Prometheus counters.
type Prom struct {
	fetches       *prometheus.CounterVec
	prompts       *prometheus.CounterVec
	checks        *prometheus.CounterVec
	downloads     *prometheus.CounterVec
	downloadBytes prometheus.Counter
	once          sync.Once
}

// NewProm creates the counters and registers them with the default
// registerer.
func NewProm(namespace string) *Prom {
	p := &Prom{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Metadata fetches by kind and outcome",
		}, []string{"kind", "outcome"}),
		prompts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirmation_prompts_total",
			Help:      "Host confirmation prompts by answer",
		}, []string{"answer"}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "update_checks_total",
			Help:      "Update checks by result",
		}, []string{"result"}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Update downloads by outcome",
		}, []string{"outcome"}),
		downloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_bytes_total",
			Help:      "Bytes received by update downloads",
		}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(p.fetches, p.prompts, p.checks, p.downloads, p.downloadBytes)
	})
}

func (p *Prom) IncFetch(kind, outcome string) {
	p.fetches.WithLabelValues(kind, outcome).Inc()
}

func (p *Prom) IncPrompt(answer string) {
	p.prompts.WithLabelValues(answer).Inc()
}

func (p *Prom) IncCheck(result string) {
	p.checks.WithLabelValues(result).Inc()
}

func (p *Prom) ObserveDownload(outcome string, bytes int64) {
	p.downloads.WithLabelValues(outcome).Inc()
	if bytes > 0 {
		p.downloadBytes.Add(float64(bytes))
	}
}

// Handler exposes the default gatherer over HTTP.
func Handler() http.Handler {
	return promhttp.Handler()
}
