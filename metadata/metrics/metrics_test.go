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

package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func withTestRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	origReg := prometheus.DefaultRegisterer
	origGather := prometheus.DefaultGatherer
	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg
	t.Cleanup(func() {
		prometheus.DefaultRegisterer = origReg
		prometheus.DefaultGatherer = origGather
	})
	return reg
}

func TestNoopMetrics(t *testing.T) {
	var m Noop
	m.IncFetch("index", "ok")
	m.IncPrompt("yes")
	m.IncCheck("none")
	m.ObserveDownload("ok", 10)
}

func TestPromMetrics(t *testing.T) {
	withTestRegistry(t)
	m := NewProm("packman")
	m.IncFetch("index", "ok")
	m.IncFetch("index", "ok")
	m.IncFetch("versions", "invalid")
	m.IncPrompt("no")
	m.IncCheck("available")
	m.ObserveDownload("ok", 1024)
	m.ObserveDownload("checksum_mismatch", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.fetches.WithLabelValues("index", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetches.WithLabelValues("versions", "invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.prompts.WithLabelValues("no")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.checks.WithLabelValues("available")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.downloads.WithLabelValues("checksum_mismatch")))
	assert.Equal(t, 1024.0, testutil.ToFloat64(m.downloadBytes))
}

func TestHandler(t *testing.T) {
	withTestRegistry(t)
	m := NewProm("packman")
	m.IncCheck("none")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `packman_update_checks_total{result="none"} 1`))
}
