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

// Package truststore persists the trust-on-first-use host decisions and
// the per-pack update skip rules.
package truststore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/secure-systems-lab/go-securesystemslib/cjson"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/packman-dev/packman/internal/fsutil"
	"github.com/packman-dev/packman/metadata"
)

// State is the persisted document. Sets are stored as sorted arrays.
type State struct {
	TrustedHosts             []string            `json:"trusted_hosts"`
	UntrustedHosts           []string            `json:"untrusted_hosts"`
	IgnoredSHA256            map[string][]string `json:"ignored_sha256"`
	TempIgnoredSourceVersion map[string][]string `json:"temp_ignored_source_version"`
}

type set map[string]struct{}

func (s set) add(v string) bool {
	if _, ok := s[v]; ok {
		return false
	}
	s[v] = struct{}{}
	return true
}

func (s set) remove(v string) bool {
	if _, ok := s[v]; !ok {
		return false
	}
	delete(s, v)
	return true
}

func (s set) has(v string) bool {
	_, ok := s[v]
	return ok
}

func (s set) sorted() []string {
	keys := maps.Keys(s)
	slices.Sort(keys)
	return keys
}

// TrustStore holds trusted and untrusted hosts and per-UID skip rules.
// Every mutation that changes the state is written to disk before the
// call returns; a store without a path only lives in memory.
type TrustStore struct {
	mu          sync.RWMutex
	path        string
	trusted     set
	untrusted   set
	ignoredSHA  map[string]set
	tempIgnored map[string]set
}

var log = metadata.ComponentLogger{Component: "truststore"}

// NewInMemory returns an empty store which is never persisted.
func NewInMemory() *TrustStore {
	return &TrustStore{
		trusted:     set{},
		untrusted:   set{},
		ignoredSHA:  map[string]set{},
		tempIgnored: map[string]set{},
	}
}

// Open loads the store persisted at path. A missing file is an empty
// store which is created on the first mutation.
func Open(path string) (*TrustStore, error) {
	ts := NewInMemory()
	ts.path = path
	fi, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return ts, nil
	}
	if err != nil {
		return nil, err
	}
	// the file decides which hosts are contacted without asking
	if err := fsutil.EnsureMaxPermissions(fi, 0644); err != nil {
		log.Info("Trust store is writable by others", "path", path, "mode", fi.Mode().String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return ts, nil
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse trust store %s: %w", path, err)
	}
	ts.load(st)
	log.Info("Loaded trust store", "path", path, "trusted", len(ts.trusted), "untrusted", len(ts.untrusted))
	return ts, nil
}

func (ts *TrustStore) load(st State) {
	for _, h := range st.TrustedHosts {
		ts.trusted.add(h)
	}
	for _, h := range st.UntrustedHosts {
		ts.untrusted.add(h)
	}
	for uid, digests := range st.IgnoredSHA256 {
		for _, d := range digests {
			bucket(ts.ignoredSHA, uid).add(metadata.NormalizeDigest(d))
		}
	}
	for uid, versions := range st.TempIgnoredSourceVersion {
		for _, v := range versions {
			bucket(ts.tempIgnored, uid).add(v)
		}
	}
}

func bucket(m map[string]set, uid string) set {
	s, ok := m[uid]
	if !ok {
		s = set{}
		m[uid] = s
	}
	return s
}

// Path returns the backing file or an empty string.
func (ts *TrustStore) Path() string {
	return ts.path
}

// Snapshot returns a copy of the current state.
func (ts *TrustStore) Snapshot() State {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.snapshot()
}

func (ts *TrustStore) snapshot() State {
	st := State{
		TrustedHosts:             ts.trusted.sorted(),
		UntrustedHosts:           ts.untrusted.sorted(),
		IgnoredSHA256:            map[string][]string{},
		TempIgnoredSourceVersion: map[string][]string{},
	}
	for uid, s := range ts.ignoredSHA {
		if len(s) > 0 {
			st.IgnoredSHA256[uid] = s.sorted()
		}
	}
	for uid, s := range ts.tempIgnored {
		if len(s) > 0 {
			st.TempIgnoredSourceVersion[uid] = s.sorted()
		}
	}
	return st
}

// save writes the state with canonical JSON encoding so the file only
// changes when the state does. Callers hold ts.mu.
func (ts *TrustStore) save() error {
	if ts.path == "" {
		return nil
	}
	data, err := cjson.EncodeCanonical(ts.snapshot())
	if err != nil {
		return fmt.Errorf("failed to encode trust store: %w", err)
	}
	unlock, err := fsutil.Lock(ts.path + ".lock")
	if err != nil {
		return fmt.Errorf("failed to lock trust store: %w", err)
	}
	defer unlock()
	// user:  rw-
	// group: ---
	// other: ---
	if err := fsutil.AtomicWriteFile(ts.path, data, 0600); err != nil {
		return fmt.Errorf("failed to save trust store %s: %w", ts.path, err)
	}
	return nil
}

// mutate applies fn under the write lock and persists when fn reports a
// change. If the state can't be saved the change is rolled back.
func (ts *TrustStore) mutate(fn func() bool) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	before := ts.snapshot()
	if !fn() {
		return nil
	}
	if err := ts.save(); err != nil {
		ts.restore(before)
		return err
	}
	return nil
}

// restore replaces the in-memory state with st. Callers hold ts.mu.
func (ts *TrustStore) restore(st State) {
	ts.trusted = set{}
	ts.untrusted = set{}
	ts.ignoredSHA = map[string]set{}
	ts.tempIgnored = map[string]set{}
	ts.load(st)
}

func (ts *TrustStore) IsTrusted(host string) bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.trusted.has(host)
}

func (ts *TrustStore) IsUntrusted(host string) bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.untrusted.has(host)
}

// MarkTrusted allows host to be contacted without asking. It replaces an
// earlier "untrusted" decision.
func (ts *TrustStore) MarkTrusted(host string) error {
	return ts.mutate(func() bool {
		removed := ts.untrusted.remove(host)
		return ts.trusted.add(host) || removed
	})
}

// MarkUntrusted records that the user declined to contact host. It
// replaces an earlier "trusted" decision.
func (ts *TrustStore) MarkUntrusted(host string) error {
	return ts.mutate(func() bool {
		removed := ts.trusted.remove(host)
		return ts.untrusted.add(host) || removed
	})
}

// Forget drops any decision about host so the next contact asks again.
func (ts *TrustStore) Forget(host string) error {
	return ts.mutate(func() bool {
		a := ts.trusted.remove(host)
		b := ts.untrusted.remove(host)
		return a || b
	})
}

// IgnoreUpdateSHA256 stops the update with the given digest from being
// offered for uid again.
func (ts *TrustStore) IgnoreUpdateSHA256(uid, sha256 string) error {
	return ts.mutate(func() bool {
		return bucket(ts.ignoredSHA, uid).add(metadata.NormalizeDigest(sha256))
	})
}

func (ts *TrustStore) UnignoreUpdateSHA256(uid, sha256 string) error {
	return ts.mutate(func() bool {
		s, ok := ts.ignoredSHA[uid]
		return ok && s.remove(metadata.NormalizeDigest(sha256))
	})
}

func (ts *TrustStore) IsIgnoredSHA256(uid, sha256 string) bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	s, ok := ts.ignoredSHA[uid]
	return ok && s.has(metadata.NormalizeDigest(sha256))
}

// TempIgnoreSourceVersion stops the exact version string from being
// offered for uid until ClearTempIgnoredSourceVersions is called.
func (ts *TrustStore) TempIgnoreSourceVersion(uid, version string) error {
	return ts.mutate(func() bool {
		return bucket(ts.tempIgnored, uid).add(version)
	})
}

func (ts *TrustStore) IsTempIgnoredSourceVersion(uid, version string) bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	s, ok := ts.tempIgnored[uid]
	return ok && s.has(version)
}

// ClearTempIgnoredSourceVersions resets every temporarily ignored
// version of uid.
func (ts *TrustStore) ClearTempIgnoredSourceVersions(uid string) error {
	return ts.mutate(func() bool {
		s, ok := ts.tempIgnored[uid]
		if !ok {
			return false
		}
		delete(ts.tempIgnored, uid)
		return len(s) > 0
	})
}
