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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/packman-dev/packman/internal/fsutil"
	"github.com/packman-dev/packman/metadata"
)

// Entry is a cached response and its validators.
type Entry struct {
	URL          string `json:"url"`
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
	Data         []byte `json:"-"`
}

// Cache stores response bodies on disk keyed by the SHA-256 of their URL.
// Each entry is a "<key>.json" validator file and a "<key>.body" file.
type Cache struct {
	baseDir string
}

// NewCache opens (and creates, if needed) a cache rooted at baseDir.
func NewCache(baseDir string) (*Cache, error) {
	fi, err := os.Stat(baseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		// user:  rwx
		// group: r-x
		// other: ---
		if err := os.MkdirAll(baseDir, 0750); err != nil {
			return nil, err
		}
	} else if !fi.IsDir() {
		return nil, fmt.Errorf("can not open %s, not a directory", baseDir)
	}
	return &Cache{baseDir: baseDir}, nil
}

func (c *Cache) key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(c.baseDir, hex.EncodeToString(sum[:]))
}

// Load returns the cached entry for url, or nil if there is none or it
// can't be read.
func (c *Cache) Load(url string) *Entry {
	base := c.key(url)
	meta, err := os.ReadFile(base + ".json")
	if err != nil {
		return nil
	}
	entry := &Entry{}
	if err := json.Unmarshal(meta, entry); err != nil || entry.URL != url {
		return nil
	}
	entry.Data, err = os.ReadFile(base + ".body")
	if err != nil {
		return nil
	}
	return entry
}

// Store writes entry, body first, so a validator file never refers to a
// missing body.
func (c *Cache) Store(entry *Entry) error {
	base := c.key(entry.URL)
	meta, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	// user:  rw-
	// group: r--
	// other: ---
	if err := fsutil.AtomicWriteFile(base+".body", entry.Data, 0640); err != nil {
		return err
	}
	return fsutil.AtomicWriteFile(base+".json", meta, 0640)
}

// Clear removes every cached entry.
func (c *Cache) Clear() error {
	entries, err := os.ReadDir(c.baseDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		ok, err := fsutil.IsJSONFile(e)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		base := filepath.Join(c.baseDir, strings.TrimSuffix(e.Name(), ".json"))
		if err := os.Remove(base + ".json"); err != nil {
			return err
		}
		if err := os.Remove(base + ".body"); err != nil && !os.IsNotExist(err) {
			return err
		}
		metadata.GetLogger().Info("Removed cached response", "entry", e.Name())
	}
	return nil
}
