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

package helpers

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"testing"
)

// FuzzDataGenerator provides utilities for generating fuzz test data
type FuzzDataGenerator struct {
	rand *rand.Rand
}

// NewFuzzDataGenerator creates a new fuzz data generator
func NewFuzzDataGenerator(seed int64) *FuzzDataGenerator {
	return &FuzzDataGenerator{
		rand: rand.New(rand.NewSource(seed)),
	}
}

// GenerateRandomString generates a random string of specified length
func (f *FuzzDataGenerator) GenerateRandomString(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[f.rand.Intn(len(charset))]
	}
	return string(b)
}

// GenerateRandomBytes generates random bytes of specified length
func (f *FuzzDataGenerator) GenerateRandomBytes(length int) []byte {
	b := make([]byte, length)
	f.rand.Read(b)
	return b
}

// GenerateVersionList generates a version list in which every
// downloadable entry carries a digest.
func (f *FuzzDataGenerator) GenerateVersionList() []byte {
	var versions []map[string]any
	for i := f.rand.Intn(5); i >= 0; i-- {
		v := map[string]any{
			"package_version": fmt.Sprintf("%d.%d", f.rand.Intn(5), f.rand.Intn(20)),
			"download_url":    nil,
			"changelog":       []string{f.GenerateRandomString(12)},
		}
		if f.rand.Intn(3) > 0 {
			v["download_url"] = "https://example.com/" + f.GenerateRandomString(8) + ".zip"
			v["sha256"] = hex.EncodeToString(f.GenerateRandomBytes(32))
		}
		versions = append(versions, v)
	}
	data, _ := json.Marshal(map[string]any{"versions": versions})
	return data
}

// GeneratePackIndex generates a valid pack index.
func (f *FuzzDataGenerator) GeneratePackIndex() []byte {
	packs := map[string]any{}
	for i := f.rand.Intn(4); i >= 0; i-- {
		name := f.GenerateRandomString(6)
		packs[name+"-uid"] = map[string]any{
			"name":         name,
			"author":       f.GenerateRandomString(6),
			"platform":     "ALttP",
			"homepage":     "https://example.com/" + name,
			"versions_url": "https://example.com/" + name + "/versions.json",
			"description":  f.GenerateRandomString(20),
		}
	}
	data, _ := json.Marshal(packs)
	return data
}

// GenerateCorruptedJSON generates various types of corrupted JSON for fuzzing
func (f *FuzzDataGenerator) GenerateCorruptedJSON() []byte {
	corruptionTypes := []func() []byte{
		// Truncated JSON
		func() []byte {
			validJSON := f.GenerateVersionList()
			if len(validJSON) > 10 {
				return validJSON[:len(validJSON)/2]
			}
			return validJSON
		},
		// Invalid characters
		func() []byte {
			return []byte(strings.ReplaceAll(string(f.GenerateVersionList()), ":", f.GenerateRandomString(5)))
		},
		// Null download with a digest
		func() []byte {
			return []byte(strings.ReplaceAll(string(f.GenerateVersionList()), `"download_url":"https`, `"download_url":null,"x":"https`))
		},
		// Nested objects with random depths
		func() []byte {
			depth := f.rand.Intn(100) + 1
			var b strings.Builder
			b.WriteString("{")
			for i := 0; i < depth; i++ {
				fmt.Fprintf(&b, `"level%d": {`, i)
			}
			b.WriteString(`"value": "test"`)
			b.WriteString(strings.Repeat("}", depth+1))
			return []byte(b.String())
		},
		// Invalid Unicode
		func() []byte {
			return append([]byte(`{"versions": "`), append(f.GenerateRandomBytes(50), []byte(`"}`)...)...)
		},
	}

	corruptionFunc := corruptionTypes[f.rand.Intn(len(corruptionTypes))]
	return corruptionFunc()
}

// FuzzDocument fuzzes a document parser seeded with valid documents from
// valid and corrupted variants of them.
func FuzzDocument(f *testing.F, valid func(*FuzzDataGenerator) []byte, operation func(t *testing.T, data []byte)) {
	f.Helper()

	generator := NewFuzzDataGenerator(1)
	for i := 0; i < 5; i++ {
		f.Add(valid(generator))
	}
	for i := 0; i < 10; i++ {
		f.Add(generator.GenerateCorruptedJSON())
	}

	// Add edge cases
	f.Add([]byte(""))
	f.Add([]byte("{}"))
	f.Add([]byte("null"))
	f.Add([]byte("[]"))

	f.Fuzz(func(t *testing.T, data []byte) {
		// The operation should never panic, even with invalid input
		defer func() {
			if r := recover(); r != nil {
				t.Errorf("operation panicked with input %q: %v", string(data), r)
			}
		}()
		operation(t, data)
	})
}
