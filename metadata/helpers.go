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

package metadata

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"net/url"
	"strconv"
	"strings"
)

const (
	secureScheme    = "https://"
	localhostPrefix = "http://localhost/"
)

// IsAcceptedURL reports whether rawURL may be used as a repository or
// versions URL: https:// for production and http://localhost/ for
// testing. Both prefixes are matched case-insensitively.
func IsAcceptedURL(rawURL string) bool {
	return hasPrefixFold(rawURL, secureScheme) || hasPrefixFold(rawURL, localhostPrefix)
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// HostOf returns the host (including a port, if any) the trust policy
// applies to. Host names are compared lower case.
func HostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", ErrValue{Msg: "invalid url " + strconv.Quote(rawURL) + ": " + err.Error()}
	}
	if u.Host == "" {
		return "", ErrValue{Msg: "url " + strconv.Quote(rawURL) + " has no host"}
	}
	return strings.ToLower(u.Host), nil
}

// NormalizeDigest lower cases a hex digest so digests can be compared
// case-insensitively.
func NormalizeDigest(digest string) string {
	return strings.ToLower(strings.TrimSpace(digest))
}

// NewDigester returns the hash used to pin pack downloads.
func NewDigester() hash.Hash {
	return sha256.New()
}

// VerifyDigest checks a computed hash sum against an expected hex digest.
func VerifyDigest(sum []byte, expected string) error {
	actual := hex.EncodeToString(sum)
	if actual != NormalizeDigest(expected) {
		return ErrChecksumMismatch{Expected: expected, Actual: actual}
	}
	return nil
}

// VerifyBytes checks data against an expected SHA-256 hex digest.
func VerifyBytes(data []byte, expected string) error {
	h := NewDigester()
	h.Write(data)
	return VerifyDigest(h.Sum(nil), expected)
}

// CompareVersions orders version strings. Strings are split into runs of
// digits and non-digits; digit runs compare numerically, other runs
// lexically, and "." "-" "+" "_" only separate runs. A leading "v" is
// ignored. When one string is a prefix of the other, the longer one is
// greater unless its next run is a letter run after "-" (a pre-release
// such as "1.0-beta" < "1.0"). Identical orderings fall back to a plain
// string comparison so the order is total.
func CompareVersions(a, b string) int {
	ta, tb := versionTokens(a), versionTokens(b)
	for i := 0; i < len(ta) && i < len(tb); i++ {
		if c := ta[i].compare(tb[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(ta) > len(tb):
		if ta[len(tb)].prerelease {
			return -1
		}
		return 1
	case len(ta) < len(tb):
		if tb[len(ta)].prerelease {
			return 1
		}
		return -1
	}
	return strings.Compare(a, b)
}

type versionToken struct {
	text       string
	number     uint64
	numeric    bool
	prerelease bool
}

func (t versionToken) compare(o versionToken) int {
	switch {
	case t.numeric && o.numeric:
		switch {
		case t.number < o.number:
			return -1
		case t.number > o.number:
			return 1
		}
		return 0
	case t.numeric:
		// a release segment sorts after a pre-release tag
		return 1
	case o.numeric:
		return -1
	}
	return strings.Compare(strings.ToLower(t.text), strings.ToLower(o.text))
}

func versionTokens(v string) []versionToken {
	v = strings.TrimSpace(v)
	if len(v) > 1 && (v[0] == 'v' || v[0] == 'V') && isDigit(v[1]) {
		v = v[1:]
	}
	var tokens []versionToken
	var sep byte
	for i := 0; i < len(v); {
		c := v[i]
		if c == '.' || c == '-' || c == '+' || c == '_' {
			sep = c
			i++
			continue
		}
		j := i
		digit := isDigit(c)
		for j < len(v) && isDigit(v[j]) == digit && !strings.ContainsRune(".-+_", rune(v[j])) {
			j++
		}
		tok := versionToken{text: v[i:j], numeric: digit}
		if digit {
			n, err := strconv.ParseUint(tok.text, 10, 64)
			if err != nil {
				// overlong runs compare as text
				tok.numeric = false
			}
			tok.number = n
		} else {
			tok.prerelease = sep == '-' || len(tokens) > 0 && sep == 0
		}
		tokens = append(tokens, tok)
		sep = 0
		i = j
	}
	return tokens
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
