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
	"fmt"
)

// Define error types used by the pack update workflow.
// The names chosen for error types should start in 'Err' except where
// there is a good reason not to, and provide that reason in those cases.

// Policy errors

// ErrRejectedURLScheme - a repository or versions URL that is neither
// https:// nor the http://localhost/ testing exception
type ErrRejectedURLScheme struct {
	URL string
}

func (e ErrRejectedURLScheme) Error() string {
	return fmt.Sprintf("rejected url scheme: %s", e.URL)
}

func (e ErrRejectedURLScheme) Is(target error) bool {
	_, ok := target.(ErrRejectedURLScheme)
	return ok
}

// ErrUntrustedHost - contacting the host was declined by the user, no
// confirmation handler was registered or the host was declined before
type ErrUntrustedHost struct {
	Host string
}

func (e ErrUntrustedHost) Error() string {
	return fmt.Sprintf("untrusted host: %s", e.Host)
}

func (e ErrUntrustedHost) Is(target error) bool {
	_, ok := target.(ErrUntrustedHost)
	return ok
}

// Repository errors

// ErrSchemaValidation - a pack index or version list does not match its
// schema. This is distinct from "no update available".
type ErrSchemaValidation struct {
	Msg string
}

func (e ErrSchemaValidation) Error() string {
	return fmt.Sprintf("schema validation failed: %s", e.Msg)
}

func (e ErrSchemaValidation) Is(target error) bool {
	_, ok := target.(ErrSchemaValidation)
	return ok
}

// ErrChecksumMismatch - downloaded bytes do not match the pinned digest
type ErrChecksumMismatch struct {
	Expected string
	Actual   string
}

func (e ErrChecksumMismatch) Error() string {
	return fmt.Sprintf("checksum mismatch: expected sha256 %s, got %s", e.Expected, e.Actual)
}

func (e ErrChecksumMismatch) Is(target error) bool {
	_, ok := target.(ErrChecksumMismatch)
	return ok
}

// Download errors

// ErrTransport - a network, DNS, TLS or HTTP level failure of the
// underlying transport
type ErrTransport struct {
	Msg string
	Err error
}

func (e ErrTransport) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport error: %s: %s", e.Msg, e.Err)
	}
	return fmt.Sprintf("transport error: %s", e.Msg)
}

func (e ErrTransport) Unwrap() error {
	return e.Err
}

func (e ErrTransport) Is(target error) bool {
	_, ok := target.(ErrTransport)
	return ok
}

// ErrDownloadHTTP - Returned by Fetcher interface implementations for HTTP errors
type ErrDownloadHTTP struct {
	StatusCode int
	URL        string
}

func (e ErrDownloadHTTP) Error() string {
	return fmt.Sprintf("failed to download %s, http status code: %d", e.URL, e.StatusCode)
}

// ErrDownloadHTTP is a subset of ErrTransport
func (e ErrDownloadHTTP) Is(target error) bool {
	if _, ok := target.(ErrTransport); ok {
		return true
	}
	_, ok := target.(ErrDownloadHTTP)
	return ok
}

// ErrTooManyRedirects - the redirect chain exceeded the configured bound
type ErrTooManyRedirects struct {
	URL   string
	Limit int
}

func (e ErrTooManyRedirects) Error() string {
	return fmt.Sprintf("stopped after %d redirects while fetching %s", e.Limit, e.URL)
}

// ErrTooManyRedirects is a subset of ErrTransport
func (e ErrTooManyRedirects) Is(target error) bool {
	if _, ok := target.(ErrTransport); ok {
		return true
	}
	_, ok := target.(ErrTooManyRedirects)
	return ok
}

// ErrDownloadLengthMismatch - Indicate that a mismatch of lengths was seen while downloading a file
type ErrDownloadLengthMismatch struct {
	Msg string
}

func (e ErrDownloadLengthMismatch) Error() string {
	return fmt.Sprintf("download length mismatch error: %s", e.Msg)
}

// ErrDownloadLengthMismatch is a subset of ErrTransport
func (e ErrDownloadLengthMismatch) Is(target error) bool {
	if _, ok := target.(ErrTransport); ok {
		return true
	}
	_, ok := target.(ErrDownloadLengthMismatch)
	return ok
}

// ErrInFlight - an identical operation is already running
type ErrInFlight struct {
	Key string
}

func (e ErrInFlight) Error() string {
	return fmt.Sprintf("operation already in flight: %s", e.Key)
}

func (e ErrInFlight) Is(target error) bool {
	_, ok := target.(ErrInFlight)
	return ok
}

// ValueError
type ErrValue struct {
	Msg string
}

func (e ErrValue) Error() string {
	return fmt.Sprintf("value error: %s", e.Msg)
}

func (e ErrValue) Is(target error) bool {
	_, ok := target.(ErrValue)
	return ok
}
