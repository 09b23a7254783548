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
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Pack is the view of an installed pack the updater needs to check it
// for updates.
type Pack interface {
	UID() string
	Version() string
	VersionsURL() string
}

// PackInfo is the published metadata of a single pack as found in a
// repository's pack index.
type PackInfo struct {
	Name        string   `json:"name"`
	Author      string   `json:"author"`
	Platform    string   `json:"platform"`
	Homepage    string   `json:"homepage"`
	VersionsURL string   `json:"versions_url"`
	Description string   `json:"description"`
	IconURL     *string  `json:"icon_url,omitempty"`
	IconData    IconData `json:"icon_data,omitempty"`
}

// PackMap is a pack index keyed by pack UID.
type PackMap map[string]PackInfo

// PackVersion is one release of a pack. A nil DownloadURL marks a
// retracted release.
type PackVersion struct {
	PackageVersion string   `json:"package_version"`
	DownloadURL    *string  `json:"download_url"`
	SHA256         *string  `json:"sha256,omitempty"`
	Changelog      []string `json:"changelog"`
}

// VersionInfo is the versions document of a pack. The order of Versions
// carries no ranking.
type VersionInfo struct {
	Versions []PackVersion `json:"versions"`
}

// IconData holds inline icon bytes. It decodes both a JSON array of byte
// values and a base64 string.
type IconData []byte

func (d *IconData) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return ErrValue{Msg: fmt.Sprintf("icon_data is not valid base64: %s", err)}
		}
		*d = b
		return nil
	}
	var values []int
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	b := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return ErrValue{Msg: fmt.Sprintf("icon_data value %d at index %d is out of byte range", v, i)}
		}
		b[i] = byte(v)
	}
	*d = b
	return nil
}

func (d IconData) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("null"), nil
	}
	return json.Marshal(base64.StdEncoding.EncodeToString(d))
}

// Available reports whether the version can be downloaded.
func (v PackVersion) Available() bool {
	return v.DownloadURL != nil
}

// Digest returns the published SHA-256 or an empty string.
func (v PackVersion) Digest() string {
	if v.SHA256 == nil {
		return ""
	}
	return *v.SHA256
}

// Clone returns a deep copy of the map. Inline icon bytes are shared.
func (m PackMap) Clone() PackMap {
	res := make(PackMap, len(m))
	for uid, info := range m {
		if info.IconURL != nil {
			u := *info.IconURL
			info.IconURL = &u
		}
		res[uid] = info
	}
	return res
}

// PackIndexFromBytes validates data against the pack index schema and
// decodes it.
func PackIndexFromBytes(data []byte) (PackMap, error) {
	if err := ValidatePackIndex(data); err != nil {
		return nil, err
	}
	packs := PackMap{}
	if err := json.Unmarshal(data, &packs); err != nil {
		return nil, ErrSchemaValidation{Msg: fmt.Sprintf("pack index: %s", err)}
	}
	return packs, nil
}

// VersionInfoFromBytes validates data against the version list schema
// and decodes it.
func VersionInfoFromBytes(data []byte) (*VersionInfo, error) {
	if err := ValidateVersionList(data); err != nil {
		return nil, err
	}
	info := &VersionInfo{}
	if err := json.Unmarshal(data, info); err != nil {
		return nil, ErrSchemaValidation{Msg: fmt.Sprintf("version list: %s", err)}
	}
	return info, nil
}
