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
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// PackIndexSchema describes a repository's pack index: an open map of
// pack UID to pack metadata.
const PackIndexSchema = `{
    "$schema": "http://json-schema.org/draft-07/schema#",
    "type": "object",
    "additionalProperties": {
        "type": "object",
        "properties": {
            "name": { "type": "string" },
            "author": { "type": "string" },
            "platform": { "type": "string" },
            "homepage": { "type": "string", "format": "uri" },
            "versions_url": { "type": "string", "format": "uri" },
            "description": { "type": "string" },
            "icon_url": { "type": "string", "format": "uri" }
        },
        "required": [
            "name",
            "author",
            "platform",
            "homepage",
            "versions_url",
            "description"
        ]
    }
}`

// VersionListSchema describes a pack's versions document. An entry with
// a download_url must carry its sha256.
const VersionListSchema = `{
    "$schema": "http://json-schema.org/draft-07/schema#",
    "type": "object",
    "properties": {
        "versions": {
            "type": "array",
            "items": {
                "type": "object",
                "properties": {
                    "package_version": { "type": "string" },
                    "download_url": {
                        "type": ["string", "null"],
                        "format": "uri"
                    },
                    "sha256": {
                        "description": "SHA256 of the download as hex chars without spaces",
                        "type": "string",
                        "minLength": 64,
                        "maxLength": 64,
                        "pattern": "^[0-9a-f]{64}$"
                    },
                    "changelog": {
                        "type": "array",
                        "items": { "type": "string" }
                    }
                },
                "required": [
                    "package_version",
                    "download_url",
                    "changelog"
                ],
                "oneOf": [
                    { "properties": { "download_url": { "type": "null" } } },
                    { "required": ["sha256"] }
                ]
            }
        }
    },
    "required": ["versions"]
}`

var (
	schemaOnce  sync.Once
	schemaErr   error
	packIndex   *jsonschema.Schema
	versionList *jsonschema.Schema
)

func compileSchemas() {
	compile := func(name, src string) (*jsonschema.Schema, error) {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft7
		compiler.AssertFormat = true
		url := "inmemory://" + name
		if err := compiler.AddResource(url, strings.NewReader(src)); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", name, err)
		}
		return compiler.Compile(url)
	}
	packIndex, schemaErr = compile("packs.json", PackIndexSchema)
	if schemaErr != nil {
		return
	}
	versionList, schemaErr = compile("versions.json", VersionListSchema)
}

func validate(kind string, pick func() *jsonschema.Schema, data []byte) error {
	schemaOnce.Do(compileSchemas)
	if schemaErr != nil {
		return schemaErr
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return ErrSchemaValidation{Msg: fmt.Sprintf("%s is not valid JSON: %s", kind, err)}
	}
	if dec.More() {
		return ErrSchemaValidation{Msg: fmt.Sprintf("%s has trailing data", kind)}
	}
	if err := pick().Validate(doc); err != nil {
		return ErrSchemaValidation{Msg: fmt.Sprintf("%s: %s", kind, err)}
	}
	return nil
}

// ValidatePackIndex checks data against PackIndexSchema.
func ValidatePackIndex(data []byte) error {
	return validate("pack index", func() *jsonschema.Schema { return packIndex }, data)
}

// ValidateVersionList checks data against VersionListSchema. A single
// invalid entry rejects the whole document.
func ValidateVersionList(data []byte) error {
	return validate("version list", func() *jsonschema.Schema { return versionList }, data)
}

func IsValidPackIndex(data []byte) bool {
	return ValidatePackIndex(data) == nil
}

func IsValidVersionList(data []byte) bool {
	return ValidateVersionList(data) == nil
}
