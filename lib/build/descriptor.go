// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package build

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Descriptor is the resolved description of one published build.
type Descriptor struct {
	// Tag is the version string the build was published under.
	Tag string `json:"tag"`

	// Manifests lists every asset the build offers, in endpoint order.
	Manifests []AssetManifestRef `json:"manifests"`

	// Invalid lists the manifests entries that failed to parse. They
	// only matter to a session that requests their key.
	Invalid []InvalidEntry `json:"-"`
}

// InvalidEntry is a manifests entry rejected by ParseDescriptor.
type InvalidEntry struct {
	// Key is the entry's matching_field, or empty if that was absent.
	Key string
	Err error
}

// AssetManifestRef locates one asset's manifest and chunk store.
type AssetManifestRef struct {
	// Key matches the asset class: "game" for the base game, a locale
	// such as "en-us" for a language pack.
	Key string `json:"key"`

	ManifestID       string `json:"manifest_id"`
	ManifestChecksum string `json:"manifest_checksum"`

	// ManifestSize is the declared decompressed manifest size, or 0
	// if the endpoint did not declare one.
	ManifestSize int64 `json:"manifest_size,omitempty"`

	ManifestURLPrefix string `json:"manifest_url_prefix"`
	ChunkURLPrefix    string `json:"chunk_url_prefix"`

	// Game is set by Resolver.Select on the ref resolved for the base
	// game, whatever the letter case the endpoint published its key in.
	Game bool `json:"-"`
}

// Lookup returns the single descriptor entry whose key matches.
func (d *Descriptor) Lookup(key string) (AssetManifestRef, bool) {
	for _, ref := range d.Manifests {
		if strings.EqualFold(ref.Key, key) {
			return ref, true
		}
	}
	return AssetManifestRef{}, false
}

// lookupInvalid returns the rejected entry whose key matches.
func (d *Descriptor) lookupInvalid(key string) (InvalidEntry, bool) {
	for _, invalid := range d.Invalid {
		if invalid.Key != "" && strings.EqualFold(invalid.Key, key) {
			return invalid, true
		}
	}
	return InvalidEntry{}, false
}

// The wire schema of the build-description endpoint. Only the fields
// the engine needs are declared; everything else is ignored. Required
// fields are pointers so their absence can be reported by name.

type wireEnvelope struct {
	Retcode *int       `json:"retcode"`
	Message string     `json:"message"`
	Data    *wireBuild `json:"data"`
}

type wireBuild struct {
	BuildID   string              `json:"build_id,omitempty"`
	Tag       *string             `json:"tag"`
	Manifests *[]wireManifestInfo `json:"manifests"`
}

type wireManifestInfo struct {
	CategoryName     string        `json:"category_name,omitempty"`
	MatchingField    *string       `json:"matching_field"`
	Manifest         *wireManifest `json:"manifest"`
	ManifestDownload *wireDownload `json:"manifest_download"`
	ChunkDownload    *wireDownload `json:"chunk_download"`
}

type wireManifest struct {
	ID               *string     `json:"id"`
	Checksum         *string     `json:"checksum"`
	CompressedSize   json.Number `json:"compressed_size,omitempty"`
	UncompressedSize json.Number `json:"uncompressed_size,omitempty"`
}

type wireDownload struct {
	URLPrefix   *string `json:"url_prefix"`
	URLSuffix   string  `json:"url_suffix,omitempty"`
	Compression int     `json:"compression,omitempty"`
}

// MissingFieldError names a required descriptor field that was absent.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("build descriptor: missing required field %s", e.Field)
}

// ErrRejected is wrapped when the endpoint answered with a non-zero
// retcode.
var ErrRejected = errors.New("build descriptor rejected by endpoint")

// ParseDescriptor decodes a build-description JSON body. A missing
// top-level field fails the parse; a malformed manifests entry is set
// aside in Invalid so the other assets stay usable.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	var envelope wireEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("build descriptor: %w", err)
	}
	if envelope.Retcode != nil && *envelope.Retcode != 0 {
		return nil, fmt.Errorf("%w: retcode %d: %s", ErrRejected, *envelope.Retcode, envelope.Message)
	}
	if envelope.Data == nil {
		return nil, &MissingFieldError{Field: "data"}
	}
	if envelope.Data.Tag == nil || *envelope.Data.Tag == "" {
		return nil, &MissingFieldError{Field: "data.tag"}
	}
	if envelope.Data.Manifests == nil {
		return nil, &MissingFieldError{Field: "data.manifests"}
	}

	descriptor := &Descriptor{
		Tag:       *envelope.Data.Tag,
		Manifests: make([]AssetManifestRef, 0, len(*envelope.Data.Manifests)),
	}
	for index, info := range *envelope.Data.Manifests {
		ref, err := info.ref(fmt.Sprintf("data.manifests[%d]", index))
		if err != nil {
			invalid := InvalidEntry{Err: err}
			if info.MatchingField != nil {
				invalid.Key = *info.MatchingField
			}
			descriptor.Invalid = append(descriptor.Invalid, invalid)
			continue
		}
		descriptor.Manifests = append(descriptor.Manifests, ref)
	}
	return descriptor, nil
}

func (info wireManifestInfo) ref(field string) (AssetManifestRef, error) {
	switch {
	case info.MatchingField == nil:
		return AssetManifestRef{}, &MissingFieldError{Field: field + ".matching_field"}
	case info.Manifest == nil:
		return AssetManifestRef{}, &MissingFieldError{Field: field + ".manifest"}
	case info.Manifest.ID == nil:
		return AssetManifestRef{}, &MissingFieldError{Field: field + ".manifest.id"}
	case info.Manifest.Checksum == nil:
		return AssetManifestRef{}, &MissingFieldError{Field: field + ".manifest.checksum"}
	case info.ManifestDownload == nil || info.ManifestDownload.URLPrefix == nil:
		return AssetManifestRef{}, &MissingFieldError{Field: field + ".manifest_download.url_prefix"}
	case info.ChunkDownload == nil || info.ChunkDownload.URLPrefix == nil:
		return AssetManifestRef{}, &MissingFieldError{Field: field + ".chunk_download.url_prefix"}
	}

	ref := AssetManifestRef{
		Key:               *info.MatchingField,
		ManifestID:        *info.Manifest.ID,
		ManifestChecksum:  *info.Manifest.Checksum,
		ManifestURLPrefix: *info.ManifestDownload.URLPrefix,
		ChunkURLPrefix:    *info.ChunkDownload.URLPrefix,
	}
	// Sizes arrive as strings or numbers depending on the endpoint
	// revision; both decode through json.Number.
	if info.Manifest.UncompressedSize != "" {
		size, err := info.Manifest.UncompressedSize.Int64()
		if err != nil {
			return AssetManifestRef{}, fmt.Errorf("build descriptor: %s.manifest.uncompressed_size: %w", field, err)
		}
		ref.ManifestSize = size
	}
	return ref, nil
}

// Marshal encodes d in the endpoint's wire format, the inverse of
// ParseDescriptor. Mirrors and packers publish the result.
func (d *Descriptor) Marshal() ([]byte, error) {
	manifests := make([]wireManifestInfo, len(d.Manifests))
	for index := range d.Manifests {
		ref := &d.Manifests[index]
		info := wireManifestInfo{
			CategoryName:  ref.Key,
			MatchingField: &ref.Key,
			Manifest: &wireManifest{
				ID:       &ref.ManifestID,
				Checksum: &ref.ManifestChecksum,
			},
			ManifestDownload: &wireDownload{URLPrefix: &ref.ManifestURLPrefix},
			ChunkDownload:    &wireDownload{URLPrefix: &ref.ChunkURLPrefix},
		}
		if ref.ManifestSize > 0 {
			info.Manifest.UncompressedSize = json.Number(fmt.Sprint(ref.ManifestSize))
		}
		manifests[index] = info
	}
	retcode := 0
	envelope := wireEnvelope{
		Retcode: &retcode,
		Message: "OK",
		Data: &wireBuild{
			Tag:       &d.Tag,
			Manifests: &manifests,
		},
	}
	return json.MarshalIndent(envelope, "", "  ")
}
