// Copyright (C) 2025 Cisco Systems, Inc.
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package idcodec encodes and decodes the 26-hex-character public ids
// carried across the REST boundary.
//
// The token layout is fixed:
//
//	FF EEEEEEEE MMMMMMMMMMMMMMMM
//	|  |        |
//	|  |        +-- 64-bit metadata (or engine-metadata) id
//	|  +----------- 32-bit engine id, zero for user annotations
//	+-------------- 8-bit flag byte; non-zero marks engine-generated ids
//
// A single opaque token therefore addresses either a user annotation row
// or a synthetic engine-produced annotation without touching storage.
package idcodec

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// EncodedLen is the length of every valid public id.
const EncodedLen = 26

// ErrInvalidID is returned when a token is not 26 hex characters.
var ErrInvalidID = errors.New("idcodec: id must be 26 hex characters")

var validID = regexp.MustCompile(`^[A-Fa-f0-9]{26}$`)

// EngineRef identifies an engine-generated annotation after decoding.
type EngineRef struct {
	Flag       uint8
	EngineID   uint32
	MetadataID uint64
}

// Encode packs the three fields into a 26-hex token. All inputs fit their
// widths by construction of the Go types, so Encode is total.
func Encode(flag uint8, engineID uint32, metadataID uint64) string {
	return fmt.Sprintf("%02x%08x%016x", flag, engineID, metadataID)
}

// EncodeUser is shorthand for a user annotation id (flag and engine zero).
func EncodeUser(metadataID uint64) string {
	return Encode(0, 0, metadataID)
}

// Decode unpacks a token. Any non-26-character or non-hex input yields
// ErrInvalidID.
func Decode(id string) (flag uint8, engineID uint32, metadataID uint64, err error) {
	if !Valid(id) {
		return 0, 0, 0, ErrInvalidID
	}

	f, err := strconv.ParseUint(id[0:2], 16, 8)
	if err != nil {
		return 0, 0, 0, ErrInvalidID
	}
	e, err := strconv.ParseUint(id[2:10], 16, 32)
	if err != nil {
		return 0, 0, 0, ErrInvalidID
	}
	m, err := strconv.ParseUint(id[10:26], 16, 64)
	if err != nil {
		return 0, 0, 0, ErrInvalidID
	}
	return uint8(f), uint32(e), m, nil
}

// Valid reports whether id is a well-formed 26-hex token.
func Valid(id string) bool {
	return len(id) == EncodedLen && validID.MatchString(id)
}

// IsUser reports whether id names a user-created annotation (flag zero).
// Malformed ids are neither user nor engine ids.
func IsUser(id string) bool {
	flag, _, _, err := Decode(id)
	return err == nil && flag == 0
}

// IsEngine reports whether id names an engine-generated annotation.
func IsEngine(id string) bool {
	flag, _, _, err := Decode(id)
	return err == nil && flag != 0
}

// Separate splits a batch of ids into user metadata ids and engine
// references. Malformed ids are dropped, matching the permissive batch
// semantics of the metadata operations.
func Separate(ids []string) (userIDs []uint64, engineRefs []EngineRef) {
	for _, id := range ids {
		flag, engineID, metadataID, err := Decode(id)
		if err != nil {
			continue
		}
		if flag == 0 {
			userIDs = append(userIDs, metadataID)
		} else {
			engineRefs = append(engineRefs, EngineRef{
				Flag:       flag,
				EngineID:   engineID,
				MetadataID: metadataID,
			})
		}
	}
	return userIDs, engineRefs
}
