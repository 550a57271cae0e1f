// Copyright (C) 2025 Cisco Systems, Inc.
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package idcodec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeLayout(t *testing.T) {
	assert.Equal(t, "00000000000000000000000001", EncodeUser(1))
	assert.Equal(t, "080000002a0000000000000007", Encode(8, 42, 7))
	assert.Len(t, Encode(math.MaxUint8, math.MaxUint32, math.MaxUint64), EncodedLen)
}

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		flag     uint8
		engine   uint32
		metadata uint64
	}{
		{0, 0, 0},
		{0, 0, 1},
		{8, 3, 1234567},
		{1, math.MaxUint32, math.MaxUint64},
		{math.MaxUint8, 0, 42},
	}

	for _, tc := range cases {
		id := Encode(tc.flag, tc.engine, tc.metadata)
		flag, engine, metadata, err := Decode(id)
		require.NoError(t, err, "id %s", id)
		assert.Equal(t, tc.flag, flag)
		assert.Equal(t, tc.engine, engine)
		assert.Equal(t, tc.metadata, metadata)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	bad := []string{
		"",
		"00",
		"0000000000000000000000000",   // 25 chars
		"000000000000000000000000011", // 27 chars
		"zz000000000000000000000001",  // non-hex
		"0000000000000000000000000g",
	}
	for _, id := range bad {
		_, _, _, err := Decode(id)
		assert.ErrorIs(t, err, ErrInvalidID, "id %q", id)
		assert.False(t, Valid(id))
	}

	// Upper case hex is accepted on decode.
	_, _, _, err := Decode("080000002A0000000000000007")
	assert.NoError(t, err)
}

func TestUserEngineClassification(t *testing.T) {
	user := EncodeUser(99)
	engine := Encode(8, 1, 99)

	assert.True(t, IsUser(user))
	assert.False(t, IsEngine(user))
	assert.True(t, IsEngine(engine))
	assert.False(t, IsUser(engine))

	// Malformed ids are neither.
	assert.False(t, IsUser("nope"))
	assert.False(t, IsEngine("nope"))
}

func TestSeparate(t *testing.T) {
	ids := []string{
		EncodeUser(1),
		Encode(8, 2, 3),
		"garbage",
		EncodeUser(4),
	}

	userIDs, engineRefs := Separate(ids)
	assert.Equal(t, []uint64{1, 4}, userIDs)
	require.Len(t, engineRefs, 1)
	assert.Equal(t, EngineRef{Flag: 8, EngineID: 2, MetadataID: 3}, engineRefs[0])
}
