// Copyright (C) 2025 Cisco Systems, Inc.
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package engines

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/bits"
	"sort"
	"strconv"
	"strings"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/Cisco-Talos/FIRST-server/services/core/storage/badger"
	"github.com/Cisco-Talos/FIRST-server/services/core/store"
)

// Catalog1 signature parameters. The constant table is part of the
// external contract: signatures must be reproducible across deployments,
// so these values never change.
const (
	catalog1Perms = 64
	catalog1Iters = 4
)

var catalog1Rand = [128]uint32{
	0xda811767, 0x04300ec0, 0x49ef89b6, 0x88730548,
	0xc167b1a8, 0x8b48ebe3, 0xd3c9c8a2, 0x0d93af8d,
	0xbc7a7e24, 0xc15f8669, 0xff493679, 0x053db725,
	0x9f52c589, 0x89383819, 0x7146afa1, 0x80b1d8df,
	0xa68cf4b9, 0x7b024921, 0xc398a7e6, 0xbb081fc2,
	0xd0d63989, 0x1212d658, 0xad1aa563, 0xdb2dad40,
	0x32a772c6, 0xdd57a11b, 0x2567c2af, 0xce86ece4,
	0x5bda3b36, 0x36fa3a3d, 0x9c5e98bf, 0x7f82b993,
	0x6e4c6580, 0x70d334d9, 0x5dd853d3, 0x8eb6aa8b,
	0x26a429ca, 0x0663c51e, 0xe3d659db, 0xcf45f2b2,
	0x20870b5b, 0x8e79301b, 0x7b676bb7, 0x9b9e08f6,
	0x12c950b8, 0x154335fa, 0x5291f7b1, 0xd3f0e07d,
	0xe6c3a199, 0x9a22cac8, 0x7ee11e48, 0xaaf50a3f,
	0xdf36cf1c, 0x5f05668d, 0xc30d6396, 0xb7f4cef1,
	0xe131b275, 0xe8f5aa4f, 0x5177f785, 0x5ed9262b,
	0x52f5ca20, 0x7c8f88ed, 0x06a28a7a, 0x92682d57,
	0xc3d3ef5f, 0xe3998bb8, 0x00f7bd66, 0xc74b717b,
	0xf53f177f, 0x297abdac, 0xf64fb06f, 0x0258e00f,
	0x3705fedd, 0x9bf5b5f4, 0xd56398cc, 0x53a07fd2,
	0x14fbd75b, 0x913db32a, 0x84b529cc, 0xc68d56d8,
	0x4d01cc0b, 0x9ab09789, 0xc3abd823, 0x3116ce04,
	0x1649d99a, 0x55242290, 0x9fe6b6bd, 0x5e3007dd,
	0xbab00e01, 0xd74e33a8, 0x68141b5e, 0x2289371c,
	0x5b2d08ae, 0xb4a55e67, 0x7b7ba98d, 0x039eb8ee,
	0x5d221c09, 0xe3e67f51, 0x38d3d147, 0x212bde16,
	0x83a7e8b3, 0x5dd5db90, 0x3e82a43d, 0x9dc9adcd,
	0xba9cdbb0, 0x86b97049, 0x383daf4c, 0xc105d191,
	0xa7445045, 0x74657daa, 0x923fb58c, 0x2caf7f56,
	0xd5480691, 0x070eb9eb, 0xeac9e744, 0x54784866,
	0x22c71c60, 0xae669443, 0x32d1d092, 0xad6f3bf0,
	0x0e7f341c, 0x4629c13d, 0x0ca83f89, 0xf8cbf712,
	0x434bc4e0, 0x12b32990, 0x77783256, 0x72f28e66,
}

func init() {
	Register("catalog1", func(deps Deps) (Engine, error) {
		if deps.Store == nil || deps.Index == nil {
			return nil, errors.New("catalog1: store and index are required")
		}
		return &catalog1{store: deps.Store, index: deps.Index}, nil
	})
}

// catalog1 builds a 64-permutation min-hash signature over the 4-byte
// sliding windows of the opcode stream. Identical signatures score 100;
// partially matching signatures score by shared permutation count. Works
// on raw bytes, so every architecture is supported.
type catalog1 struct {
	store *store.Store
	index *badger.DB
}

func (e *catalog1) Name() string { return "Catalog1" }

func (e *catalog1) Description() string {
	return "catalog1 sensitive hashing algorithm by xorpd"
}

// catalog1Perm is one keyed permutation of a 32-bit word, four rounds of
// add, rotate and xor driven by the constant table.
func catalog1Perm(p int, x uint32) uint32 {
	for i := 0; i < catalog1Iters; i++ {
		x += catalog1Rand[(uint32(i+p)+x)%128]
		r := (x ^ catalog1Rand[(i+p+1)%128]) % 32
		x = bits.RotateLeft32(x, -int(r))
		x ^= catalog1Rand[(uint32(i+p)+x)%128]
		r = (x ^ catalog1Rand[(i+p+1)%128]) % 32
		x = bits.RotateLeft32(x, -int(r))
	}
	return x
}

// slowSign computes the n-permutation signature: for each permutation,
// the minimum over every 4-byte big-endian sliding window. Inputs
// shorter than one window have no signature.
func slowSign(data []byte, n int) ([]uint32, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("catalog1: need at least 4 bytes, got %d", len(data))
	}
	sig := make([]uint32, n)
	for p := 0; p < n; p++ {
		min := uint32(1<<32 - 1)
		for off := 0; off+4 <= len(data); off++ {
			word := binary.BigEndian.Uint32(data[off:])
			if h := catalog1Perm(p, word); h < min {
				min = h
			}
		}
		sig[p] = min
	}
	return sig, nil
}

// signatureSHA digests the signature in its canonical form: the decimal
// string of each element, sorted, concatenated.
func signatureSHA(sig []uint32) string {
	strs := make([]string, len(sig))
	for i, v := range sig {
		strs[i] = strconv.FormatUint(uint64(v), 10)
	}
	sort.Strings(strs)
	sum := sha256.Sum256([]byte(strings.Join(strs, "")))
	return hex.EncodeToString(sum[:])
}

// permSegment is the inverted-index segment for one signature position.
// The position participates so that only same-permutation minima match.
func permSegment(pos int, value uint32) string {
	return fmt.Sprintf("%02d:%08x", pos, value)
}

func (e *catalog1) Add(ctx context.Context, fn *FunctionDump) error {
	sig, err := slowSign(fn.Opcodes, catalog1Perms)
	if err != nil {
		return nil
	}
	sha := signatureSHA(sig)

	return e.index.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		if err := addMember(txn, functionIDMember(fn.ID), "c1f", fn.Architecture, sha); err != nil {
			return err
		}
		for pos, value := range sig {
			if err := addMember(txn, sha, "c1p", fn.Architecture, permSegment(pos, value)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Scan first tries the exact signature, scoring 100 for every linked
// function. Otherwise it intersects the per-permutation inverted index,
// scores candidates by shared permutation count and keeps the top 10
// above the 80 threshold.
func (e *catalog1) Scan(ctx context.Context, q *Query) ([]*Result, error) {
	sig, err := slowSign(q.Opcodes, catalog1Perms)
	if err != nil {
		return nil, nil
	}
	sha := signatureSHA(sig)

	var results []*Result
	err = e.index.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		ids, err := functionIDMembers(txn, "c1f", q.Architecture, sha)
		if err != nil {
			return err
		}
		if len(ids) > 0 {
			for _, id := range ids {
				results = append(results, &Result{
					FunctionID: id,
					Similarity: 100.0,
					Engines:    []string{e.Name()},
				})
			}
			return nil
		}

		// Shared permutation counting over candidate signatures.
		counts := make(map[string]int)
		for pos, value := range sig {
			shas, err := members(txn, "c1p", q.Architecture, permSegment(pos, value))
			if err != nil {
				return err
			}
			for _, candidate := range shas {
				counts[candidate]++
			}
		}

		type candidate struct {
			sha   string
			count int
		}
		candidates := make([]candidate, 0, len(counts))
		for sha, count := range counts {
			if 100.0*float64(count)/catalog1Perms > 80.0 {
				candidates = append(candidates, candidate{sha, count})
			}
		}
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].count != candidates[j].count {
				return candidates[i].count > candidates[j].count
			}
			return candidates[i].sha < candidates[j].sha
		})
		if len(candidates) > 10 {
			candidates = candidates[:10]
		}

		for _, c := range candidates {
			ids, err := functionIDMembers(txn, "c1f", q.Architecture, c.sha)
			if err != nil {
				return err
			}
			similarity := 100.0 * float64(c.count) / catalog1Perms
			for _, id := range ids {
				if len(results) >= 10 {
					return nil
				}
				results = append(results, &Result{
					FunctionID: id,
					Similarity: similarity,
					Engines:    []string{e.Name()},
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
