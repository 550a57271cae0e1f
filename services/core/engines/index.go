// Copyright (C) 2025 Cisco Systems, Inc.
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package engines

import (
	"fmt"
	"strconv"
	"strings"

	badgerdb "github.com/dgraph-io/badger/v4"
)

// Engine fingerprint indexes live in the shared BadgerDB as member-key
// sets: each element of the set "prefix|a|b" is its own key
// "prefix|a|b|member" with an empty value. Adding is an idempotent Set;
// listing is a prefix iteration. Key segments are fixed-width or
// hex-encoded, so the separator never appears inside a segment.

// setKey joins key segments with the index separator.
func setKey(segments ...string) []byte {
	return []byte(strings.Join(segments, "|"))
}

// addMember inserts member into the set identified by the leading
// segments. Idempotent.
func addMember(txn *badgerdb.Txn, member string, segments ...string) error {
	return txn.Set(setKey(append(segments, member)...), nil)
}

// members lists the set identified by the leading segments.
func members(txn *badgerdb.Txn, segments ...string) ([]string, error) {
	prefix := append(setKey(segments...), '|')

	opts := badgerdb.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var out []string
	for it.Rewind(); it.Valid(); it.Next() {
		key := it.Item().Key()
		out = append(out, string(key[len(prefix):]))
	}
	return out, nil
}

// functionIDMembers lists a set whose members are function ids.
func functionIDMembers(txn *badgerdb.Txn, segments ...string) ([]int64, error) {
	raw, err := members(txn, segments...)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(raw))
	for _, member := range raw {
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt index member %q: %w", member, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func functionIDMember(id int64) string {
	return strconv.FormatInt(id, 10)
}
