// Copyright The Mantle Authors
// SPDX-License-Identifier: Apache-2.0

package maps

import (
	"sort"
)

// Keys returns a map's keys as an unordered slice of strings.
func Keys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// SortedKeys returns a map's keys as a sorted slice of strings.
func SortedKeys[M ~map[string]V, V any](m M) []string {
	keys := Keys(m)
	sort.Strings(keys)
	return keys
}
