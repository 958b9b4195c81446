package question

import (
	"sort"
	"strings"
)

// PrefixIndex maps keys to values and answers the two lookups renaming and
// selection need: longest key that is a "<key>_" prefix of a label, and all
// labels under a "<key>_" prefix. Keys are kept sorted for range scans.
type PrefixIndex struct {
	keys []string
	vals map[string]string
}

// NewPrefixIndex indexes m. The map is copied.
func NewPrefixIndex(m map[string]string) *PrefixIndex {
	ix := &PrefixIndex{keys: make([]string, 0, len(m)), vals: make(map[string]string, len(m))}
	for k, v := range m {
		ix.keys = append(ix.keys, k)
		ix.vals[k] = v
	}
	sort.Strings(ix.keys)
	return ix
}

// NewKeyIndex indexes a key set with empty values, for range queries only.
func NewKeyIndex(keys []string) *PrefixIndex {
	m := make(map[string]string, len(keys))
	for _, k := range keys {
		m[k] = ""
	}
	return NewPrefixIndex(m)
}

// Len returns the number of keys.
func (ix *PrefixIndex) Len() int { return len(ix.keys) }

// Get returns the value for an exact key.
func (ix *PrefixIndex) Get(key string) (string, bool) {
	v, ok := ix.vals[key]
	return v, ok
}

// Resolve finds the entry for label. An exact key wins; otherwise the longest
// key k with label == k + "_" + rest is used. suffix is the remainder of the
// label after the key, including the leading "_" ("" on exact match).
func (ix *PrefixIndex) Resolve(label string) (key, value, suffix string, ok bool) {
	if v, hit := ix.vals[label]; hit {
		return label, v, "", true
	}
	for i := len(label) - 1; i > 0; i-- {
		if label[i] != '_' {
			continue
		}
		if v, hit := ix.vals[label[:i]]; hit {
			return label[:i], v, label[i:], true
		}
	}
	return "", "", "", false
}

// Family returns, in sorted order, the keys equal to base or starting with
// base + "_".
func (ix *PrefixIndex) Family(base string) []string {
	var out []string
	if _, ok := ix.vals[base]; ok {
		out = append(out, base)
	}
	p := base + "_"
	for i := sort.SearchStrings(ix.keys, p); i < len(ix.keys) && strings.HasPrefix(ix.keys[i], p); i++ {
		out = append(out, ix.keys[i])
	}
	return out
}
