package sensor

import "sort"

// KeySet is a deduplicated set of object keys.
type KeySet map[string]struct{}

// NewKeySet builds a KeySet from keys. Duplicates collapse.
func NewKeySet(keys ...string) KeySet {
	s := make(KeySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Len returns the number of keys.
func (s KeySet) Len() int {
	return len(s)
}

// Has reports whether key is in the set.
func (s KeySet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Equal reports whether both sets hold exactly the same keys.
func (s KeySet) Equal(other KeySet) bool {
	if len(s) != len(other) {
		return false
	}
	for k := range s {
		if !other.Has(k) {
			return false
		}
	}
	return true
}

// IsSupersetOf reports whether every key of other is also in s.
func (s KeySet) IsSupersetOf(other KeySet) bool {
	if len(s) < len(other) {
		return false
	}
	for k := range other {
		if !s.Has(k) {
			return false
		}
	}
	return true
}

// Missing returns the keys of s that are absent from other, sorted.
func (s KeySet) Missing(other KeySet) []string {
	var out []string
	for k := range s {
		if !other.Has(k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy. A nil set clones to an empty set.
func (s KeySet) Clone() KeySet {
	out := make(KeySet, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// Sorted returns the keys in lexical order.
func (s KeySet) Sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
