// Package secindex implements the optional secondary index over
// top-level fields of JSON-object values: (field, canonical value) ->
// set of keys.
package secindex

import (
	"bytes"
	"encoding/json"
	"strconv"
	"sync"
)

// Index maps field -> canonicalized value -> set of keys.
type Index struct {
	mu     sync.RWMutex
	fields map[string]bool // configured field names; empty disables indexing
	data   map[string]map[string]map[string]struct{}
}

// New returns a secondary index that tracks only the given field
// names. An empty fields list disables the index (Update/Remove become
// no-ops), per spec.
func New(fields []string) *Index {
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return &Index{
		fields: set,
		data:   make(map[string]map[string]map[string]struct{}),
	}
}

// Enabled reports whether any field is configured for indexing.
func (idx *Index) Enabled() bool {
	return len(idx.fields) > 0
}

// Update removes key's entries derived from oldJSON (if any) and adds
// key's entries derived from newJSON (if any). Either may be empty to
// mean "no such side" (a fresh PUT has no oldJSON; a DEL has no
// newJSON).
func (idx *Index) Update(key string, oldJSON, newJSON []byte) {
	if !idx.Enabled() {
		return
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if oldJSON != nil {
		for field, value := range extractFields(oldJSON, idx.fields) {
			if byValue := idx.data[field]; byValue != nil {
				if keys := byValue[value]; keys != nil {
					delete(keys, key)
					if len(keys) == 0 {
						delete(byValue, value)
					}
				}
				if len(byValue) == 0 {
					delete(idx.data, field)
				}
			}
		}
	}

	if newJSON != nil {
		for field, value := range extractFields(newJSON, idx.fields) {
			byValue := idx.data[field]
			if byValue == nil {
				byValue = make(map[string]map[string]struct{})
				idx.data[field] = byValue
			}
			keys := byValue[value]
			if keys == nil {
				keys = make(map[string]struct{})
				byValue[value] = keys
			}
			keys[key] = struct{}{}
		}
	}
}

// Remove is Update with no new value, used on DEL.
func (idx *Index) Remove(key string, oldJSON []byte) {
	idx.Update(key, oldJSON, nil)
}

// Find returns every key currently associated with (field, value). The
// caller is responsible for re-validating each key against the
// primary index and TTL before yielding it (spec.md §4.7).
func (idx *Index) Find(field, value string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	byValue, ok := idx.data[field]
	if !ok {
		return nil
	}
	keys, ok := byValue[value]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	return out
}

// Clear drops every entry, used when rebuilding after compaction.
func (idx *Index) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.data = make(map[string]map[string]map[string]struct{})
}

// extractFields parses raw as a JSON object and returns the canonical
// string form of every configured, present top-level field. Non-object
// values and parse failures yield an empty map (they contribute
// nothing to the index).
func extractFields(raw []byte, fields map[string]bool) map[string]string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}

	out := make(map[string]string)
	for field := range fields {
		v, ok := obj[field]
		if !ok {
			continue
		}
		canon, ok := canonicalize(v)
		if ok {
			out[field] = canon
		}
	}
	return out
}

// canonicalize renders a JSON scalar per spec.md §3: numbers in minimal
// decimal form, strings verbatim, true/false/null as their literals.
// Arrays and objects are not indexable field values.
func canonicalize(raw json.RawMessage) (string, bool) {
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return "", false
	}

	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		if t {
			return "true", true
		}
		return "false", true
	case nil:
		return "null", true
	case json.Number:
		return canonicalizeNumber(t), true
	default:
		return "", false
	}
}

// canonicalizeNumber renders a json.Number in minimal decimal form:
// integral values drop a trailing ".0" et al.
func canonicalizeNumber(n json.Number) string {
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10)
	}
	f, err := n.Float64()
	if err != nil {
		return n.String()
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
