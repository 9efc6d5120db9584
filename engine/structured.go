package engine

import (
	"encoding/json"
	"fmt"
)

// This file adds the thin, JSON-value command-layer helpers spec.md
// frames as an out-of-scope collaborator ("structured-type helpers...
// are not part of the storage core"). They compose Get/Put and add no
// invariant of their own; each call is its own Get/Put round trip
// through the writer lock, not a single atomic operation.

// JSONSetField sets field on the JSON object stored at key (creating
// the object if key is absent or not itself an object), encoding value
// as a JSON string unless it already parses as JSON.
func (e *Engine) JSONSetField(key, field, value string) error {
	obj := map[string]interface{}{}
	if raw, ok, err := e.Get(key); err != nil {
		return err
	} else if ok {
		_ = json.Unmarshal(raw, &obj) // non-object or malformed: start fresh
	}

	var parsed interface{}
	if err := json.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}
	obj[field] = parsed

	out, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerializer, err)
	}
	return e.Put(key, out)
}

// JSONGetField returns field's raw JSON text from the object at key.
func (e *Engine) JSONGetField(key, field string) (string, bool, error) {
	raw, ok, err := e.Get(key)
	if err != nil || !ok {
		return "", false, err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", false, nil
	}
	v, ok := obj[field]
	if !ok {
		return "", false, nil
	}
	return string(v), true, nil
}

// HashSet sets field to value in the string-keyed hash stored at key.
func (e *Engine) HashSet(key, field, value string) error {
	obj := map[string]string{}
	if raw, ok, err := e.Get(key); err != nil {
		return err
	} else if ok {
		_ = json.Unmarshal(raw, &obj)
	}
	obj[field] = value

	out, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerializer, err)
	}
	return e.Put(key, out)
}

// HashGet returns field's value from the hash stored at key.
func (e *Engine) HashGet(key, field string) (string, bool, error) {
	raw, ok, err := e.Get(key)
	if err != nil || !ok {
		return "", false, err
	}
	obj := map[string]string{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", false, nil
	}
	v, ok := obj[field]
	return v, ok, nil
}

// HashDel removes field from the hash stored at key.
func (e *Engine) HashDel(key, field string) error {
	obj := map[string]string{}
	if raw, ok, err := e.Get(key); err != nil {
		return err
	} else if ok {
		_ = json.Unmarshal(raw, &obj)
	}
	delete(obj, field)

	out, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerializer, err)
	}
	return e.Put(key, out)
}

// HashGetAll returns every field/value pair in the hash stored at key.
func (e *Engine) HashGetAll(key string) (map[string]string, bool, error) {
	raw, ok, err := e.Get(key)
	if err != nil || !ok {
		return nil, false, err
	}
	obj := map[string]string{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false, nil
	}
	return obj, true, nil
}

func (e *Engine) listGet(key string) []string {
	raw, ok, err := e.Get(key)
	if err != nil || !ok {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil
	}
	return list
}

func (e *Engine) listPut(key string, list []string) error {
	out, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerializer, err)
	}
	return e.Put(key, out)
}

// ListPush appends value to the JSON array stored at key (an alias of
// ListRPush kept for parity with the append-only naming elsewhere).
func (e *Engine) ListPush(key, value string) error {
	return e.ListRPush(key, value)
}

// ListLPush prepends value to the list at key.
func (e *Engine) ListLPush(key, value string) error {
	list := append([]string{value}, e.listGet(key)...)
	return e.listPut(key, list)
}

// ListRPush appends value to the list at key.
func (e *Engine) ListRPush(key, value string) error {
	list := append(e.listGet(key), value)
	return e.listPut(key, list)
}

// ListLPop removes and returns the first element of the list at key.
func (e *Engine) ListLPop(key string) (string, bool, error) {
	list := e.listGet(key)
	if len(list) == 0 {
		return "", false, nil
	}
	head := list[0]
	if err := e.listPut(key, list[1:]); err != nil {
		return "", false, err
	}
	return head, true, nil
}

// ListRPop removes and returns the last element of the list at key.
func (e *Engine) ListRPop(key string) (string, bool, error) {
	list := e.listGet(key)
	if len(list) == 0 {
		return "", false, nil
	}
	tail := list[len(list)-1]
	if err := e.listPut(key, list[:len(list)-1]); err != nil {
		return "", false, err
	}
	return tail, true, nil
}

// ListRange returns the elements from start through end, both
// inclusive; negative indices count from the end (-1 is the last
// element) and both ends are clamped into range.
func (e *Engine) ListRange(key string, start, end int) []string {
	list := e.listGet(key)
	n := len(list)
	if n == 0 {
		return []string{}
	}

	if start < 0 {
		start += n
	}
	if end < 0 {
		end += n
	}
	if start < 0 {
		start = 0
	}
	if end > n-1 {
		end = n - 1
	}
	if start > end || n == 0 {
		return []string{}
	}
	out := make([]string, end-start+1)
	copy(out, list[start:end+1])
	return out
}

// ListLen returns the length of the list at key, or 0 if absent.
func (e *Engine) ListLen(key string) int {
	return len(e.listGet(key))
}

// SetAdd adds value to the JSON-array-backed set at key if not already
// present.
func (e *Engine) SetAdd(key, value string) error {
	list := e.listGet(key)
	for _, v := range list {
		if v == value {
			return nil
		}
	}
	return e.listPut(key, append(list, value))
}
