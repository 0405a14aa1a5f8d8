/*
Package ingest implements the incremental reconciliation core: page
accumulation, classification of fetched records against persisted state, and
enrichment of records with contributor ids and parent primary keys.

Records are untyped because the remote API shape varies per entity; every
field access goes through explicit optional accessors so call sites handle
absence instead of panicking on a missing key.
*/
package ingest

import (
	"fmt"
	"strconv"
	"strings"
)

// Record is one raw remote-API record. It only lives for the duration of a
// single sync pass.
type Record map[string]any

// Path resolves a dotted field path ("user.login") and reports whether every
// segment was present. A nil value stored under the final key returns
// (nil, true): presence and nullness are distinct.
func (r Record) Path(path string) (any, bool) {
	var current any = map[string]any(r)
	for _, seg := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Str returns the string at path, or ("", false) if absent, null or not a string.
func (r Record) Str(path string) (string, bool) {
	v, ok := r.Path(path)
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Int returns the integer at path. JSON numbers decode as float64, so both
// numeric representations are accepted.
func (r Record) Int(path string) (int64, bool) {
	v, ok := r.Path(path)
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

// Nested returns the map at path, or (nil, false) if absent, null or not an object.
func (r Record) Nested(path string) (map[string]any, bool) {
	v, ok := r.Path(path)
	if !ok || v == nil {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

// Slice returns the array at path.
func (r Record) Slice(path string) ([]any, bool) {
	v, ok := r.Path(path)
	if !ok || v == nil {
		return nil, false
	}
	s, ok := v.([]any)
	return s, ok
}

// canonical renders a field value into a stable comparison form. Integral
// floats collapse to their integer rendering so a JSON-decoded 5.0 matches an
// int64 5 read back from the store. Nil stays distinct from every non-nil
// value, including the empty string.
func canonical(v any) string {
	switch n := v.(type) {
	case nil:
		return "\x00null"
	case string:
		return "s:" + n
	case bool:
		return "b:" + strconv.FormatBool(n)
	case int:
		return "n:" + strconv.FormatInt(int64(n), 10)
	case int32:
		return "n:" + strconv.FormatInt(int64(n), 10)
	case int64:
		return "n:" + strconv.FormatInt(n, 10)
	case float64:
		if n == float64(int64(n)) {
			return "n:" + strconv.FormatInt(int64(n), 10)
		}
		return "n:" + strconv.FormatFloat(n, 'g', -1, 64)
	case float32:
		return canonical(float64(n))
	}
	return fmt.Sprintf("v:%v", v)
}
