package config

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Node is one position in the configuration tree. The zero Node is absent.
type Node struct {
	v       any
	present bool
}

// Wrap returns a present node holding v. Values are normalized so that
// objects are map[string]any and lists are []any regardless of the decoder.
func Wrap(v any) Node {
	return Node{v: normalize(v), present: true}
}

// Empty returns the tree for an empty configuration document.
func Empty() Node {
	return Wrap(map[string]any{})
}

// Get walks path from n. String elements index objects, int elements index
// lists. Any missing key, out-of-range index, type mismatch or null on the
// way yields the absent node.
func (n Node) Get(path ...any) Node {
	cur := n
	for _, step := range path {
		if !cur.Present() {
			return Node{}
		}
		switch key := step.(type) {
		case string:
			obj, ok := cur.v.(map[string]any)
			if !ok {
				return Node{}
			}
			child, ok := obj[key]
			if !ok {
				return Node{}
			}
			cur = Node{v: child, present: true}
		case int:
			list, ok := cur.v.([]any)
			if !ok || key < 0 || key >= len(list) {
				return Node{}
			}
			cur = Node{v: list[key], present: true}
		default:
			return Node{}
		}
	}
	return cur
}

// Present reports whether the node exists and is not null.
func (n Node) Present() bool {
	return n.present && n.v != nil
}

// Truthy reports whether the node is present and not false, zero or "".
func (n Node) Truthy() bool {
	if !n.Present() {
		return false
	}
	switch v := n.v.(type) {
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0 && !math.IsNaN(v)
	case int:
		return v != 0
	case int64:
		return v != 0
	case uint64:
		return v != 0
	case json.Number:
		f, err := v.Float64()
		return err != nil || (f != 0 && !math.IsNaN(f))
	default:
		return true
	}
}

// Value returns the raw normalized value, or nil when absent.
func (n Node) Value() any {
	if !n.present {
		return nil
	}
	return n.v
}

// String returns the node as a string, or def when absent or not a scalar.
// Numbers and booleans are formatted.
func (n Node) String(def string) string {
	if !n.Present() {
		return def
	}
	switch v := n.v.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case json.Number:
		return v.String()
	default:
		return def
	}
}

// Int returns the node as an int, or def when absent, fractional or not numeric.
// Numeric strings are accepted.
func (n Node) Int(def int) int {
	if !n.Present() {
		return def
	}
	switch v := n.v.(type) {
	case float64:
		if v != math.Trunc(v) || v > math.MaxInt32 || v < math.MinInt32 {
			return def
		}
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		return int(v)
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return def
		}
		return int(i)
	case string:
		i, err := strconv.Atoi(v)
		if err != nil {
			return def
		}
		return i
	default:
		return def
	}
}

// Bool returns the node as a bool, or def when absent or not a bool.
func (n Node) Bool(def bool) bool {
	if !n.Present() {
		return def
	}
	if b, ok := n.v.(bool); ok {
		return b
	}
	return def
}

// Len returns the number of elements of a list or object node, else 0.
func (n Node) Len() int {
	switch v := n.Value().(type) {
	case []any:
		return len(v)
	case map[string]any:
		return len(v)
	default:
		return 0
	}
}

// IsObject reports whether the node holds an object.
func (n Node) IsObject() bool {
	_, ok := n.Value().(map[string]any)
	return ok
}

// normalize converts decoder-specific container types into map[string]any
// and []any. yaml.v2 produces map[interface{}]interface{}.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}
