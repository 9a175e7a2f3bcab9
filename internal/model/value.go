package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Value is either a single string or a list of strings. Rule values and
// respondent answers share this shape.
type Value struct {
	str   string
	items []string
	list  bool
}

// Scalar returns a single-string value
func Scalar(s string) Value {
	return Value{str: s}
}

// List returns a list value; an empty call yields an empty list, not a scalar
func List(items ...string) Value {
	return Value{items: append([]string{}, items...), list: true}
}

// IsList reports whether the value holds a list
func (v Value) IsList() bool {
	return v.list
}

// String returns the scalar content. Lists return "".
func (v Value) String() string {
	return v.str
}

// Items returns the list content. Scalars return nil.
func (v Value) Items() []string {
	return v.items
}

// Strings flattens the value: a scalar becomes a one-element slice.
func (v Value) Strings() []string {
	if v.list {
		return append([]string{}, v.items...)
	}
	return []string{v.str}
}

// IsEmpty reports whether a scalar is "" or a list has no items
func (v Value) IsEmpty() bool {
	if v.list {
		return len(v.items) == 0
	}
	return v.str == ""
}

func (v Value) Clone() Value {
	if v.list {
		return List(v.items...)
	}
	return v
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.list {
		if v.items == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.items)
	}
	return json.Marshal(v.str)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case bytes.Equal(trimmed, []byte("null")):
		*v = Value{}
		return nil
	case len(trimmed) > 0 && trimmed[0] == '[':
		var items []string
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return fmt.Errorf("value list must contain strings: %w", err)
		}
		*v = List(items...)
		return nil
	default:
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("value must be a string or a list of strings: %w", err)
		}
		*v = Scalar(s)
		return nil
	}
}
