// Package patch models per-field optional updates for mutation events.
//
// A Field distinguishes three states in a JSON payload:
//
//	absent          -> Set == false, the stored value is kept
//	"key": null     -> Set == true, Null == true, the stored value is cleared
//	"key": <value>  -> Set == true, Value holds the new value
//
// Use with the omitzero tag so absent fields are not re-emitted.
package patch

import (
	"bytes"
	"encoding/json"
)

type Field[T any] struct {
	Set   bool
	Null  bool
	Value T
}

// Of returns a field that sets v.
func Of[T any](v T) Field[T] {
	return Field[T]{Set: true, Value: v}
}

// Clear returns a field that sets the stored value to null.
func Clear[T any]() Field[T] {
	return Field[T]{Set: true, Null: true}
}

func (f Field[T]) IsZero() bool { return !f.Set }

func (f Field[T]) MarshalJSON() ([]byte, error) {
	if !f.Set || f.Null {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

func (f *Field[T]) UnmarshalJSON(data []byte) error {
	f.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		f.Null = true
		var zero T
		f.Value = zero
		return nil
	}
	f.Null = false
	return json.Unmarshal(data, &f.Value)
}

// Apply writes the field onto dst when it is set. A null clears dst to T's zero value.
func (f Field[T]) Apply(dst *T) {
	if !f.Set {
		return
	}
	if f.Null {
		var zero T
		*dst = zero
		return
	}
	*dst = f.Value
}

// ApplyPtr writes the field onto a nullable destination.
func (f Field[T]) ApplyPtr(dst **T) {
	if !f.Set {
		return
	}
	if f.Null {
		*dst = nil
		return
	}
	v := f.Value
	*dst = &v
}
