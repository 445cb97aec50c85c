package jsonx

import (
	"bytes"
	"encoding/json"
)

// Field is a tri-state JSON field: absent, explicit null, or a value.
// Request DTOs use it where "not sent" and "sent as null" mean
// different things.
type Field[T any] struct {
	set  bool
	null bool
	val  T
}

func (o Field[T]) IsSet() bool      { return o.set }
func (o Field[T]) IsNull() bool     { return o.set && o.null }
func (o Field[T]) Value() (T, bool) { return o.val, o.set && !o.null }

func (o *Field[T]) UnmarshalJSON(b []byte) error {
	if string(bytes.TrimSpace(b)) == "null" {
		o.set, o.null = true, true
		var zero T
		o.val = zero
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	o.set, o.null, o.val = true, false, v
	return nil
}
