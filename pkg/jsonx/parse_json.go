package jsonx

import (
	"encoding/json"
	"io"
)

// ParseJSONObject decodes one JSON value from src into dst, rejecting
// unknown object fields. Malformed input surfaces encoding/json's own
// error types (*json.SyntaxError, *json.UnmarshalTypeError, io.EOF).
func ParseJSONObject[T any](src io.Reader, dst *T) error {
	dec := json.NewDecoder(src)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
