// Package codec provides the wire serialization used by every message that
// crosses the broker: catalog tokens, catalog queries, and stream chunks.
package codec

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// CodecError wraps a failure to encode or decode a wire value, recording
// which operation failed. Its message includes the underlying msgpack error
// text, and Unwrap returns that error.
type CodecError struct {
	Op  string
	Err error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("codec: %s: %v", e.Op, e.Err)
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

// Encode serializes v into its wire representation.
func Encode(v interface{}) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, &CodecError{Op: "encode", Err: err}
	}
	return data, nil
}

// Decode deserializes data into v. Unknown fields in data are ignored; fields
// of v not present in data keep their zero value.
func Decode(data []byte, v interface{}) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return &CodecError{Op: "decode", Err: err}
	}
	return nil
}
