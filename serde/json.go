package serde

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrEmptyData is returned when deserializing an empty payload.
var ErrEmptyData = errors.New("serde: no data to deserialize")

// JSON is a Serde of T to and from a JSON document.
//
// Use NewJSON or NewStrictJSON to create a new instance.
type JSON[T any] struct {
	factory func() T
	strict  bool
}

// NewJSON returns a JSON serde for T. Unknown fields of the document
// are ignored on deserialization.
//
// A data factory function is required for creating new instances of the type
// (especially if pointer semantics is used).
func NewJSON[T any](factory func() T) JSON[T] {
	return JSON[T]{factory: factory}
}

// NewStrictJSON returns a JSON serde for T that refuses documents
// with fields unknown to T.
func NewStrictJSON[T any](factory func() T) JSON[T] {
	return JSON[T]{factory: factory, strict: true}
}

// Serialize implements the serde.Serializer interface.
func (s JSON[T]) Serialize(t T) ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("serde.JSON: failed to serialize data, %w", err)
	}

	return data, nil
}

// Deserialize implements the serde.Deserializer interface.
//
// The payload must hold exactly one JSON document.
func (s JSON[T]) Deserialize(data []byte) (T, error) {
	var zeroValue T

	if len(bytes.TrimSpace(data)) == 0 {
		return zeroValue, fmt.Errorf("serde.JSON: %w", ErrEmptyData)
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	if s.strict {
		decoder.DisallowUnknownFields()
	}

	model := s.factory()
	if err := decoder.Decode(&model); err != nil {
		return zeroValue, fmt.Errorf("serde.JSON: failed to deserialize data, %w", err)
	}

	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return zeroValue, errors.New("serde.JSON: unexpected data after the JSON document")
	}

	return model, nil
}
