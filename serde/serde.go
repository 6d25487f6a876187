// Package serde contains generic serialization primitives used to encode
// domain values, such as checkpoint positions, into the opaque payloads
// stored by an Event Store.
package serde

import "fmt"

// Serializer is used to serialize a Source type into another Destination type.
type Serializer[Src any, Dst any] interface {
	Serialize(src Src) (Dst, error)
}

// SerializerFunc is a functional implementation of the Serializer interface.
type SerializerFunc[Src any, Dst any] func(src Src) (Dst, error)

// Serialize implements the serde.Serializer interface.
func (fn SerializerFunc[Src, Dst]) Serialize(src Src) (Dst, error) { return fn(src) }

// Deserializer is used to deserialize a Source type from another Destination type.
type Deserializer[Src any, Dst any] interface {
	Deserialize(dst Dst) (Src, error)
}

// DeserializerFunc is a functional implementation of the Deserializer interface.
type DeserializerFunc[Src any, Dst any] func(dst Dst) (Src, error)

// Deserialize implements the serde.Deserializer interface.
func (fn DeserializerFunc[Src, Dst]) Deserialize(dst Dst) (Src, error) { return fn(dst) }

// Serde is used to serialize and deserialize from a Source to a Destination type.
type Serde[Src any, Dst any] interface {
	Serializer[Src, Dst]
	Deserializer[Src, Dst]
}

// Bytes is a Serde of a Source type to and from the byte payload
// carried by event.Record.
type Bytes[Src any] interface {
	Serde[Src, []byte]
}

// Fused implements Serde using a separate Serializer and Deserializer.
type Fused[Src any, Dst any] struct {
	Serializer[Src, Dst]
	Deserializer[Src, Dst]
}

// Fuse returns a Serde using the specified Serializer and Deserializer.
func Fuse[Src, Dst any](serializer Serializer[Src, Dst], deserializer Deserializer[Src, Dst]) Fused[Src, Dst] {
	return Fused[Src, Dst]{
		Serializer:   serializer,
		Deserializer: deserializer,
	}
}

// Chain returns a Serde from Src to Dst going through an intermediate
// representation: the domain mapping to Mid is done by model, the encoding
// of Mid to Dst by encoding.
//
// Typically, model maps a domain value to a versioned wire document,
// and encoding writes the document as JSON or Protobuf.
func Chain[Src, Mid, Dst any](model Serde[Src, Mid], encoding Serde[Mid, Dst]) Fused[Src, Dst] {
	serializer := SerializerFunc[Src, Dst](func(src Src) (Dst, error) {
		var zeroValue Dst

		mid, err := model.Serialize(src)
		if err != nil {
			return zeroValue, fmt.Errorf("serde.Chain: failed to map value, %w", err)
		}

		dst, err := encoding.Serialize(mid)
		if err != nil {
			return zeroValue, fmt.Errorf("serde.Chain: failed to encode value, %w", err)
		}

		return dst, nil
	})

	deserializer := DeserializerFunc[Src, Dst](func(dst Dst) (Src, error) {
		var zeroValue Src

		mid, err := encoding.Deserialize(dst)
		if err != nil {
			return zeroValue, fmt.Errorf("serde.Chain: failed to decode value, %w", err)
		}

		src, err := model.Deserialize(mid)
		if err != nil {
			return zeroValue, fmt.Errorf("serde.Chain: failed to map value, %w", err)
		}

		return src, nil
	})

	return Fuse[Src, Dst](serializer, deserializer)
}
