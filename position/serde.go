package position

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/get-eventually/go-checkpoint/serde"
)

// SchemaVersion is the version marker written together with every
// serialized Position.
const SchemaVersion = 1

const (
	versionField = "version"
	commitField  = "commit_position"
	prepareField = "prepare_position"
)

// JSON is the JSON document written as checkpoint payload.
//
// Documents with no version marker are read as version 1.
type JSON struct {
	Version uint32 `json:"version,omitempty"`
	Commit  uint64 `json:"commit_position"`
	Prepare uint64 `json:"prepare_position"`
}

func toJSON(p Position) (*JSON, error) {
	return &JSON{Version: SchemaVersion, Commit: p.Commit, Prepare: p.Prepare}, nil
}

func fromJSON(doc *JSON) (Position, error) {
	if doc.Version != 0 && doc.Version != SchemaVersion {
		return Start, fmt.Errorf("position.JSONSerde: unsupported schema version %d", doc.Version)
	}

	return Position{Commit: doc.Commit, Prepare: doc.Prepare}, nil
}

// JSONSerde is the default serde.Bytes implementation for Position values.
var JSONSerde serde.Bytes[Position] = serde.Chain[Position, *JSON, []byte](
	serde.Fuse[Position, *JSON](
		serde.SerializerFunc[Position, *JSON](toJSON),
		serde.DeserializerFunc[Position, *JSON](fromJSON),
	),
	serde.NewJSON(func() *JSON { return new(JSON) }),
)

func toStruct(p Position) (*structpb.Struct, error) {
	// Offsets are carried as strings, since protobuf Struct numbers are float64
	// and would lose precision past 2^53.
	s, err := structpb.NewStruct(map[string]any{
		versionField: SchemaVersion,
		commitField:  fmt.Sprint(p.Commit),
		prepareField: fmt.Sprint(p.Prepare),
	})
	if err != nil {
		return nil, fmt.Errorf("position.ProtoSerde: failed to build struct, %w", err)
	}

	return s, nil
}

func fromStruct(s *structpb.Struct) (Position, error) {
	fields := s.GetFields()

	if v, ok := fields[versionField]; ok && v.GetNumberValue() != SchemaVersion {
		return Start, fmt.Errorf("position.ProtoSerde: unsupported schema version %v", v.GetNumberValue())
	}

	var p Position

	if _, err := fmt.Sscan(fields[commitField].GetStringValue(), &p.Commit); err != nil {
		return Start, fmt.Errorf("position.ProtoSerde: invalid commit position, %w", err)
	}

	if _, err := fmt.Sscan(fields[prepareField].GetStringValue(), &p.Prepare); err != nil {
		return Start, fmt.Errorf("position.ProtoSerde: invalid prepare position, %w", err)
	}

	return p, nil
}

// ProtoSerde is a serde.Bytes implementation encoding Position values
// as a binary google.protobuf.Struct message.
var ProtoSerde serde.Bytes[Position] = serde.Chain[Position, *structpb.Struct, []byte](
	serde.Fuse[Position, *structpb.Struct](
		serde.SerializerFunc[Position, *structpb.Struct](toStruct),
		serde.DeserializerFunc[Position, *structpb.Struct](fromStruct),
	),
	serde.NewProto(func() *structpb.Struct { return new(structpb.Struct) }),
)
