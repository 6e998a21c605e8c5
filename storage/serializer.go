package storage

import (
	"encoding/json"
	"errors"

	"github.com/huykn/sdn-path-cache/types"
)

// Serializer defines the interface for path serialization.
type Serializer interface {
	Marshal(p types.Path) ([]byte, error)
	Unmarshal(data []byte) (types.Path, error)
}

// JSONSerializer stores a path as a JSON array of {"nodeId","portId"}
// records.
type JSONSerializer struct{}

// Marshal serializes a path to JSON.
func (js *JSONSerializer) Marshal(p types.Path) ([]byte, error) {
	if p == nil {
		p = types.Path{}
	}
	return json.Marshal(p)
}

// Unmarshal deserializes a path from JSON. Empty input and anything that is
// not a JSON array of node ports is rejected.
func (js *JSONSerializer) Unmarshal(data []byte) (types.Path, error) {
	if len(data) == 0 {
		return nil, ErrEmptyValue
	}
	var p types.Path
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrEmptyValue
	}
	return p, nil
}

// NewJSONSerializer creates a new JSON serializer.
func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{}
}

// GetSerializer returns a serializer for the given format.
func GetSerializer(format string) (Serializer, error) {
	switch format {
	case "json":
		return NewJSONSerializer(), nil
	default:
		return nil, errors.New("unsupported serialization format: " + format)
	}
}

// ErrEmptyValue is returned when a stored value carries no path.
var ErrEmptyValue = errors.New("empty path value")
