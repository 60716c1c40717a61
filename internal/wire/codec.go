package wire

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Marshal encodes v (one of the typed payload structs in types.go) into its
// binary wire representation.
func Marshal(v any) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal: %w", err)
	}
	return b, nil
}

// Unmarshal decodes b into v, which must be a pointer to one of the typed
// payload structs in types.go.
func Unmarshal(b []byte, v any) error {
	if err := msgpack.Unmarshal(b, v); err != nil {
		return fmt.Errorf("wire: unmarshal: %w", err)
	}
	return nil
}
