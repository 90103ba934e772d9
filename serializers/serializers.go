// Package serializers holds the pluggable payload codecs used by the
// safe I/O façade. A serializer turns application values into bytes on
// send and back into values on receive; the socket manager never looks
// inside a payload.
package serializers

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Serializer packs and unpacks application payloads. Both bundled
// backends round-trip any JSON-representable structure: numbers,
// strings, booleans, nulls, lists and string-keyed maps.
type Serializer interface {
	Pack(value any) ([]byte, error)
	Unpack(data []byte) (any, error)

	// ContentType names the wire format, for logging and debugging.
	ContentType() string
}

// JSON serializes payloads as UTF-8 JSON text.
type JSON struct{}

func (JSON) Pack(value any) ([]byte, error) {
	return json.Marshal(value)
}

func (JSON) Unpack(data []byte) (any, error) {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, err
	}
	return value, nil
}

func (JSON) ContentType() string { return "application/json" }

// Msgpack serializes payloads as MessagePack, a compact binary map
// encoding interoperable with the msgpack libraries of other runtimes.
type Msgpack struct{}

func (Msgpack) Pack(value any) ([]byte, error) {
	return msgpack.Marshal(value)
}

func (Msgpack) Unpack(data []byte) (any, error) {
	var value any
	if err := msgpack.Unmarshal(data, &value); err != nil {
		return nil, err
	}
	return value, nil
}

func (Msgpack) ContentType() string { return "application/msgpack" }
