package payload

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Errors
var (
	ErrInvalidEnvelope = errors.New("invalid envelope shape")
	ErrUnknownEncoding = errors.New("unknown payload encoding")
)

// CodecError wraps a per-frame decode or encode failure. A codec error
// is local to the offending frame; the connection stays open.
type CodecError struct {
	Codec string
	Err   error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("%s codec: %v", e.Codec, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }

// Envelope is one decoded inbound gateway frame. Data is always JSON
// bytes, regardless of the wire encoding the frame arrived in.
type Envelope struct {
	Op    Opcode          `json:"op"`
	Data  json.RawMessage `json:"d"`
	Seq   *int64          `json:"s"`
	Event string          `json:"t"`
}

// Command is one outbound gateway frame.
type Command struct {
	Op   Opcode `json:"op" codec:"op"`
	Data any    `json:"d" codec:"d"`
}

// Codec converts between wire bytes and envelopes. Implementations are
// stateless and safe for concurrent use; a connection still picks one
// codec at setup time and keeps it for its whole lifetime.
type Codec interface {
	// Encode serializes an outbound command.
	Encode(cmd *Command) ([]byte, error)

	// Decode parses one inbound frame into an envelope. Failures are
	// returned as *CodecError and affect only this frame.
	Decode(data []byte) (*Envelope, error)

	// Name returns the encoding name used in the connect query string.
	Name() string

	// Binary reports whether frames are sent as binary websocket messages.
	Binary() bool
}

// Encoding selects a codec strategy.
type Encoding string

const (
	EncodingJSON    Encoding = "json"
	EncodingMsgpack Encoding = "msgpack"
)

// NewCodec returns the codec for the given encoding.
func NewCodec(enc Encoding) (Codec, error) {
	switch enc {
	case EncodingJSON, "":
		return &jsonCodec{}, nil
	case EncodingMsgpack:
		return &msgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, enc)
	}
}
