package payload

import (
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-msgpack/v2/codec"
)

// msgpackCodec is the binary strategy. All object keys are strings and
// booleans/numbers are encoded natively. Decoded payload data is
// re-serialized to JSON so both codecs hand the same shape upward.
type msgpackCodec struct{}

func (c *msgpackCodec) Name() string { return "msgpack" }

func (c *msgpackCodec) Binary() bool { return true }

func (c *msgpackCodec) handle() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{WriteExt: true}
	h.RawToString = true
	return h
}

func (c *msgpackCodec) Encode(cmd *Command) ([]byte, error) {
	var out []byte
	if err := codec.NewEncoderBytes(&out, c.handle()).Encode(cmd); err != nil {
		return nil, &CodecError{Codec: c.Name(), Err: err}
	}
	return out, nil
}

// msgpackEnvelope mirrors jsonEnvelope for the binary wire shape.
type msgpackEnvelope struct {
	Op    *int    `codec:"op"`
	Data  any     `codec:"d"`
	Seq   *int64  `codec:"s"`
	Event *string `codec:"t"`
}

func (c *msgpackCodec) Decode(data []byte) (*Envelope, error) {
	var wire msgpackEnvelope
	if err := codec.NewDecoderBytes(data, c.handle()).Decode(&wire); err != nil {
		return nil, &CodecError{Codec: c.Name(), Err: err}
	}
	if wire.Op == nil {
		return nil, &CodecError{Codec: c.Name(), Err: fmt.Errorf("%w: missing op", ErrInvalidEnvelope)}
	}

	env := &Envelope{
		Op:  Opcode(*wire.Op),
		Seq: wire.Seq,
	}
	if wire.Event != nil {
		env.Event = *wire.Event
	}
	if wire.Data != nil {
		raw, err := json.Marshal(wire.Data)
		if err != nil {
			return nil, &CodecError{Codec: c.Name(), Err: err}
		}
		env.Data = raw
	}
	return env, nil
}
