package payload

import (
	"encoding/json"
	"fmt"
)

// jsonCodec is the text strategy. Inbound data stays raw JSON so
// snowflake ids larger than float53 never lose precision; outbound
// payloads carry ids as decimal strings for the same reason.
type jsonCodec struct{}

func (c *jsonCodec) Name() string { return "json" }

func (c *jsonCodec) Binary() bool { return false }

func (c *jsonCodec) Encode(cmd *Command) ([]byte, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, &CodecError{Codec: c.Name(), Err: err}
	}
	return data, nil
}

// jsonEnvelope is the raw wire shape. Op is a pointer so a missing op
// field is distinguishable from a genuine op:0 dispatch.
type jsonEnvelope struct {
	Op    *int            `json:"op"`
	Data  json.RawMessage `json:"d"`
	Seq   *int64          `json:"s"`
	Event *string         `json:"t"`
}

func (c *jsonCodec) Decode(data []byte) (*Envelope, error) {
	var wire jsonEnvelope
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, &CodecError{Codec: c.Name(), Err: err}
	}
	if wire.Op == nil {
		return nil, &CodecError{Codec: c.Name(), Err: fmt.Errorf("%w: missing op", ErrInvalidEnvelope)}
	}

	env := &Envelope{
		Op:   Opcode(*wire.Op),
		Data: wire.Data,
		Seq:  wire.Seq,
	}
	if wire.Event != nil {
		env.Event = *wire.Event
	}
	return env, nil
}
