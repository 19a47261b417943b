// Package payload defines the gateway wire envelope and the two codec
// strategies used to read and write it.
//
// Every frame on the socket, inbound or outbound, is one envelope:
// an operation code, an op-dependent data payload, and (for dispatches)
// a sequence number and event name. A codec is chosen once per
// connection and never switched mid-connection:
//
//   - JSON: human-readable text encoding
//   - msgpack: compact binary encoding
//
// Decoded envelopes always carry their data as JSON bytes regardless of
// the wire codec, so downstream consumers unmarshal one shape.
package payload
