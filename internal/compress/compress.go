// Package compress implements the per-connection decompression engines
// for the gateway's two transport compression schemes.
//
// Stream mode is one continuous zlib stream for the whole connection:
// the server sync-flushes after every logical frame, so a frame is
// complete exactly when a websocket message ends with the flush marker
// 00 00 FF FF. Block mode carries independent zstd frames that signal
// their own completion.
//
// Engines hold connection-scoped state and are never reused across
// reconnects; a new socket gets a new engine.
package compress

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrChunkTooLarge = errors.New("compressed chunk exceeds maximum size")
	ErrEngineClosed  = errors.New("decompression engine closed")
	ErrUnknownMode   = errors.New("unknown compression mode")
)

// DecompressionError indicates a corrupted or desynchronized stream.
// It is connection-fatal: the owning session must discard the engine
// and reconnect rather than retry the chunk.
type DecompressionError struct {
	Mode Mode
	Err  error
}

func (e *DecompressionError) Error() string {
	return fmt.Sprintf("%s decompression: %v", e.Mode, e.Err)
}

func (e *DecompressionError) Unwrap() error { return e.Err }

// Mode selects a decompression strategy.
type Mode string

const (
	ModeNone   Mode = "none"
	ModeStream Mode = "zlib-stream"
	ModeBlock  Mode = "zstd-stream"
)

// Stats reports cumulative engine accounting.
type Stats struct {
	BytesIn  int64
	BytesOut int64
	Frames   int64
}

// Engine turns compressed byte chunks into decompressed logical frames.
//
// Decompress returns (nil, nil) when the chunk was buffered but no
// frame is complete yet, and the fully reassembled frame once it is.
// Engines are used by a single session goroutine and are not safe for
// concurrent use.
type Engine interface {
	Decompress(chunk []byte) ([]byte, error)
	Stats() Stats
	Reset() error
	Close()
}

// Options configures an engine.
type Options struct {
	// MaxChunkSize bounds one inbound websocket message. Anything
	// larger indicates a desynchronized or malicious stream.
	MaxChunkSize int

	// ChunkSize is the inflate output buffer granularity (stream mode).
	ChunkSize int
}

const (
	defaultMaxChunkSize = 4 << 20 // 4 MiB
	defaultChunkSize    = 32768
)

func (o *Options) applyDefaults() {
	if o.MaxChunkSize == 0 {
		o.MaxChunkSize = defaultMaxChunkSize
	}
	if o.ChunkSize == 0 {
		o.ChunkSize = defaultChunkSize
	}
}

// New returns a fresh engine for the given mode, or nil for ModeNone.
func New(mode Mode, opts Options) (Engine, error) {
	opts.applyDefaults()
	switch mode {
	case ModeNone, "":
		return nil, nil
	case ModeStream:
		return newStream(opts), nil
	case ModeBlock:
		return newBlock(opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}
