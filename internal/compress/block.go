package compress

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

type blockEngine struct {
	opts Options

	dec    *zstd.Decoder
	in     bytes.Buffer // bytes of the in-progress frame
	closed bool

	stats Stats
}

func newBlock(opts Options) (*blockEngine, error) {
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(64<<20),
	)
	if err != nil {
		return nil, &DecompressionError{Mode: ModeBlock, Err: err}
	}
	return &blockEngine{opts: opts, dec: dec}, nil
}

func (e *blockEngine) Decompress(chunk []byte) ([]byte, error) {
	if e.closed {
		return nil, ErrEngineClosed
	}
	if len(chunk) > e.opts.MaxChunkSize {
		return nil, &DecompressionError{Mode: ModeBlock, Err: fmt.Errorf("%w: %d bytes", ErrChunkTooLarge, len(chunk))}
	}

	e.stats.BytesIn += int64(len(chunk))
	e.in.Write(chunk)

	// Unlike the zlib stream there is no boundary marker: the frame
	// itself says when it is complete. Decode what we have; a truncated
	// frame just means more chunks are coming.
	out, err := e.dec.DecodeAll(e.in.Bytes(), nil)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, &DecompressionError{Mode: ModeBlock, Err: err}
	}

	e.stats.BytesOut += int64(len(out))
	e.stats.Frames++
	e.in.Reset()

	return out, nil
}

func (e *blockEngine) Stats() Stats { return e.stats }

func (e *blockEngine) Reset() error {
	if e.closed {
		return ErrEngineClosed
	}
	e.in.Reset()
	e.stats = Stats{}
	return nil
}

func (e *blockEngine) Close() {
	if e.closed {
		return
	}
	e.closed = true
	e.dec.Close()
}
