package compress

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// flushSuffix is the zlib sync-flush marker: an empty stored deflate
// block. The server appends it after every logical frame.
var flushSuffix = []byte{0x00, 0x00, 0xff, 0xff}

// maxDict is the deflate window size. Sync flush keeps the compressor's
// window alive across frames, so each frame must be inflated with the
// previous output's trailing window as preset dictionary.
const maxDict = 32768

type streamEngine struct {
	opts Options

	in         bytes.Buffer // compressed bytes of the in-progress frame
	fr         io.ReadCloser
	dict       []byte
	headerDone bool
	closed     bool

	stats Stats
}

func newStream(opts Options) *streamEngine {
	return &streamEngine{opts: opts}
}

func (e *streamEngine) Decompress(chunk []byte) ([]byte, error) {
	if e.closed {
		return nil, ErrEngineClosed
	}
	if len(chunk) > e.opts.MaxChunkSize {
		return nil, &DecompressionError{Mode: ModeStream, Err: fmt.Errorf("%w: %d bytes", ErrChunkTooLarge, len(chunk))}
	}

	e.stats.BytesIn += int64(len(chunk))
	e.in.Write(chunk)

	// Frame boundary: the marker terminates the websocket message.
	if len(chunk) < len(flushSuffix) || !bytes.HasSuffix(chunk, flushSuffix) {
		return nil, nil
	}

	data := e.in.Bytes()
	if !e.headerDone {
		if len(data) < 2 {
			return nil, &DecompressionError{Mode: ModeStream, Err: errors.New("short zlib header")}
		}
		if data[0]&0x0f != 8 {
			return nil, &DecompressionError{Mode: ModeStream, Err: fmt.Errorf("bad zlib header 0x%02x%02x", data[0], data[1])}
		}
		data = data[2:]
		e.headerDone = true
	}

	if e.fr == nil {
		e.fr = flate.NewReaderDict(bytes.NewReader(data), nil)
	} else if err := e.fr.(flate.Resetter).Reset(bytes.NewReader(data), e.dict); err != nil {
		return nil, &DecompressionError{Mode: ModeStream, Err: err}
	}

	var out bytes.Buffer
	out.Grow(e.opts.ChunkSize)
	_, err := out.ReadFrom(e.fr)
	// The stream never carries a final deflate block, so the inflater
	// runs out of input right after the flush marker. That is the
	// expected frame terminator, not corruption.
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, &DecompressionError{Mode: ModeStream, Err: err}
	}

	frame := out.Bytes()
	e.dict = appendWindow(e.dict, frame)
	e.stats.BytesOut += int64(len(frame))
	e.stats.Frames++
	e.in.Reset()

	return frame, nil
}

func (e *streamEngine) Stats() Stats { return e.stats }

func (e *streamEngine) Reset() error {
	if e.closed {
		return ErrEngineClosed
	}
	e.in.Reset()
	e.fr = nil
	e.dict = nil
	e.headerDone = false
	e.stats = Stats{}
	return nil
}

func (e *streamEngine) Close() {
	if e.closed {
		return
	}
	e.closed = true
	if e.fr != nil {
		e.fr.Close()
	}
}

// appendWindow keeps the trailing maxDict bytes of decompressed output
// in a buffer owned by the engine.
func appendWindow(dict, out []byte) []byte {
	if len(out) >= maxDict {
		return append(dict[:0], out[len(out)-maxDict:]...)
	}
	dict = append(dict, out...)
	if len(dict) > maxDict {
		dict = append(dict[:0], dict[len(dict)-maxDict:]...)
	}
	return dict
}
