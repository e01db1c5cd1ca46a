package transport

import (
	"errors"
	"fmt"
	"io"

	"github.com/batterylab/ctigo/internal/cti"
)

// ReadFrame reads exactly one frame from r. It reads at most chunk bytes per
// call and never past the declared end of the frame, so bytes belonging to a
// following frame stay in r. Frames declaring more than limit bytes fail with
// BufferOverflowError before their body is read.
func ReadFrame(r io.Reader, chunk, limit int) ([]byte, error) {
	if chunk <= 0 {
		chunk = DefaultMsgBufferSize
	}
	if limit <= 0 {
		limit = DefaultMaxFrameSize
	}

	prefix := make([]byte, cti.PrefixSize)
	if err := readChunked(r, prefix, chunk, 0); err != nil {
		return nil, err
	}

	total, err := cti.DeclaredFrameLength(prefix)
	if err != nil {
		return nil, err
	}
	if total > limit {
		return nil, &BufferOverflowError{Declared: total, Limit: limit}
	}

	frame := make([]byte, total)
	copy(frame, prefix)
	if err := readChunked(r, frame[cti.PrefixSize:], chunk, cti.PrefixSize); err != nil {
		return nil, err
	}

	return frame, nil
}

func readChunked(r io.Reader, buf []byte, chunk, already int) error {
	filled := 0
	for filled < len(buf) {
		end := min(filled+chunk, len(buf))
		n, err := r.Read(buf[filled:end])
		filled += n
		if err == nil {
			continue
		}
		if filled == len(buf) {
			return nil
		}
		if errors.Is(err, io.EOF) {
			return &ConnectionClosedError{Received: already + filled}
		}

		return fmt.Errorf("read frame: %w", err)
	}

	return nil
}
