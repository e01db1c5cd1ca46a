package transport

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/batterylab/ctigo/internal/cti"
)

// recordingReader records the size of every Read request.
type recordingReader struct {
	r     io.Reader
	sizes []int
}

func (r *recordingReader) Read(p []byte) (int, error) {
	r.sizes = append(r.sizes, len(p))

	return r.r.Read(p)
}

func mustEncode(t *testing.T, cmd cti.Command, v cti.Values) []byte {
	t.Helper()

	frame, err := cti.Encode(cmd, v)
	if err != nil {
		t.Fatalf("encode %s: %v", cmd, err)
	}

	return frame
}

func TestReadFrameStopsAtFrameEnd(t *testing.T) {
	first := mustEncode(t, cti.CmdStopSchedule, cti.StopScheduleRequest(1))
	second := mustEncode(t, cti.CmdChannelInfo, cti.ChannelInfoRequest(2))
	buf := bytes.NewBuffer(append(append([]byte(nil), first...), second...))

	got, err := ReadFrame(buf, 4096, DefaultMaxFrameSize)
	if err != nil {
		t.Fatalf("read first frame: %v", err)
	}
	if !bytes.Equal(got, first) {
		t.Fatalf("first frame mismatch")
	}

	got, err = ReadFrame(buf, 4096, DefaultMaxFrameSize)
	if err != nil {
		t.Fatalf("read second frame: %v", err)
	}
	if !bytes.Equal(got, second) {
		t.Fatalf("second frame mismatch")
	}
}

func TestReadFrameRespectsChunkSize(t *testing.T) {
	frame := mustEncode(t, cti.CmdLoginFeedback, cti.LoginFeedback{Result: cti.LoginSuccess, NumChannels: 4}.Values())
	rec := &recordingReader{r: bytes.NewReader(frame)}

	got, err := ReadFrame(rec, 1024, DefaultMaxFrameSize)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if !bytes.Equal(got, frame) {
		t.Fatalf("frame mismatch")
	}
	for i, n := range rec.sizes {
		if n > 1024 {
			t.Fatalf("read %d asked for %d bytes, expected at most 1024", i, n)
		}
	}
}

func TestReadFrameOverflow(t *testing.T) {
	frame := mustEncode(t, cti.CmdLoginFeedback, cti.LoginFeedback{Result: cti.LoginSuccess}.Values())

	_, err := ReadFrame(bytes.NewReader(frame), 4096, 4096)
	var overflow *BufferOverflowError
	if !errors.As(err, &overflow) {
		t.Fatalf("expected BufferOverflowError, got %v", err)
	}
	if overflow.Declared != len(frame) {
		t.Fatalf("expected declared %d, got %d", len(frame), overflow.Declared)
	}
}

func TestReadFrameBadMagic(t *testing.T) {
	frame := mustEncode(t, cti.CmdStopSchedule, cti.StopScheduleRequest(1))
	frame[3] = 0

	_, err := ReadFrame(bytes.NewReader(frame), 4096, DefaultMaxFrameSize)
	var framingErr *cti.FramingError
	if !errors.As(err, &framingErr) {
		t.Fatalf("expected FramingError, got %v", err)
	}
}

func TestReadFramePeerClosedMidFrame(t *testing.T) {
	frame := mustEncode(t, cti.CmdStopSchedule, cti.StopScheduleRequest(1))

	_, err := ReadFrame(bytes.NewReader(frame[:50]), 4096, DefaultMaxFrameSize)
	var closed *ConnectionClosedError
	if !errors.As(err, &closed) {
		t.Fatalf("expected ConnectionClosedError, got %v", err)
	}
	if closed.Received != 50 {
		t.Fatalf("expected 50 bytes received, got %d", closed.Received)
	}
}

func TestReadFrameEmptyStream(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(nil), 4096, DefaultMaxFrameSize)
	var closed *ConnectionClosedError
	if !errors.As(err, &closed) {
		t.Fatalf("expected ConnectionClosedError, got %v", err)
	}
}
