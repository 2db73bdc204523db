package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/eleven-am/live-captions/internal/audio"
	"github.com/eleven-am/live-captions/internal/shared"
)

const (
	StdinDeviceID = "stdin"

	defaultInputRate = 48000
)

// FileProvider exposes raw PCM16LE from a file or standard input as a
// single capture device, so `arecord -f S16_LE` or `ffmpeg -f s16le`
// can be piped in.
type FileProvider struct {
	// Path of the input. Empty or "-" reads Stdin.
	Path   string
	Format audio.Format
	Stdin  io.Reader
	// Realtime paces reads to the input sample rate, for pre-recorded files.
	Realtime bool
	Clock    clock.Clock
}

func (p *FileProvider) useStdin() bool {
	return p.Path == "" || p.Path == "-"
}

func (p *FileProvider) deviceID() string {
	if p.useStdin() {
		return StdinDeviceID
	}
	return p.Path
}

func (p *FileProvider) Devices(_ context.Context) ([]Device, error) {
	if p.useStdin() {
		return []Device{{ID: StdinDeviceID, Label: "standard input", Default: true}}, nil
	}
	if _, err := os.Stat(p.Path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", shared.ErrCaptureUnavailable, err)
	}
	return []Device{{ID: p.Path, Label: filepath.Base(p.Path), Default: true}}, nil
}

func (p *FileProvider) Acquire(_ context.Context, deviceID string, _ Constraints) (Stream, error) {
	if deviceID != "" && deviceID != p.deviceID() {
		return nil, fmt.Errorf("%w: %s", shared.ErrNoDevice, deviceID)
	}

	format := p.Format
	if format.SampleRate <= 0 {
		format.SampleRate = defaultInputRate
	}
	if format.Channels <= 0 {
		format.Channels = 1
	}

	var rc io.ReadCloser
	if p.useStdin() {
		switch in := p.Stdin.(type) {
		case nil:
			rc = os.Stdin
		case io.ReadCloser:
			rc = in
		default:
			rc = io.NopCloser(in)
		}
	} else {
		f, err := os.Open(p.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", shared.ErrCaptureUnavailable, err)
		}
		rc = f
	}

	s := NewReaderStream(rc, format)
	if p.Realtime {
		clk := p.Clock
		if clk == nil {
			clk = clock.New()
		}
		s.pace(clk)
	}
	return s, nil
}

// ReaderStream decodes PCM16LE from any reader.
type ReaderStream struct {
	rc     io.ReadCloser
	r      *bufio.Reader
	format audio.Format
	raw    []byte
	carry  []byte

	clock   clock.Clock
	started time.Time
	frames  int64
}

func NewReaderStream(rc io.ReadCloser, format audio.Format) *ReaderStream {
	if format.Channels <= 0 {
		format.Channels = 1
	}
	return &ReaderStream{
		rc:     rc,
		r:      bufio.NewReaderSize(rc, 32*1024),
		format: format,
	}
}

func (s *ReaderStream) pace(clk clock.Clock) {
	s.clock = clk
	s.started = clk.Now()
}

func (s *ReaderStream) Format() audio.Format {
	return s.format
}

func (s *ReaderStream) Read(buf []int16) (int, error) {
	frame := 2 * s.format.Channels
	size := (len(buf) / s.format.Channels) * frame
	if size == 0 {
		return 0, io.ErrShortBuffer
	}
	if cap(s.raw) < size {
		s.raw = make([]byte, size)
	}
	raw := s.raw[:size]

	have := copy(raw, s.carry)
	s.carry = s.carry[:0]

	n, err := io.ReadAtLeast(s.r, raw[have:], max(frame-have, 1))
	n += have
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}

	whole := n - n%frame
	s.carry = append(s.carry, raw[whole:n]...)

	samples := audio.DecodePCM16(raw[:whole])
	copy(buf, samples)

	if s.clock != nil && whole > 0 {
		s.frames += int64(whole / frame)
		ahead := time.Duration(s.frames)*time.Second/time.Duration(s.format.SampleRate) - s.clock.Since(s.started)
		if ahead > 0 {
			s.clock.Sleep(ahead)
		}
	}

	return len(samples), err
}

func (s *ReaderStream) Close() error {
	return s.rc.Close()
}
