package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eleven-am/live-captions/internal/audio"
	"github.com/eleven-am/live-captions/internal/connection"
	"github.com/eleven-am/live-captions/internal/shared"
	"golang.org/x/time/rate"
)

const (
	DefaultChunkDuration = 2 * time.Second

	readFrames       = 1024
	frameQueueSize   = 32
	dropWarnInterval = 10 * time.Second
)

// Transport is the part of connection.Manager the pipeline drives.
type Transport interface {
	Open(url string)
	Send(f connection.Frame) error
	State() connection.State
	Close() error
}

type Config struct {
	URL           string
	ChunkDuration time.Duration
	Constraints   Constraints
	Encoder       Encoder
	// BufferChunks keeps up to this many of the newest chunks while the
	// transport is down and flushes them after it reopens. Zero drops.
	BufferChunks int
}

type Pipeline struct {
	provider  Provider
	transport Transport
	cfg       Config
	log       *slog.Logger

	mu      sync.Mutex
	running bool
	device  Device
	stream  Stream
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	sendMu  sync.Mutex
	halted  bool
	pending [][]byte
	warn    *rate.Limiter

	sent    atomic.Int64
	dropped atomic.Int64
}

func NewPipeline(provider Provider, transport Transport, cfg Config, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ChunkDuration <= 0 {
		cfg.ChunkDuration = DefaultChunkDuration
	}
	if cfg.Constraints.SampleRate <= 0 {
		cfg.Constraints = DefaultConstraints()
	}
	if cfg.Encoder == nil {
		cfg.Encoder = PCM16Encoder{}
	}
	if cfg.BufferChunks < 0 {
		cfg.BufferChunks = 0
	}
	return &Pipeline{
		provider:  provider,
		transport: transport,
		cfg:       cfg,
		log:       log.With("component", "capture"),
		warn:      rate.NewLimiter(rate.Every(dropWarnInterval), 1),
	}
}

// Start acquires the device, opens the transport and begins chunking.
// ctx bounds device acquisition only; the pipeline runs until Stop.
// Starting a running pipeline is a no-op.
func (p *Pipeline) Start(ctx context.Context, deviceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	devices, err := p.provider.Devices(ctx)
	if err != nil {
		if errors.Is(err, shared.ErrCaptureUnavailable) {
			return err
		}
		return fmt.Errorf("%w: list devices: %v", shared.ErrCaptureUnavailable, err)
	}
	device, ok := pickDevice(devices, deviceID)
	if !ok {
		if len(devices) == 0 {
			return fmt.Errorf("%w: no microphones found", shared.ErrNoDevice)
		}
		return fmt.Errorf("%w: %s", shared.ErrNoDevice, deviceID)
	}

	stream, err := p.provider.Acquire(ctx, device.ID, p.cfg.Constraints)
	if err != nil {
		if errors.Is(err, shared.ErrNoDevice) || errors.Is(err, shared.ErrCaptureUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", shared.ErrCaptureUnavailable, err)
	}

	p.sendMu.Lock()
	p.halted = false
	p.pending = nil
	p.sendMu.Unlock()

	p.transport.Open(p.cfg.URL)

	runCtx, cancel := context.WithCancel(context.Background())
	p.running = true
	p.device = device
	p.stream = stream
	p.cancel = cancel

	format := stream.Format()
	conv := audio.NewConverter(format, p.cfg.Constraints.SampleRate)
	frames := make(chan []int16, frameQueueSize)

	p.wg.Add(1)
	go p.readLoop(runCtx, stream, frames)
	go p.chunkLoop(runCtx, frames, conv)

	p.log.Info("capture started",
		"device", device.ID,
		"input_rate", format.SampleRate,
		"input_channels", format.Channels,
		"chunk", p.cfg.ChunkDuration,
		"encoding", p.cfg.Encoder.Name())
	return nil
}

// Stop halts chunk production, releases the device and closes the
// transport. No chunk is sent once Stop returns. Safe to call repeatedly
// and on a pipeline that never started.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}
	p.running = false

	p.cancel()

	p.sendMu.Lock()
	p.halted = true
	p.pending = nil
	p.sendMu.Unlock()

	if err := p.stream.Close(); err != nil {
		p.log.Warn("closing capture stream", "error", err)
	}
	p.wg.Wait()
	p.stream = nil

	p.log.Info("capture stopped", "sent", p.sent.Load(), "dropped", p.dropped.Load())
	return p.transport.Close()
}

func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Pipeline) Device() Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.device
}

func (p *Pipeline) Sent() int64    { return p.sent.Load() }
func (p *Pipeline) Dropped() int64 { return p.dropped.Load() }

// readLoop is not waited for by Stop: a Read on a blocking descriptor
// such as stdin may outlive Close. It exits on its next return.
func (p *Pipeline) readLoop(ctx context.Context, stream Stream, frames chan<- []int16) {
	defer close(frames)

	channels := max(stream.Format().Channels, 1)
	buf := make([]int16, readFrames*channels)

	for {
		n, err := stream.Read(buf)
		if n > 0 {
			samples := make([]int16, n)
			copy(samples, buf[:n])
			select {
			case frames <- samples:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				p.log.Error("capture read failed", "error", err)
			}
			return
		}
	}
}

func (p *Pipeline) chunkLoop(ctx context.Context, frames <-chan []int16, conv *audio.Converter) {
	defer p.wg.Done()

	sampleRate := conv.To.SampleRate
	size := audio.SamplesFor(sampleRate, int(p.cfg.ChunkDuration/time.Millisecond))
	acc := make([]int16, 0, size)

	for {
		select {
		case <-ctx.Done():
			return
		case samples, ok := <-frames:
			if !ok {
				if ctx.Err() == nil && len(acc) > 0 {
					p.emit(acc, sampleRate)
				}
				return
			}
			acc = append(acc, conv.Convert(samples)...)
			for len(acc) >= size {
				chunk := make([]int16, size)
				copy(chunk, acc[:size])
				acc = append(acc[:0], acc[size:]...)
				p.emit(chunk, sampleRate)
			}
		}
	}
}

func (p *Pipeline) emit(samples []int16, sampleRate int) {
	if len(samples) == 0 {
		return
	}
	data := p.cfg.Encoder.Encode(samples, sampleRate)

	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	if p.halted {
		return
	}

	if p.transport.State() != connection.StateOpen {
		p.holdLocked(data)
		return
	}

	for len(p.pending) > 0 {
		if err := p.transport.Send(connection.BinaryFrame(p.pending[0])); err != nil {
			p.holdLocked(data)
			return
		}
		p.pending = p.pending[1:]
		p.sent.Add(1)
	}

	if err := p.transport.Send(connection.BinaryFrame(data)); err != nil {
		p.log.Debug("chunk send failed", "error", err)
		p.holdLocked(data)
		return
	}
	p.sent.Add(1)
}

func (p *Pipeline) holdLocked(data []byte) {
	if p.cfg.BufferChunks <= 0 {
		p.dropLocked(1)
		return
	}
	p.pending = append(p.pending, data)
	if over := len(p.pending) - p.cfg.BufferChunks; over > 0 {
		p.pending = p.pending[over:]
		p.dropLocked(over)
	}
}

func (p *Pipeline) dropLocked(n int) {
	total := p.dropped.Add(int64(n))
	if p.warn.Allow() {
		p.log.Warn("transport not open, dropping audio", "dropped_total", total)
	}
}
