package capture

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/eleven-am/live-captions/internal/audio"
)

const (
	EncodingPCM16 = "pcm16"
	EncodingWAV   = "wav"
)

// Encoder turns one chunk of mono samples into the opaque blob sent to
// the server.
type Encoder interface {
	Encode(samples []int16, sampleRate int) []byte
	Name() string
}

func NewEncoder(name string) (Encoder, error) {
	switch name {
	case "", EncodingPCM16:
		return PCM16Encoder{}, nil
	case EncodingWAV:
		return WAVEncoder{}, nil
	default:
		return nil, fmt.Errorf("unknown encoding %q", name)
	}
}

// PCM16Encoder emits raw linear16 little-endian samples.
type PCM16Encoder struct{}

func (PCM16Encoder) Encode(samples []int16, _ int) []byte {
	return audio.EncodePCM16(samples)
}

func (PCM16Encoder) Name() string { return EncodingPCM16 }

// WAVEncoder prefixes every chunk with a RIFF header so each one can be
// decoded on its own.
type WAVEncoder struct{}

const wavHeaderSize = 44

func (WAVEncoder) Encode(samples []int16, sampleRate int) []byte {
	dataSize := uint32(len(samples) * 2)

	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + int(dataSize))

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, 36+dataSize)
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataSize)
	buf.Write(audio.EncodePCM16(samples))

	return buf.Bytes()
}

func (WAVEncoder) Name() string { return EncodingWAV }
