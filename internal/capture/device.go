// Package capture records audio from an input device and ships it to the
// caption server as fixed-duration binary chunks.
package capture

import (
	"context"

	"github.com/eleven-am/live-captions/internal/audio"
)

type Device struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Default bool   `json:"default"`
}

// Constraints are the processing settings requested from a device.
// Providers that cannot honour the processing flags still deliver audio.
type Constraints struct {
	Channels         int
	SampleRate       int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

func DefaultConstraints() Constraints {
	return Constraints{
		Channels:         1,
		SampleRate:       audio.TargetSampleRate,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// Stream is an acquired device. Read fills buf with interleaved samples
// and only ever returns whole frames. Close releases the device; it may
// not interrupt a Read already blocked on the underlying descriptor.
type Stream interface {
	Format() audio.Format
	Read(buf []int16) (int, error)
	Close() error
}

type Provider interface {
	Devices(ctx context.Context) ([]Device, error)
	// Acquire opens the device with the given id; an empty id selects
	// the default device.
	Acquire(ctx context.Context, deviceID string, c Constraints) (Stream, error)
}

func pickDevice(devices []Device, id string) (Device, bool) {
	if len(devices) == 0 {
		return Device{}, false
	}
	if id == "" {
		for _, d := range devices {
			if d.Default {
				return d, true
			}
		}
		return devices[0], true
	}
	for _, d := range devices {
		if d.ID == id {
			return d, true
		}
	}
	return Device{}, false
}
