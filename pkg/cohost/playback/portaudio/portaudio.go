// Package portaudio plays speech through the host audio API via PortAudio.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/jholhewres/cohost/pkg/cohost/playback"
)

// Backend implements playback.Backend on top of PortAudio. Device indexes
// are positions in the host device list.
type Backend struct {
	mu     sync.Mutex
	closed bool
}

// Open initializes PortAudio. Close must be called to release it.
func Open() (*Backend, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing portaudio: %w", err)
	}
	return &Backend{}, nil
}

// Devices lists the host's audio devices.
func (b *Backend) Devices() ([]playback.Device, error) {
	infos, defaultName, err := b.list()
	if err != nil {
		return nil, err
	}
	out := make([]playback.Device, len(infos))
	for i, info := range infos {
		out[i] = toDevice(i, info, defaultName)
	}
	return out, nil
}

// DefaultOutput returns the default output device.
func (b *Backend) DefaultOutput() (playback.Device, error) {
	infos, defaultName, err := b.list()
	if err != nil {
		return playback.Device{}, err
	}
	for i, info := range infos {
		if info.Name == defaultName {
			return toDevice(i, info, defaultName), nil
		}
	}
	return playback.Device{}, playback.ErrNoOutputDevice
}

// Play streams interleaved samples to dev and blocks until the stream has
// drained or ctx is cancelled.
func (b *Backend) Play(ctx context.Context, dev playback.Device, samples []float32, channels, sampleRate int) error {
	infos, _, err := b.list()
	if err != nil {
		return err
	}
	if dev.Index < 0 || dev.Index >= len(infos) {
		return fmt.Errorf("%w: index %d", playback.ErrNoOutputDevice, dev.Index)
	}

	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   infos[dev.Index],
			Channels: channels,
			Latency:  infos[dev.Index].DefaultHighOutputLatency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: portaudio.FramesPerBufferUnspecified,
	}

	var (
		pos      int
		once     sync.Once
		finished = make(chan struct{})
	)
	stream, err := portaudio.OpenStream(params, func(out []float32) {
		n := copy(out, samples[pos:])
		pos += n
		for i := n; i < len(out); i++ {
			out[i] = 0
		}
		if pos >= len(samples) {
			once.Do(func() { close(finished) })
		}
	})
	if err != nil {
		return fmt.Errorf("opening stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("starting stream: %w", err)
	}

	select {
	case <-finished:
		return stream.Stop()
	case <-ctx.Done():
		_ = stream.Abort()
		return ctx.Err()
	}
}

// Close terminates PortAudio.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return portaudio.Terminate()
}

func (b *Backend) list() ([]*portaudio.DeviceInfo, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, "", errors.New("portaudio backend closed")
	}

	infos, err := portaudio.Devices()
	if err != nil {
		return nil, "", fmt.Errorf("listing devices: %w", err)
	}
	var defaultName string
	if def, err := portaudio.DefaultOutputDevice(); err == nil && def != nil {
		defaultName = def.Name
	}
	return infos, defaultName, nil
}

func toDevice(index int, info *portaudio.DeviceInfo, defaultName string) playback.Device {
	return playback.Device{
		Index:             index,
		Name:              info.Name,
		MaxOutputChannels: info.MaxOutputChannels,
		DefaultSampleRate: info.DefaultSampleRate,
		IsDefault:         info.Name == defaultName,
	}
}
