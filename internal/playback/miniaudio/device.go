// Package miniaudio provides playback devices backed by miniaudio through
// malgo.
package miniaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/user/assistant/internal/playback"
)

// bufferedDuration bounds how much audio Write may queue ahead of the device.
const bufferedDuration = 250 * time.Millisecond

var errClosed = errors.New("device closed")

// Opener opens malgo playback devices on a shared context.
type Opener struct {
	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

// NewOpener initializes the audio backend.
func NewOpener() (*Opener, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("malgo", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return &Opener{ctx: ctx}, nil
}

// Close releases the audio backend. Devices must be closed first.
func (o *Opener) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ctx == nil {
		return nil
	}
	err := o.ctx.Uninit()
	o.ctx.Free()
	o.ctx = nil
	return err
}

func sampleFormat(f playback.Format) (malgo.FormatType, error) {
	switch {
	case f.Float && f.SampleWidth == 4:
		return malgo.FormatF32, nil
	case f.Float:
		return malgo.FormatUnknown, fmt.Errorf("unsupported float width %d", f.SampleWidth)
	}
	switch f.SampleWidth {
	case 1:
		return malgo.FormatU8, nil
	case 2:
		return malgo.FormatS16, nil
	case 3:
		return malgo.FormatS24, nil
	case 4:
		return malgo.FormatS32, nil
	}
	return malgo.FormatUnknown, fmt.Errorf("unsupported sample width %d", f.SampleWidth)
}

// Open starts a playback device for f.
func (o *Opener) Open(f playback.Format) (playback.Device, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ctx == nil {
		return nil, errClosed
	}

	format, err := sampleFormat(f)
	if err != nil {
		return nil, err
	}

	d := &device{
		frameSize: f.FrameSize(),
		limit:     f.FrameSize() * f.FrameRate * int(bufferedDuration/time.Millisecond) / 1000,
	}
	d.cond = sync.NewCond(&d.mu)

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.SampleRate = uint32(f.FrameRate)
	cfg.Playback.Format = format
	cfg.Playback.Channels = uint32(f.Channels)
	cfg.Alsa.NoMMap = 1
	cfg.PeriodSizeInFrames = uint32(f.FrameRate / 20)
	cfg.Periods = 3

	dev, err := malgo.InitDevice(o.ctx.Context, cfg, malgo.DeviceCallbacks{Data: d.fill})
	if err != nil {
		return nil, fmt.Errorf("init playback device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("start playback device: %w", err)
	}
	d.dev = dev
	return d, nil
}

type device struct {
	dev       *malgo.Device
	frameSize int
	limit     int

	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool
}

// fill runs on the audio thread. Missing audio is played as silence.
func (d *device) fill(out, _ []byte, frames uint32) {
	need := int(frames) * d.frameSize
	if need > len(out) {
		need = len(out)
	}
	d.mu.Lock()
	n := copy(out[:need], d.buf)
	d.buf = d.buf[n:]
	d.cond.Broadcast()
	d.mu.Unlock()
	clear(out[n:need])
}

func (d *device) Write(p []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for !d.closed && len(d.buf) >= d.limit {
		d.cond.Wait()
	}
	if d.closed {
		return errClosed
	}
	d.buf = append(d.buf, p...)
	return nil
}

func (d *device) Drain(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		d.mu.Lock()
		empty, closed := len(d.buf) == 0, d.closed
		d.mu.Unlock()
		if closed {
			return errClosed
		}
		if empty {
			// Let the last period reach the speaker.
			time.Sleep(50 * time.Millisecond)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close stops the device. The malgo device is torn down outside the lock
// because the audio thread takes it in fill.
func (d *device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.buf = nil
	d.cond.Broadcast()
	d.mu.Unlock()

	if d.dev == nil {
		return nil
	}
	err := d.dev.Stop()
	d.dev.Uninit()
	if err != nil {
		return fmt.Errorf("stop playback device: %w", err)
	}
	return nil
}
