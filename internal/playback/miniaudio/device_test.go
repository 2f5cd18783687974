package miniaudio

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/user/assistant/internal/playback"
)

func newTestDevice(frameSize, limit int) *device {
	d := &device{frameSize: frameSize, limit: limit}
	d.cond = sync.NewCond(&d.mu)
	return d
}

func TestSampleFormat(t *testing.T) {
	tests := []struct {
		in   playback.Format
		want malgo.FormatType
		ok   bool
	}{
		{playback.Format{SampleWidth: 2, Channels: 1, FrameRate: 8000}, malgo.FormatS16, true},
		{playback.Format{SampleWidth: 1, Channels: 1, FrameRate: 8000}, malgo.FormatU8, true},
		{playback.Format{SampleWidth: 4, Channels: 2, FrameRate: 8000, Float: true}, malgo.FormatF32, true},
		{playback.Format{SampleWidth: 2, Channels: 1, FrameRate: 8000, Float: true}, malgo.FormatUnknown, false},
	}
	for _, tt := range tests {
		got, err := sampleFormat(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("sampleFormat(%+v) = %v, %v", tt.in, got, err)
		}
	}
}

func TestDeviceFillPadsSilence(t *testing.T) {
	d := newTestDevice(2, 1024)
	if err := d.Write([]byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}

	out := bytes.Repeat([]byte{0xAA}, 8)
	d.fill(out, nil, 4)
	if !bytes.Equal(out, []byte{1, 2, 3, 4, 0, 0, 0, 0}) {
		t.Errorf("unexpected output %v", out)
	}
	if err := d.Drain(context.Background()); err != nil {
		t.Errorf("drain of empty buffer: %v", err)
	}
}

func TestDeviceWriteBlocksUntilConsumed(t *testing.T) {
	d := newTestDevice(2, 4)
	if err := d.Write([]byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- d.Write([]byte{5, 6}) }()

	select {
	case <-done:
		t.Fatal("write should block while the buffer is full")
	case <-time.After(30 * time.Millisecond):
	}

	d.fill(make([]byte, 4), nil, 2)
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("write did not resume after the device consumed audio")
	}
}

func TestDeviceCloseUnblocksWrite(t *testing.T) {
	d := newTestDevice(2, 2)
	d.Write([]byte{1, 2})

	done := make(chan error, 1)
	go func() { done <- d.Write([]byte{3, 4}) }()
	time.Sleep(10 * time.Millisecond)

	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, errClosed) {
			t.Errorf("expected errClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("close did not unblock write")
	}
	if err := d.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	if err := d.Drain(context.Background()); !errors.Is(err, errClosed) {
		t.Errorf("expected errClosed from drain, got %v", err)
	}
}
