// Package playback plays one audio session at a time from a local file or a
// chunked HTTP source.
//
// Each session runs a producer goroutine that reads and decodes the source
// into fixed-size PCM chunks and a consumer goroutine that writes them to the
// output device. The two are joined by a bounded channel; a chunk marked last
// ends the stream. The Engine serializes every control call with one mutex,
// so starting a new session always stops and releases the previous one first.
// The mutex is not held while a source is fetched: Stop and Shutdown can
// abandon a session that is still waiting for its first chunk.
package playback

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// State of a session, or of the engine as a whole.
type State int

const (
	StateIdle State = iota
	StateFetching
	StatePlaying
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrDevice wraps failures opening or writing the output device.
	ErrDevice = errors.New("audio device error")
	// ErrDecode wraps failures determining or decoding the source format.
	ErrDecode = errors.New("audio decode error")
	// ErrNotFound means the source does not exist.
	ErrNotFound = errors.New("audio source not found")
	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("playback engine closed")
	// ErrNotPlaying is returned by Pause and Resume without an active session.
	ErrNotPlaying = errors.New("nothing is playing")
	// ErrTimeout means the source sent no audio within the fetch timeout.
	ErrTimeout = errors.New("audio source timed out")
	// ErrStopped is returned by Start when the session was stopped while its
	// source was still being fetched.
	ErrStopped = errors.New("playback stopped before it started")
)

// Source is where a session reads audio from. Exactly one field is set.
type Source struct {
	URL  string
	Path string
}

func (s Source) String() string {
	if s.Path != "" {
		return s.Path
	}
	return s.URL
}

// ParseSource turns an audio event reference into a Source. Relative
// references of kind "stream" are resolved against base.
func ParseSource(reference, kind, base string) (Source, error) {
	if reference == "" {
		return Source{}, fmt.Errorf("empty audio reference")
	}
	if kind == "file" {
		return Source{Path: reference}, nil
	}

	ref, err := url.Parse(reference)
	if err != nil {
		return Source{}, fmt.Errorf("parse reference: %w", err)
	}
	if ref.IsAbs() {
		return Source{URL: ref.String()}, nil
	}
	if base == "" {
		if filepath.IsAbs(reference) {
			return Source{Path: reference}, nil
		}
		return Source{}, fmt.Errorf("relative reference %q without base url", reference)
	}
	b, err := url.Parse(strings.TrimSuffix(base, "/") + "/")
	if err != nil {
		return Source{}, fmt.Errorf("parse base url: %w", err)
	}
	return Source{URL: b.ResolveReference(ref).String()}, nil
}

// Format describes interleaved PCM samples.
type Format struct {
	SampleWidth int // bytes per sample
	Channels    int
	FrameRate   int
	Float       bool
}

// FrameSize is the byte size of one frame across all channels.
func (f Format) FrameSize() int { return f.SampleWidth * f.Channels }

func (f Format) validate() error {
	switch {
	case f.Float && f.SampleWidth != 4:
		return fmt.Errorf("unsupported float sample width %d", f.SampleWidth)
	case f.SampleWidth < 1 || f.SampleWidth > 4:
		return fmt.Errorf("unsupported sample width %d", f.SampleWidth)
	case f.Channels < 1 || f.Channels > 8:
		return fmt.Errorf("unsupported channel count %d", f.Channels)
	case f.FrameRate <= 0:
		return fmt.Errorf("invalid frame rate %d", f.FrameRate)
	}
	return nil
}

func (f Format) String() string {
	kind := "int"
	if f.Float {
		kind = "float"
	}
	return fmt.Sprintf("%dHz %dch %d-bit %s", f.FrameRate, f.Channels, f.SampleWidth*8, kind)
}
