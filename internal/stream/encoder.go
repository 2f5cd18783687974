package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// ErrOutOfOrder is returned when an event would break the stream ordering:
// search_start, content, search_end, audio, with error allowed only before
// any audio.
var ErrOutOfOrder = errors.New("event out of order")

type phase int

const (
	phaseStart phase = iota
	phaseSearching
	phaseContent
	phaseSearchDone
	phaseAudio
	phaseFailed
)

// Encoder writes events to w, one JSON object per line, flushing after each
// line when w supports it.
type Encoder struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	phase   phase
	count   int
}

// NewEncoder creates an encoder over w.
func NewEncoder(w io.Writer) *Encoder {
	e := &Encoder{w: w}
	if f, ok := w.(http.Flusher); ok {
		e.flusher = f
	}
	return e
}

// Encode writes one event.
func (e *Encoder) Encode(ev Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next, err := e.advance(ev.Type)
	if err != nil {
		return err
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	data = append(data, '\n')
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	e.phase = next
	e.count++
	return nil
}

// Count returns the number of events written.
func (e *Encoder) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}

func (e *Encoder) advance(typ string) (phase, error) {
	p := e.phase
	bad := func() (phase, error) {
		return p, fmt.Errorf("%w: %s after %s", ErrOutOfOrder, typ, p)
	}
	if p == phaseFailed {
		return bad()
	}
	switch typ {
	case TypeSearchStart:
		if p != phaseStart {
			return bad()
		}
		return phaseSearching, nil
	case TypeContent:
		switch p {
		case phaseStart, phaseContent:
			return phaseContent, nil
		case phaseSearching:
			return phaseSearching, nil
		case phaseSearchDone:
			return phaseSearchDone, nil
		}
		return bad()
	case TypeSearchEnd:
		if p != phaseSearching {
			return bad()
		}
		return phaseSearchDone, nil
	case TypeAudio:
		if p == phaseAudio || p == phaseSearching {
			return bad()
		}
		return phaseAudio, nil
	case TypeError:
		if p == phaseAudio {
			return bad()
		}
		return phaseFailed, nil
	default:
		return p, fmt.Errorf("unknown event type %q", typ)
	}
}

func (p phase) String() string {
	switch p {
	case phaseStart:
		return "start"
	case phaseSearching:
		return "search_start"
	case phaseContent:
		return "content"
	case phaseSearchDone:
		return "search_end"
	case phaseAudio:
		return "audio"
	case phaseFailed:
		return "error"
	default:
		return "unknown"
	}
}
