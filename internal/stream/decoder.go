package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

const maxLineSize = 1 << 20

// ErrMalformedLine marks a line that is not a JSON event object. Decoder
// skips such lines; the error is only surfaced through logging.
var ErrMalformedLine = errors.New("malformed event line")

// Decoder reads events from a stream body. Blank lines, malformed lines and
// unknown event types are skipped.
type Decoder struct {
	scanner *bufio.Scanner
	line    int
	skipped int
}

// NewDecoder creates a decoder over r.
func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Decoder{scanner: s}
}

// Next returns the next recognized event. It returns io.EOF when the stream
// ends.
func (d *Decoder) Next() (Event, error) {
	for d.scanner.Scan() {
		d.line++
		line := bytes.TrimSpace(d.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		ev, err := parseLine(line)
		if err != nil {
			d.skipped++
			slog.Warn("skipping stream line", "line", d.line, "error", err)
			continue
		}
		if !known(ev.Type) {
			slog.Debug("ignoring unknown event", "type", ev.Type)
			continue
		}
		return ev, nil
	}
	if err := d.scanner.Err(); err != nil {
		return Event{}, fmt.Errorf("read stream: %w", err)
	}
	return Event{}, io.EOF
}

// Skipped returns the number of malformed lines seen so far.
func (d *Decoder) Skipped() int { return d.skipped }

func parseLine(line []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedLine)
	}
	return ev, nil
}

func known(typ string) bool {
	switch typ {
	case TypeContent, TypeSearchStart, TypeSearchEnd, TypeAudio, TypeError:
		return true
	}
	return false
}
