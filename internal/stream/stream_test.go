package stream

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func decodeAll(t *testing.T, body string) (*Transcript, []Event, *Decoder) {
	t.Helper()
	d := NewDecoder(strings.NewReader(body))
	var tr Transcript
	var events []Event
	for {
		ev, err := d.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		events = append(events, ev)
		tr.Apply(ev)
	}
	return &tr, events, d
}

func TestDecoderSkipsMalformedLine(t *testing.T) {
	body := `{"type":"content","text":"Hello, "}
{"type":"content","text":
{"type":"content","text":"world"}
`
	tr, events, d := decodeAll(t, body)
	if tr.Text() != "Hello, world" {
		t.Errorf("expected 'Hello, world', got %q", tr.Text())
	}
	if len(events) != 2 {
		t.Errorf("expected 2 events, got %d", len(events))
	}
	if d.Skipped() != 1 {
		t.Errorf("expected 1 skipped line, got %d", d.Skipped())
	}
}

func TestDecoderBlankAndUnknownLines(t *testing.T) {
	body := "\n\n{\"type\":\"content\",\"text\":\"a\"}\n   \n{\"type\":\"telemetry\",\"x\":1}\n{\"text\":\"no type\"}\n{\"type\":\"content\",\"text\":\"b\"}"
	tr, events, _ := decodeAll(t, body)
	if tr.Text() != "ab" {
		t.Errorf("expected 'ab', got %q", tr.Text())
	}
	if len(events) != 2 {
		t.Errorf("expected 2 events, got %d", len(events))
	}
}

func TestTranscriptSearchDisplay(t *testing.T) {
	var tr Transcript
	tr.Apply(SearchStart("Weather in Paris"))
	tr.Apply(Content("Let me check."))
	if !tr.Searching() {
		t.Fatal("expected searching state")
	}
	if tr.Display() != "🔍 *Weather in Paris*" {
		t.Errorf("expected only the search indicator, got %q", tr.Display())
	}

	tr.Apply(Content("\n\n"))
	tr.Apply(SearchEnd("It is 18 degrees."))
	tr.Apply(Content(" More."))
	if tr.Searching() {
		t.Fatal("expected search closed")
	}
	want := "Let me check.\n\nIt is 18 degrees. More."
	if tr.Display() != want || tr.Text() != want {
		t.Errorf("expected %q, got display %q text %q", want, tr.Display(), tr.Text())
	}
}

func TestEncoderRoundTripPreservesOrder(t *testing.T) {
	rec := httptest.NewRecorder()
	enc := NewEncoder(rec)

	events := []Event{
		SearchStart("q"),
		Content("free text"),
		Content("\n\n"),
		SearchEnd("summary"),
		Audio("/audio/speech/1", KindStream),
	}
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			t.Fatalf("encode %s: %v", ev.Type, err)
		}
	}
	if !rec.Flushed {
		t.Error("expected encoder to flush")
	}
	if n := strings.Count(rec.Body.String(), "\n"); n != len(events) {
		t.Errorf("expected %d lines, got %d", len(events), n)
	}

	tr, got, _ := decodeAll(t, rec.Body.String())
	if len(got) != len(events) {
		t.Fatalf("expected %d events, got %d", len(events), len(got))
	}
	for i := range events {
		if got[i] != events[i] {
			t.Errorf("event %d: expected %+v, got %+v", i, events[i], got[i])
		}
	}
	if tr.Text() != "free text\n\nsummary" {
		t.Errorf("unexpected text %q", tr.Text())
	}
	if len(tr.Audio()) != 1 {
		t.Errorf("expected 1 audio event, got %d", len(tr.Audio()))
	}
}

func TestEncoderRejectsOutOfOrder(t *testing.T) {
	tests := []struct {
		name string
		seq  []Event
	}{
		{"search_end without start", []Event{SearchEnd("x")}},
		{"second search_start", []Event{SearchStart("a"), SearchEnd("b"), SearchStart("c")}},
		{"search_start after content", []Event{Content("a"), SearchStart("b")}},
		{"content after audio", []Event{Audio("r", KindFile), Content("a")}},
		{"anything after error", []Event{Error("boom"), Content("a")}},
		{"audio inside search", []Event{SearchStart("a"), Audio("r", KindFile)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := NewEncoder(io.Discard)
			var err error
			for _, ev := range tt.seq {
				if err = enc.Encode(ev); err != nil {
					break
				}
			}
			if !errors.Is(err, ErrOutOfOrder) {
				t.Errorf("expected ErrOutOfOrder, got %v", err)
			}
		})
	}
}

func TestDecoderLongLine(t *testing.T) {
	long := strings.Repeat("x", 200*1024)
	body := `{"type":"content","text":"` + long + `"}` + "\n"
	tr, _, _ := decodeAll(t, body)
	if len(tr.Text()) != len(long) {
		t.Errorf("expected %d chars, got %d", len(long), len(tr.Text()))
	}
}
