package stream

import "strings"

// Transcript accumulates the events of one turn in arrival order.
type Transcript struct {
	parts     []string
	searching bool
	query     string
	audio     []Event
	errMsg    string
}

// Apply folds one event into the transcript.
func (t *Transcript) Apply(ev Event) {
	switch ev.Type {
	case TypeContent:
		t.parts = append(t.parts, ev.Text)
	case TypeSearchStart:
		t.searching = true
		t.query = ev.Query
	case TypeSearchEnd:
		t.searching = false
		t.parts = append(t.parts, ev.Summary)
	case TypeAudio:
		t.audio = append(t.audio, ev)
	case TypeError:
		t.errMsg = ev.Message
	}
}

// Text is the cumulative assistant text: every content fragment and search
// summary, concatenated in arrival order.
func (t *Transcript) Text() string {
	return strings.Join(t.parts, "")
}

// Display is what a live view should show. While a search is open only the
// search indicator is shown.
func (t *Transcript) Display() string {
	if t.searching {
		return "🔍 *" + t.query + "*"
	}
	return t.Text()
}

// Searching reports whether a search_start has not yet been closed.
func (t *Transcript) Searching() bool { return t.searching }

// Audio returns the audio events received.
func (t *Transcript) Audio() []Event { return t.audio }

// Err returns the error message of a failed turn, if any.
func (t *Transcript) Err() string { return t.errMsg }
