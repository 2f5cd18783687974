// Package stream implements the line-delimited JSON event protocol a turn is
// delivered over: one event object per line, flushed as it is produced, with
// the end of the HTTP body marking the end of the turn.
package stream

// Event types.
const (
	TypeContent     = "content"
	TypeSearchStart = "search_start"
	TypeSearchEnd   = "search_end"
	TypeAudio       = "audio"
	TypeError       = "error"
)

// Audio reference kinds. A file is already playing next to the server; a
// stream must be fetched and played by the receiver.
const (
	KindFile   = "file"
	KindStream = "stream"
)

// ContentType is the media type of an event stream body.
const ContentType = "application/x-ndjson"

// Event is one line of the stream. Only the fields of its type are set.
type Event struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Query     string `json:"query,omitempty"`
	Summary   string `json:"summary,omitempty"`
	Reference string `json:"reference,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Content returns a content fragment event.
func Content(text string) Event { return Event{Type: TypeContent, Text: text} }

// SearchStart returns the event opening a capability lookup.
func SearchStart(query string) Event { return Event{Type: TypeSearchStart, Query: query} }

// SearchEnd returns the event carrying the summarized lookup result.
func SearchEnd(summary string) Event { return Event{Type: TypeSearchEnd, Summary: summary} }

// Audio returns an audio reference event.
func Audio(reference, kind string) Event {
	return Event{Type: TypeAudio, Reference: reference, Kind: kind}
}

// Error returns the event reporting a failed turn.
func Error(message string) Event { return Event{Type: TypeError, Message: message} }
