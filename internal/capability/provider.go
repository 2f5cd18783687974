// Package capability defines the contract for auxiliary functions the model
// may request mid-turn, the profile-gated registry that holds them, and the
// dispatcher that invokes one and folds its result into natural language.
package capability

import (
	"context"
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Provider is an executable capability.
type Provider interface {
	Name() string
	Description() string
	Parameters() json.RawMessage
	Invoke(ctx context.Context, args json.RawMessage) (*Output, error)
}

// Summarized is implemented by providers whose raw output is data rather
// than a sentence. Their results are rewritten by the secondary model and
// framed on the stream as a search.
type Summarized interface {
	Provider
	// Label names the source in the summary prompt, e.g. "weather".
	Label() string
	// Query describes what is being looked up, shown while the call runs.
	Query(args json.RawMessage) string
}

// Output is what a provider hands back.
type Output struct {
	Text string
	// Reference is a playable audio resource, set by playback providers.
	Reference string
}

// Schema reflects the JSON schema for an argument struct. Field docs come
// from `jsonschema` struct tags.
func Schema[T any]() json.RawMessage {
	r := jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	s := r.Reflect(new(T))
	s.Version = ""
	s.ID = ""
	data, err := json.Marshal(s)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return data
}
