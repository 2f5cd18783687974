package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/user/assistant/internal/capability"
)

const noKnowledgeResult = "No results found"

// Knowledge answers factual and computational questions through the
// Wolfram|Alpha short answers API.
type Knowledge struct {
	appID   string
	baseURL string
	client  *http.Client
}

// NewKnowledge creates the knowledge capability.
func NewKnowledge(appID string, timeout time.Duration) *Knowledge {
	return &Knowledge{
		appID:   appID,
		baseURL: "https://api.wolframalpha.com/v1/result",
		client:  newHTTPClient(timeout),
	}
}

type knowledgeArgs struct {
	Query string `json:"query" jsonschema:"description=The query to send to Wolfram Alpha"`
}

func (k *Knowledge) Name() string                { return "query_wolfram_alpha" }
func (k *Knowledge) Description() string         { return "Query Wolfram Alpha for information or calculations" }
func (k *Knowledge) Parameters() json.RawMessage { return capability.Schema[knowledgeArgs]() }
func (k *Knowledge) Label() string               { return "Wolfram Alpha" }

func (k *Knowledge) Query(args json.RawMessage) string {
	var a knowledgeArgs
	json.Unmarshal(args, &a)
	return a.Query
}

func (k *Knowledge) Invoke(ctx context.Context, args json.RawMessage) (*capability.Output, error) {
	var a knowledgeArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("parse args: %w", err)
	}
	if a.Query == "" {
		return nil, fmt.Errorf("query is required")
	}

	q := url.Values{"appid": {k.appID}, "i": {a.Query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := k.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		answer := strings.TrimSpace(string(body))
		if answer == "" {
			answer = noKnowledgeResult
		}
		return &capability.Output{Text: answer}, nil
	case http.StatusNotImplemented, http.StatusBadRequest:
		// Wolfram answers 501 when it cannot interpret the input.
		return &capability.Output{Text: noKnowledgeResult}, nil
	default:
		return nil, fmt.Errorf("Wolfram API error (status %d): %s", resp.StatusCode, string(body))
	}
}
