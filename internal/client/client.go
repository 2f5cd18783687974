// Package client talks to the assistant server over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/user/assistant/internal/profile"
	"github.com/user/assistant/internal/stream"
	"github.com/user/assistant/pkg/llm"
)

// ClientIDHeader mirrors the header the server reads the client id from.
const ClientIDHeader = "X-Client-ID"

// ErrBusy is returned when the server refuses a turn because it is saturated.
var ErrBusy = errors.New("server busy")

// StatusError is a non-success response from the server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Code)
	}
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// Client is a connection to one assistant server.
type Client struct {
	baseURL string
	id      string
	http    *http.Client
}

// New creates a client for baseURL identifying itself as id. An empty id is
// assigned by the server on Connect.
func New(baseURL, id string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		id:      id,
		http:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

// ID returns the client id.
func (c *Client) ID() string { return c.id }

// BaseURL returns the server address relative audio references resolve against.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) do(ctx context.Context, method, path string, body any, timeout time.Duration) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.send(req, body != nil)
	if err != nil {
		cancel()
		return nil, err
	}
	// The timeout covers reading the body too.
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (c *Client) send(req *http.Request, hasBody bool) (*http.Response, error) {
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.id != "" {
		req.Header.Set(ClientIDHeader, c.id)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp, nil
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func statusError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(data, &body) != nil {
		body.Error = strings.TrimSpace(string(data))
	}
	se := &StatusError{Code: resp.StatusCode, Message: body.Error}
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", ErrBusy, se)
	}
	return se
}

// Connect registers with the server. If the client has no id yet it adopts
// the one the server assigns.
func (c *Client) Connect(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodPost, "/connect", map[string]string{"client_id": c.id}, 10*time.Second)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()
	var out struct {
		ClientID string `json:"client_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode connect response: %w", err)
	}
	if c.id == "" {
		c.id = out.ClientID
	}
	return nil
}

// Disconnect tells the server the client is going away.
func (c *Client) Disconnect(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodPost, "/disconnect", map[string]string{"client_id": c.id}, 5*time.Second)
	if err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	resp.Body.Close()
	return nil
}

// StopAudio stops playback on the server's audio device.
func (c *Client) StopAudio(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodPost, "/stop_audio", nil, 5*time.Second)
	if err != nil {
		return fmt.Errorf("stop audio: %w", err)
	}
	resp.Body.Close()
	return nil
}

// DefaultProfile fetches the server's canonical profile. Client implements
// profile.Source.
func (c *Client) DefaultProfile(ctx context.Context) (*profile.Profile, error) {
	resp, err := c.do(ctx, http.MethodGet, "/default_profile", nil, 10*time.Second)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read default profile: %w", err)
	}
	return profile.Parse(data)
}

// Health reports the server status document.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil, 5*time.Second)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode health: %w", err)
	}
	return out, nil
}

// GenerateRequest is one turn submitted to the server.
type GenerateRequest struct {
	Message      string           `json:"message"`
	Conversation []llm.Message    `json:"conversation"`
	Profile      *profile.Profile `json:"profile,omitempty"`
}

// Generate submits a turn and reads its event stream, calling onEvent with
// each event and the transcript so far. The returned transcript holds the
// whole turn. A turn the server reports as failed returns the transcript and
// a non-nil error.
func (c *Client) Generate(ctx context.Context, req GenerateRequest, onEvent func(stream.Event, *stream.Transcript)) (*stream.Transcript, error) {
	if req.Conversation == nil {
		req.Conversation = []llm.Message{}
	}
	resp, err := c.do(ctx, http.MethodPost, "/generate", req, 0)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	defer resp.Body.Close()

	tr := &stream.Transcript{}
	dec := stream.NewDecoder(resp.Body)
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return tr, fmt.Errorf("read stream: %w", err)
		}
		tr.Apply(ev)
		if onEvent != nil {
			onEvent(ev, tr)
		}
	}
	if msg := tr.Err(); msg != "" {
		return tr, errors.New(msg)
	}
	return tr, nil
}
