// Package deepgram synthesizes speech over Deepgram's streaming text to
// speech websocket.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/assistant/internal/playback"
)

const (
	defaultURL   = "wss://api.deepgram.com/v1/speak"
	defaultVoice = "aura-2-thalia-en"
	sampleRate   = 24000
)

// Config configures a Client.
type Config struct {
	APIKey string
	Voice  string
	// URL overrides the speak endpoint.
	URL         string
	DialTimeout time.Duration
}

// Client is a speech.Synthesizer backed by Deepgram.
type Client struct {
	apiKey string
	voice  string
	url    string
	dialer *websocket.Dialer
}

// New creates a Deepgram client.
func New(cfg Config) *Client {
	if cfg.Voice == "" {
		cfg.Voice = defaultVoice
	}
	if cfg.URL == "" {
		cfg.URL = defaultURL
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 15 * time.Second
	}
	return &Client{
		apiKey: cfg.APIKey,
		voice:  cfg.Voice,
		url:    cfg.URL,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
		},
	}
}

// Format is 16-bit mono PCM at 24 kHz.
func (c *Client) Format() playback.Format {
	return playback.Format{SampleWidth: 2, Channels: 1, FrameRate: sampleRate}
}

type message struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Synthesize opens a websocket, sends text, and returns a stream of the
// audio as it arrives. The stream ends once Deepgram confirms the flush.
// Closing the stream early tears down the connection.
func (c *Client) Synthesize(ctx context.Context, text string) (io.ReadCloser, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return nil, fmt.Errorf("parse speak url: %w", err)
	}
	q := u.Query()
	q.Set("model", c.voice)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("container", "none")
	u.RawQuery = q.Encode()

	header := http.Header{}
	if c.apiKey != "" {
		header.Set("Authorization", "token "+c.apiKey)
	}
	conn, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("open deepgram socket (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("open deepgram socket: %w", err)
	}

	if err := conn.WriteJSON(message{Type: "Speak", Text: text}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send text: %w", err)
	}
	if err := conn.WriteJSON(message{Type: "Flush"}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("flush: %w", err)
	}

	pr, pw := io.Pipe()
	go c.receive(ctx, conn, pw)
	return pr, nil
}

func (c *Client) receive(ctx context.Context, conn *websocket.Conn, pw *io.PipeWriter) {
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				pw.Close()
				return
			}
			pw.CloseWithError(fmt.Errorf("read deepgram socket: %w", err))
			return
		}

		switch typ {
		case websocket.BinaryMessage:
			if len(data) == 0 {
				continue
			}
			if _, err := pw.Write(data); err != nil {
				// Reader went away.
				conn.WriteJSON(message{Type: "Close"})
				return
			}
		case websocket.TextMessage:
			var m message
			if err := json.Unmarshal(data, &m); err != nil {
				slog.Debug("unreadable deepgram message", "error", err)
				continue
			}
			switch m.Type {
			case "Flushed":
				if err := conn.WriteJSON(message{Type: "Close"}); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
					slog.Debug("close deepgram socket", "error", err)
				}
				pw.Close()
				return
			case "Warning", "Error":
				slog.Warn("deepgram message", "body", string(data))
			}
		}
	}
}
