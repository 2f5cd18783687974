package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/user/assistant/internal/profile"
	"github.com/user/assistant/internal/stream"
	"github.com/user/assistant/pkg/llm"
)

func TestConnectAdoptsAssignedID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/connect" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "connected", "client_id": "assigned"})
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "")
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.ID() != "assigned" {
		t.Errorf("id = %q", c.ID())
	}
	if c.BaseURL() != srv.URL {
		t.Errorf("base url = %q", c.BaseURL())
	}
}

func TestRequestsCarryClientID(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.URL.Path+" "+r.Header.Get(ClientIDHeader))
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	c := New(srv.URL, "laptop")
	ctx := context.Background()
	if err := c.StopAudio(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Disconnect(ctx); err != nil {
		t.Fatal(err)
	}
	want := []string{"/stop_audio laptop", "/disconnect laptop"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("requests = %v, want %v", got, want)
	}
}

func TestDefaultProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"capabilities":{"weather":true,"web_search":false},"persona":{"system_prompt":"be brief"}}`)
	}))
	defer srv.Close()

	var src profile.Source = New(srv.URL, "x")
	p, err := src.DefaultProfile(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if p.Persona.SystemPrompt != "be brief" || p.Enabled(profile.WebSearch) {
		t.Errorf("profile = %+v", p)
	}
}

func TestDefaultProfileInvalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"persona":{"system_prompt":"x"}}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "x").DefaultProfile(context.Background())
	if !errors.Is(err, profile.ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
}

func TestGenerateStreamsEvents(t *testing.T) {
	var req GenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", stream.ContentType)
		enc := stream.NewEncoder(w)
		enc.Encode(stream.SearchStart("Weather in Oslo"))
		enc.Encode(stream.Content("\n\n"))
		enc.Encode(stream.SearchEnd("Cold."))
		enc.Encode(stream.Audio("/audio/speech/abc", "stream"))
	}))
	defer srv.Close()

	var displays []string
	c := New(srv.URL, "laptop")
	tr, err := c.Generate(context.Background(), GenerateRequest{Message: "weather in oslo"}, func(_ stream.Event, tr *stream.Transcript) {
		displays = append(displays, tr.Display())
	})
	if err != nil {
		t.Fatal(err)
	}

	if req.Message != "weather in oslo" || req.Conversation == nil {
		t.Errorf("request = %+v", req)
	}
	if tr.Text() != "\n\nCold." {
		t.Errorf("text = %q", tr.Text())
	}
	if len(tr.Audio()) != 1 || tr.Audio()[0].Reference != "/audio/speech/abc" {
		t.Errorf("audio = %+v", tr.Audio())
	}
	if len(displays) != 4 || !strings.Contains(displays[0], "Weather in Oslo") || displays[3] != "\n\nCold." {
		t.Errorf("displays = %q", displays)
	}
}

func TestGenerateSendsConversation(t *testing.T) {
	var req GenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&req)
		stream.NewEncoder(w).Encode(stream.Content("ok"))
	}))
	defer srv.Close()

	history := []llm.Message{
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleAssistant, Content: "hello"},
	}
	p := &profile.Profile{Capabilities: map[string]bool{profile.Weather: false}}
	_, err := New(srv.URL, "x").Generate(context.Background(), GenerateRequest{Message: "again", Conversation: history, Profile: p}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(req.Conversation) != 2 || req.Conversation[1].Content != "hello" {
		t.Errorf("conversation = %+v", req.Conversation)
	}
	if req.Profile == nil || req.Profile.Enabled(profile.Weather) {
		t.Errorf("profile = %+v", req.Profile)
	}
}

func TestGenerateReportsFailedTurn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stream.NewEncoder(w).Encode(stream.Error("Language model unavailable."))
	}))
	defer srv.Close()

	tr, err := New(srv.URL, "x").Generate(context.Background(), GenerateRequest{Message: "hi"}, nil)
	if err == nil || err.Error() != "Language model unavailable." {
		t.Errorf("err = %v", err)
	}
	if tr == nil || tr.Err() == "" {
		t.Error("failed turn returned no transcript")
	}
}

func TestGenerateBusy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":"too many requests in flight"}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "x").Generate(context.Background(), GenerateRequest{Message: "hi"}, nil)
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusTooManyRequests || se.Message != "too many requests in flight" {
		t.Errorf("status error = %+v", se)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"ok","audio":"playing"}`)
	}))
	defer srv.Close()

	h, err := New(srv.URL, "x").Health(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if h["audio"] != "playing" {
		t.Errorf("health = %v", h)
	}
}
