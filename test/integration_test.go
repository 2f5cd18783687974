//go:build integration

package test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/user/assistant/internal/capability"
	"github.com/user/assistant/internal/capability/providers"
	"github.com/user/assistant/internal/client"
	ctxengine "github.com/user/assistant/internal/context"
	"github.com/user/assistant/internal/gateway"
	"github.com/user/assistant/internal/orchestrator"
	"github.com/user/assistant/internal/playback"
	"github.com/user/assistant/internal/profile"
	"github.com/user/assistant/internal/server"
	"github.com/user/assistant/internal/speech"
	"github.com/user/assistant/internal/stream"
	"github.com/user/assistant/pkg/llm"
)

// routedModel picks its reply from the latest user message. Summary
// requests are answered from the raw result they carry.
type routedModel struct {
	mu        sync.Mutex
	prompts   [][]llm.Message
	summaries []string
}

func (m *routedModel) Complete(_ context.Context, messages []llm.Message, _ []llm.Tool, _ ...llm.CallOption) (*llm.Response, error) {
	last := messages[len(messages)-1].Content

	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.HasPrefix(last, "Please summarize") {
		m.summaries = append(m.summaries, last)
		if strings.Contains(last, `"temperature":18`) && strings.Contains(last, "Partly cloudy") {
			return &llm.Response{Content: "It is 18 degrees and partly cloudy in Paris."}, nil
		}
		return &llm.Response{Content: "I could not find that."}, nil
	}
	m.prompts = append(m.prompts, messages)

	switch {
	case strings.Contains(last, "weather"):
		return &llm.Response{ToolCalls: []llm.ToolCall{{
			ID:   "call_1",
			Type: "function",
			Function: llm.FunctionCall{
				Name:      "get_current_weather",
				Arguments: `{"location":"Paris"}`,
			},
		}}}, nil
	case strings.Contains(last, "play"):
		return &llm.Response{ToolCalls: []llm.ToolCall{{
			ID:   "call_1",
			Type: "function",
			Function: llm.FunctionCall{
				Name:      "play_music",
				Arguments: `{"song_name":"blue train"}`,
			},
		}}}, nil
	}
	return &llm.Response{Content: "Hi there."}, nil
}

// openMeteo serves canned geocoding and forecast answers for Paris.
type openMeteo struct {
	mu    sync.Mutex
	calls []string
}

func (o *openMeteo) start(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/geo", func(w http.ResponseWriter, r *http.Request) {
		o.record("geo " + r.URL.Query().Get("name"))
		w.Write([]byte(`{"results":[{"latitude":48.8566,"longitude":2.3522}]}`))
	})
	mux.HandleFunc("/forecast", func(w http.ResponseWriter, r *http.Request) {
		o.record("forecast " + r.URL.Query().Get("latitude"))
		w.Write([]byte(`{"current_weather":{"temperature":18.04,"weathercode":2}}`))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func (o *openMeteo) record(call string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, call)
}

type pcmSynth struct{}

func (pcmSynth) Synthesize(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("pcm-audio")), nil
}

func (pcmSynth) Format() playback.Format {
	return playback.Format{SampleWidth: 2, Channels: 1, FrameRate: 24000}
}

type stack struct {
	url     string
	model   *routedModel
	gw      *gateway.Gateway
	weather *openMeteo
}

func startStack(t *testing.T) *stack {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Blue Train.mp3"), []byte("mp3-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	model := &routedModel{}
	catalog := &providers.Catalog{Dir: dir}
	reg := capability.NewRegistry()
	reg.Register(profile.PlayMusic, providers.NewPlayMusic(catalog))
	weather := &openMeteo{}
	meteo := weather.start(t)
	reg.Register(profile.Weather, providers.NewWeather(5*time.Second).WithEndpoints(meteo.URL+"/geo", meteo.URL+"/forecast"))

	prompts, err := ctxengine.New("gpt-4o-mini", 128000, 4096)
	if err != nil {
		t.Fatal(err)
	}
	svc := speech.NewService(pcmSynth{}, speech.NewStore(time.Minute))
	orch := orchestrator.New(orchestrator.Options{
		Model:      model,
		Dispatcher: capability.NewDispatcher(reg, model, "gpt-4o-mini"),
		Prompter:   prompts,
		Speaker:    svc,
	})

	gw := gateway.New(2)
	gw.Start(context.Background())
	t.Cleanup(gw.Stop)

	srv := server.NewServer(server.Options{
		Generator: orch,
		Gateway:   gw,
		Catalog:   catalog,
		Speech:    svc,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &stack{url: ts.URL, model: model, gw: gw, weather: weather}
}

func fetch(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestEndToEnd(t *testing.T) {
	s := startStack(t)
	ctx := context.Background()

	c := client.New(s.url, "")
	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	if c.ID() == "" {
		t.Fatal("no client id assigned")
	}

	p, err := profile.Resolve(ctx, c, "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(p.Persona.SystemPrompt, "Blue Train.mp3") {
		t.Errorf("persona does not list the catalog: %q", p.Persona.SystemPrompt)
	}

	// A plain reply comes back with a one-shot spoken version.
	tr, err := c.Generate(ctx, client.GenerateRequest{Message: "hello", Profile: p}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if tr.Text() != "Hi there." {
		t.Errorf("text = %q", tr.Text())
	}
	audio := tr.Audio()
	if len(audio) != 1 || audio[0].Kind != stream.KindStream || !strings.HasPrefix(audio[0].Reference, orchestrator.SpeechRoute) {
		t.Fatalf("audio = %+v", audio)
	}
	if code, body := fetch(t, s.url+audio[0].Reference); code != http.StatusOK || body != "pcm-audio" {
		t.Errorf("speech fetch = %d %q", code, body)
	}
	if code, _ := fetch(t, s.url+audio[0].Reference); code != http.StatusNotFound {
		t.Errorf("second speech fetch = %d, want 404", code)
	}

	// Music streams back to a client when the server has no audio device.
	history := []llm.Message{
		{Role: llm.RoleUser, Content: "hello"},
		{Role: llm.RoleAssistant, Content: tr.Text()},
	}
	tr, err = c.Generate(ctx, client.GenerateRequest{Message: "play blue train", Conversation: history, Profile: p}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(tr.Text(), "Now playing: Blue Train.mp3") {
		t.Errorf("text = %q", tr.Text())
	}
	audio = tr.Audio()
	if len(audio) != 1 || audio[0].Reference != "/audio/music/Blue%20Train.mp3" {
		t.Fatalf("audio = %+v", audio)
	}
	src, err := playback.ParseSource(audio[0].Reference, audio[0].Kind, c.BaseURL())
	if err != nil {
		t.Fatal(err)
	}
	if code, body := fetch(t, src.URL); code != http.StatusOK || body != "mp3-bytes" {
		t.Errorf("music fetch = %d %q", code, body)
	}

	// The second turn saw the first one.
	s.model.mu.Lock()
	last := s.model.prompts[len(s.model.prompts)-1]
	s.model.mu.Unlock()
	if len(last) != 4 || last[1].Content != "hello" {
		t.Errorf("second prompt = %+v", last)
	}

	if err := c.Disconnect(ctx); err != nil {
		t.Fatal(err)
	}
	if n := len(s.gw.Clients()); n != 0 {
		t.Errorf("%d clients left after disconnect", n)
	}
}

func TestWeatherRoundTrip(t *testing.T) {
	s := startStack(t)
	ctx := context.Background()

	c := client.New(s.url, "paris")
	p, err := profile.Resolve(ctx, c, "")
	if err != nil {
		t.Fatal(err)
	}

	var kinds []string
	tr, err := c.Generate(ctx, client.GenerateRequest{Message: "what's the weather in paris?", Profile: p}, func(ev stream.Event, _ *stream.Transcript) {
		kinds = append(kinds, ev.Type)
	})
	if err != nil {
		t.Fatal(err)
	}

	if got := strings.Join(kinds, ","); !strings.HasPrefix(got, "search_start,content,search_end") {
		t.Errorf("events = %s", got)
	}
	if !strings.Contains(tr.Text(), "It is 18 degrees and partly cloudy in Paris.") {
		t.Errorf("text = %q", tr.Text())
	}

	s.weather.mu.Lock()
	calls := strings.Join(s.weather.calls, ",")
	s.weather.mu.Unlock()
	if calls != "geo Paris,forecast 48.856600" {
		t.Errorf("open-meteo calls = %s", calls)
	}

	s.model.mu.Lock()
	defer s.model.mu.Unlock()
	if len(s.model.summaries) != 1 || !strings.Contains(s.model.summaries[0], "Weather in Paris") {
		t.Errorf("summaries = %q", s.model.summaries)
	}
}

func TestProfileOverrideDisablesMusic(t *testing.T) {
	s := startStack(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "profile.json")
	override, _ := json.Marshal(map[string]any{
		"capabilities": map[string]bool{profile.PlayMusic: false},
		"persona":      map[string]string{"system_prompt": ""},
	})
	if err := os.WriteFile(path, override, 0o644); err != nil {
		t.Fatal(err)
	}

	c := client.New(s.url, "override")
	p, err := profile.Resolve(ctx, c, path)
	if err != nil {
		t.Fatal(err)
	}
	if p.Enabled(profile.PlayMusic) || !p.Enabled(profile.Weather) {
		t.Fatalf("merged profile = %+v", p.Capabilities)
	}

	tr, err := c.Generate(ctx, client.GenerateRequest{Message: "play blue train", Profile: p}, nil)
	if err != nil {
		t.Fatal(err)
	}
	// The disabled capability is dropped and the turn still answers.
	for _, ev := range tr.Audio() {
		if strings.HasPrefix(ev.Reference, orchestrator.MusicRoute) {
			t.Errorf("music played with the capability disabled: %+v", ev)
		}
	}
	if tr.Text() == "" {
		t.Error("empty reply")
	}
}

func TestConcurrentClients(t *testing.T) {
	s := startStack(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := client.New(s.url, "")
			if err := c.Connect(ctx); err != nil {
				errs <- err
				return
			}
			_, err := c.Generate(ctx, client.GenerateRequest{Message: "hello"}, nil)
			if err != nil && !errors.Is(err, client.ErrBusy) {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	if n := len(s.gw.Clients()); n != 4 {
		t.Errorf("clients = %d, want 4", n)
	}
}
