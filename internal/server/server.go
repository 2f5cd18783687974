// Package server exposes turns, profiles, and audio over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/user/assistant/internal/gateway"
	"github.com/user/assistant/internal/orchestrator"
	"github.com/user/assistant/internal/playback"
	"github.com/user/assistant/internal/profile"
	"github.com/user/assistant/internal/stream"
	"github.com/user/assistant/pkg/llm"
)

// ClientIDHeader identifies the client submitting a turn.
const ClientIDHeader = "X-Client-ID"

// Generator runs one turn.
type Generator interface {
	Run(ctx context.Context, turn *orchestrator.Turn, p *profile.Profile, message string, emit orchestrator.Emitter) error
}

// Catalog resolves music names to files.
type Catalog interface {
	List() []string
	Find(name string) (file, path string, ok bool)
}

// SpeechStore hands out synthesized replies by id.
type SpeechStore interface {
	Open(id string) (io.ReadCloser, bool)
	ContentType() string
}

// Player is the co-located audio engine.
type Player interface {
	Stop()
	State() playback.State
}

// Options wires a Server. Speech and Player are optional.
type Options struct {
	Generator Generator
	Gateway   *gateway.Gateway
	Catalog   Catalog
	Speech    SpeechStore
	Player    Player
	Now       func() time.Time
}

// Server is the HTTP surface of the assistant.
type Server struct {
	gen     Generator
	gw      *gateway.Gateway
	catalog Catalog
	speech  SpeechStore
	player  Player
	now     func() time.Time
	mux     *http.ServeMux
}

// NewServer creates a Server and registers its routes.
func NewServer(opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{
		gen:     opts.Generator,
		gw:      opts.Gateway,
		catalog: opts.Catalog,
		speech:  opts.Speech,
		player:  opts.Player,
		now:     opts.Now,
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /generate", s.handleGenerate)
	s.mux.HandleFunc("GET /default_profile", s.handleDefaultProfile)
	s.mux.HandleFunc("GET /audio/music/{name}", s.handleMusic)
	s.mux.HandleFunc("GET /audio/speech/{id}", s.handleSpeech)
	s.mux.HandleFunc("POST /connect", s.handleConnect)
	s.mux.HandleFunc("POST /disconnect", s.handleDisconnect)
	s.mux.HandleFunc("POST /stop_audio", s.handleStopAudio)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Handler returns the server wrapped with request tracing.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s, "assistant",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// DefaultProfile builds the canonical profile from the current catalog.
func (s *Server) DefaultProfile(context.Context) (*profile.Profile, error) {
	var songs []string
	if s.catalog != nil {
		songs = s.catalog.List()
	}
	return profile.Default(songs, s.now()), nil
}

// audioTypes covers extensions missing from the builtin mime table.
var audioTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".m4a":  "audio/mp4",
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok", "clients": len(s.gw.Clients())}
	if s.player != nil {
		resp["audio"] = s.player.State().String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// generateRequest is the JSON body for POST /generate.
type generateRequest struct {
	Message      string           `json:"message"`
	Conversation []llm.Message    `json:"conversation"`
	Profile      *profile.Profile `json:"profile,omitempty"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	def, _ := s.DefaultProfile(r.Context())
	p, err := profile.Merge(def, req.Profile)
	if err != nil {
		slog.Error("merge profile", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	clientID := r.Header.Get(ClientIDHeader)
	err = s.gw.Handle(r.Context(), clientID, req.Message, func(ctx context.Context, run *gateway.Run) error {
		w.Header().Set("Content-Type", stream.ContentType)
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("X-Run-ID", run.ID)
		w.WriteHeader(http.StatusOK)

		enc := stream.NewEncoder(w)
		turn := orchestrator.NewTurn(req.Conversation)
		return s.gen.Run(ctx, turn, p, req.Message, enc.Encode)
	})
	switch {
	case errors.Is(err, gateway.ErrBusy):
		writeError(w, http.StatusTooManyRequests, "too many requests in flight")
	case errors.Is(err, gateway.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
	case err != nil:
		// The stream is already open; the turn reported its own failure.
		slog.Warn("turn ended with error", "client_id", clientID, "error", err)
	}
}

func (s *Server) handleDefaultProfile(w http.ResponseWriter, r *http.Request) {
	p, _ := s.DefaultProfile(r.Context())
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleMusic(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if s.catalog == nil || name == "" {
		writeError(w, http.StatusNotFound, "Song not found")
		return
	}
	file, path, ok := s.catalog.Find(name)
	if !ok {
		writeError(w, http.StatusNotFound, "Song not found")
		return
	}
	f, err := os.Open(path)
	if err != nil {
		slog.Warn("open song", "path", path, "error", err)
		writeError(w, http.StatusNotFound, "Song not found")
		return
	}
	defer f.Close()

	ct := audioTypes[strings.ToLower(filepath.Ext(file))]
	if ct == "" {
		ct = mime.TypeByExtension(filepath.Ext(file))
	}
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	if _, err := copyFlush(w, f); err != nil {
		slog.Debug("stream song", "file", file, "error", err)
	}
}

func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	if s.speech == nil {
		writeError(w, http.StatusNotFound, "Audio not found")
		return
	}
	rc, ok := s.speech.Open(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Audio not found")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", s.speech.ContentType())
	if _, err := copyFlush(w, rc); err != nil {
		slog.Warn("stream speech", "error", err)
	}
}

// clientRequest is the optional JSON body for /connect and /disconnect.
type clientRequest struct {
	ClientID string `json:"client_id"`
}

func readClientID(r *http.Request) string {
	if id := r.Header.Get(ClientIDHeader); id != "" {
		return id
	}
	var req clientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return ""
	}
	return req.ClientID
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	c := s.gw.Connect(readClientID(r))
	writeJSON(w, http.StatusOK, map[string]string{"status": "connected", "client_id": c.ID})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.gw.Disconnect(readClientID(r))
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

func (s *Server) handleStopAudio(w http.ResponseWriter, r *http.Request) {
	if s.player != nil {
		s.player.Stop()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// copyFlush copies src to w, flushing after every read so audio reaches the
// client as it is produced.
func copyFlush(w http.ResponseWriter, src io.Reader) (int64, error) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	var n int64
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := w.Write(buf[:nr])
			n += int64(nw)
			if werr != nil {
				return n, werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if errors.Is(rerr, io.EOF) {
			return n, nil
		}
		if rerr != nil {
			return n, rerr
		}
	}
}
