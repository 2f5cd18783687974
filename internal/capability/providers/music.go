package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/user/assistant/internal/capability"
	"github.com/user/assistant/internal/playback"
)

// Catalog enumerates the files of the music directory.
type Catalog struct {
	Dir string
}

// List returns the file names in the music directory, sorted. A missing
// directory is an empty catalog.
func (c *Catalog) List() []string {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out
}

// Find resolves name case-insensitively against the catalog. The extension
// may be omitted. It returns the file name and its full path.
func (c *Catalog) Find(name string) (string, string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "", false
	}
	files := c.List()
	for _, f := range files {
		if strings.EqualFold(f, name) {
			return f, filepath.Join(c.Dir, f), true
		}
	}
	for _, f := range files {
		if strings.EqualFold(strings.TrimSuffix(f, filepath.Ext(f)), name) {
			return f, filepath.Join(c.Dir, f), true
		}
	}
	return "", "", false
}

// Player is the playback control surface the pause and resume capabilities drive.
type Player interface {
	Pause() error
	Resume() error
	State() playback.State
}

// PlayMusic resolves a song against the catalog. It does not start playback
// itself; the returned reference is handed to the audio engine by the caller.
type PlayMusic struct {
	catalog *Catalog
}

// NewPlayMusic creates the play capability.
func NewPlayMusic(catalog *Catalog) *PlayMusic {
	return &PlayMusic{catalog: catalog}
}

type playArgs struct {
	SongName string `json:"song_name" jsonschema:"description=The name of the song to play"`
}

func (p *PlayMusic) Name() string                { return "play_music" }
func (p *PlayMusic) Description() string         { return "Play a song from the user's music directory" }
func (p *PlayMusic) Parameters() json.RawMessage { return capability.Schema[playArgs]() }

func (p *PlayMusic) Invoke(_ context.Context, args json.RawMessage) (*capability.Output, error) {
	var a playArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("parse args: %w", err)
	}
	file, path, ok := p.catalog.Find(a.SongName)
	if !ok {
		return nil, &capability.NotFoundError{
			Message: fmt.Sprintf("Song '%s' not found in the music directory.", a.SongName),
		}
	}
	return &capability.Output{Text: "Now playing: " + file, Reference: path}, nil
}

type noArgs struct{}

// PauseMusic pauses the current track.
type PauseMusic struct {
	player Player
}

// NewPauseMusic creates the pause capability.
func NewPauseMusic(player Player) *PauseMusic { return &PauseMusic{player: player} }

func (p *PauseMusic) Name() string                { return "pause_music" }
func (p *PauseMusic) Description() string         { return "Pause the currently playing music" }
func (p *PauseMusic) Parameters() json.RawMessage { return capability.Schema[noArgs]() }

func (p *PauseMusic) Invoke(context.Context, json.RawMessage) (*capability.Output, error) {
	switch p.player.State() {
	case playback.StatePaused:
		return &capability.Output{Text: "Music is already paused."}, nil
	case playback.StatePlaying, playback.StateFetching:
		if err := p.player.Pause(); err != nil {
			if errors.Is(err, playback.ErrNotPlaying) {
				return &capability.Output{Text: "No music is currently playing."}, nil
			}
			return nil, err
		}
		return &capability.Output{Text: "Music paused."}, nil
	default:
		return &capability.Output{Text: "No music is currently playing."}, nil
	}
}

// ResumeMusic resumes a paused track.
type ResumeMusic struct {
	player Player
}

// NewResumeMusic creates the resume capability.
func NewResumeMusic(player Player) *ResumeMusic { return &ResumeMusic{player: player} }

func (r *ResumeMusic) Name() string                { return "resume_music" }
func (r *ResumeMusic) Description() string         { return "Resume paused music" }
func (r *ResumeMusic) Parameters() json.RawMessage { return capability.Schema[noArgs]() }

func (r *ResumeMusic) Invoke(context.Context, json.RawMessage) (*capability.Output, error) {
	switch r.player.State() {
	case playback.StatePlaying, playback.StateFetching:
		return &capability.Output{Text: "Music is already playing."}, nil
	case playback.StatePaused:
		if err := r.player.Resume(); err != nil {
			if errors.Is(err, playback.ErrNotPlaying) {
				return &capability.Output{Text: "No music is currently playing."}, nil
			}
			return nil, err
		}
		return &capability.Output{Text: "Music resumed."}, nil
	default:
		return &capability.Output{Text: "No music is currently playing."}, nil
	}
}
