// Package profile holds the capability gating and persona that shape a turn.
//
// A Profile is resolved once per chat session and treated as read-only
// afterwards. Capability keys that are absent from the map read as enabled.
package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jinzhu/copier"
)

// Capability keys. play_music also gates the pause and resume controls.
const (
	Weather       = "weather"
	Knowledge     = "knowledge"
	WebSearch     = "web_search"
	PlayMusic     = "play_music"
	DownloadAudio = "download_audio"
)

// Keys lists every capability key the server knows about, in display order.
var Keys = []string{Weather, Knowledge, WebSearch, PlayMusic, DownloadAudio}

// ErrInvalid is returned when a profile document is structurally wrong.
var ErrInvalid = errors.New("invalid profile")

// Profile is the capability enablement set plus persona text.
type Profile struct {
	Capabilities map[string]bool `json:"capabilities"`
	Persona      Persona         `json:"persona"`
}

// Persona carries the system prompt used for every turn.
type Persona struct {
	SystemPrompt string `json:"system_prompt"`
}

// Enabled reports whether capability key may be used. A nil profile or a
// missing key means enabled.
func (p *Profile) Enabled(key string) bool {
	if p == nil {
		return true
	}
	v, ok := p.Capabilities[key]
	return !ok || v
}

// EnabledKeys returns the enabled and disabled capability keys, sorted.
func (p *Profile) EnabledKeys() (enabled, disabled []string) {
	for k, v := range p.Capabilities {
		if v {
			enabled = append(enabled, k)
		} else {
			disabled = append(disabled, k)
		}
	}
	sort.Strings(enabled)
	sort.Strings(disabled)
	return enabled, disabled
}

// Default builds the canonical profile. catalog is the music directory
// listing, which the persona mentions so the model can pick valid songs.
func Default(catalog []string, now time.Time) *Profile {
	caps := make(map[string]bool, len(Keys))
	for _, k := range Keys {
		caps[k] = true
	}

	music := "The user's music directory is empty or not found."
	if len(catalog) > 0 {
		music = "The user's music directory contains the following files: " + strings.Join(catalog, ", ")
	}

	prompt := fmt.Sprintf(`You are a helpful assistant with access to various data sources and computational capabilities. You can provide information on a wide range of topics, perform calculations, and even download audio from YouTube videos. Always strive to give accurate and up-to-date information. The current time is %s and the date is %s.

%s

You can play songs from this list when asked. If a user asks to play a song, use the play_music function with the song name. If a user wants to download a song from YouTube, use the download_audio function with the video URL. If your response is longer than three sentences, use markdown formatting, and start it with a hashtag.`,
		now.Format("03:04 PM"), now.Format("Monday, January 02, 2006"), music)

	return &Profile{
		Capabilities: caps,
		Persona:      Persona{SystemPrompt: prompt},
	}
}

// Merge overlays override onto a deep copy of def. Overrides may add keys or
// flip values but never remove a key, and an empty system prompt keeps the
// default one. Neither input is modified.
func Merge(def, override *Profile) (*Profile, error) {
	out := &Profile{}
	if def != nil {
		if err := copier.CopyWithOption(out, def, copier.Option{DeepCopy: true}); err != nil {
			return nil, fmt.Errorf("copy default profile: %w", err)
		}
	}
	if out.Capabilities == nil {
		out.Capabilities = make(map[string]bool)
	}
	if override == nil {
		return out, nil
	}
	for k, v := range override.Capabilities {
		out.Capabilities[k] = v
	}
	if strings.TrimSpace(override.Persona.SystemPrompt) != "" {
		out.Persona.SystemPrompt = override.Persona.SystemPrompt
	}
	return out, nil
}

// Parse decodes and validates a profile document. Both top-level sections
// must be present.
func Parse(data []byte) (*Profile, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, ok := raw["capabilities"]; !ok {
		return nil, fmt.Errorf("%w: missing capabilities section", ErrInvalid)
	}
	personaRaw, ok := raw["persona"]
	if !ok {
		return nil, fmt.Errorf("%w: missing persona section", ErrInvalid)
	}
	var persona map[string]json.RawMessage
	if err := json.Unmarshal(personaRaw, &persona); err != nil {
		return nil, fmt.Errorf("%w: persona must be an object", ErrInvalid)
	}
	if _, ok := persona["system_prompt"]; !ok {
		return nil, fmt.Errorf("%w: persona is missing system_prompt", ErrInvalid)
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return &p, nil
}

// Load reads and validates a profile file.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	return Parse(data)
}
