package profile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestEnabledDefaultsToTrue(t *testing.T) {
	p := &Profile{Capabilities: map[string]bool{Weather: false}}
	if p.Enabled(Weather) {
		t.Error("expected weather disabled")
	}
	if !p.Enabled(WebSearch) {
		t.Error("expected missing key to read as enabled")
	}
	var nilProfile *Profile
	if !nilProfile.Enabled(Weather) {
		t.Error("expected nil profile to enable everything")
	}
}

func TestDefaultListsCatalog(t *testing.T) {
	now := time.Date(2026, 3, 14, 15, 9, 0, 0, time.UTC)
	p := Default([]string{"song.mp3", "other.wav"}, now)

	for _, k := range Keys {
		if !p.Capabilities[k] {
			t.Errorf("expected %s enabled in default", k)
		}
	}
	if !strings.Contains(p.Persona.SystemPrompt, "song.mp3, other.wav") {
		t.Errorf("expected catalog in prompt, got %q", p.Persona.SystemPrompt)
	}
	if !strings.Contains(p.Persona.SystemPrompt, "03:09 PM") {
		t.Errorf("expected time in prompt, got %q", p.Persona.SystemPrompt)
	}

	empty := Default(nil, now)
	if !strings.Contains(empty.Persona.SystemPrompt, "empty or not found") {
		t.Errorf("expected empty catalog notice, got %q", empty.Persona.SystemPrompt)
	}
}

func TestMergeNeverDeletes(t *testing.T) {
	def := &Profile{
		Capabilities: map[string]bool{Weather: true, WebSearch: true},
		Persona:      Persona{SystemPrompt: "default prompt"},
	}
	override := &Profile{
		Capabilities: map[string]bool{Weather: false, "custom": true},
	}

	merged, err := Merge(def, override)
	if err != nil {
		t.Fatal(err)
	}
	if merged.Capabilities[Weather] {
		t.Error("expected weather flipped off")
	}
	if !merged.Capabilities[WebSearch] {
		t.Error("expected web_search kept from default")
	}
	if !merged.Capabilities["custom"] {
		t.Error("expected added key")
	}
	if merged.Persona.SystemPrompt != "default prompt" {
		t.Errorf("expected default prompt kept, got %q", merged.Persona.SystemPrompt)
	}

	// The default must not be touched by the merge.
	if !def.Capabilities[Weather] {
		t.Error("merge mutated the default profile")
	}
	if _, ok := def.Capabilities["custom"]; ok {
		t.Error("merge leaked keys into the default profile")
	}
}

func TestMergeOverridesPrompt(t *testing.T) {
	def := &Profile{Capabilities: map[string]bool{}, Persona: Persona{SystemPrompt: "a"}}
	merged, err := Merge(def, &Profile{Persona: Persona{SystemPrompt: "b"}})
	if err != nil {
		t.Fatal(err)
	}
	if merged.Persona.SystemPrompt != "b" {
		t.Errorf("expected override prompt, got %q", merged.Persona.SystemPrompt)
	}
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		ok   bool
	}{
		{"valid", `{"capabilities":{"weather":false},"persona":{"system_prompt":"hi"}}`, true},
		{"missing capabilities", `{"persona":{"system_prompt":"hi"}}`, false},
		{"missing persona", `{"capabilities":{}}`, false},
		{"missing prompt", `{"capabilities":{},"persona":{}}`, false},
		{"not an object", `[1,2]`, false},
		{"bad json", `{`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

type staticSource struct {
	p   *Profile
	err error
}

func (s staticSource) DefaultProfile(context.Context) (*Profile, error) { return s.p, s.err }

func TestResolve(t *testing.T) {
	def := &Profile{
		Capabilities: map[string]bool{Weather: true},
		Persona:      Persona{SystemPrompt: "default"},
	}
	dir := t.TempDir()

	good := filepath.Join(dir, "good.json")
	os.WriteFile(good, []byte(`{"capabilities":{"weather":false},"persona":{"system_prompt":""}}`), 0o644)
	p, err := Resolve(context.Background(), staticSource{p: def}, good)
	if err != nil {
		t.Fatal(err)
	}
	if p.Enabled(Weather) {
		t.Error("expected override applied")
	}
	if p.Persona.SystemPrompt != "default" {
		t.Errorf("expected default prompt kept, got %q", p.Persona.SystemPrompt)
	}

	bad := filepath.Join(dir, "bad.json")
	os.WriteFile(bad, []byte(`{"capabilities":{}}`), 0o644)
	p, err = Resolve(context.Background(), staticSource{p: def}, bad)
	if err != nil {
		t.Fatal(err)
	}
	if !p.Enabled(Weather) {
		t.Error("expected fallback to default on invalid override")
	}

	p, err = Resolve(context.Background(), staticSource{p: def}, filepath.Join(dir, "missing.json"))
	if err != nil || p == nil {
		t.Fatalf("expected fallback on missing file, got %v", err)
	}

	if _, err := Resolve(context.Background(), staticSource{err: errors.New("down")}, ""); err == nil {
		t.Error("expected error when default cannot be fetched")
	}
}
