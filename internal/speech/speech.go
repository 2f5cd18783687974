// Package speech turns replies into audio streams that clients fetch by id.
package speech

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/user/assistant/internal/playback"
)

// ErrEmpty is returned when there is nothing left to say after cleanup.
var ErrEmpty = errors.New("nothing to synthesize")

// Synthesizer produces raw PCM for text. The returned stream delivers audio
// as it is generated.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (io.ReadCloser, error)
	Format() playback.Format
}

// Service synthesizes replies into a Store.
type Service struct {
	synth Synthesizer
	store *Store
}

// NewService creates a speech service.
func NewService(synth Synthesizer, store *Store) *Service {
	return &Service{synth: synth, store: store}
}

// Speak starts synthesis of text and returns the id the audio is served
// under. Synthesis continues after ctx ends; the stream lives until it is
// opened or swept.
func (s *Service) Speak(ctx context.Context, text string) (string, error) {
	text = StripMarkdown(text)
	if text == "" {
		return "", ErrEmpty
	}
	r, err := s.synth.Synthesize(context.WithoutCancel(ctx), text)
	if err != nil {
		return "", fmt.Errorf("synthesize: %w", err)
	}
	return s.store.Put(r), nil
}

// Open claims the stream for id.
func (s *Service) Open(id string) (io.ReadCloser, bool) {
	return s.store.Open(id)
}

// ContentType is the media type of every stream the service produces.
func (s *Service) ContentType() string {
	return playback.PCMType(s.synth.Format())
}
