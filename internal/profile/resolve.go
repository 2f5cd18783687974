package profile

import (
	"context"
	"fmt"
	"log/slog"
)

// Source supplies the server's canonical default profile.
type Source interface {
	DefaultProfile(ctx context.Context) (*Profile, error)
}

// Resolve fetches the default profile from src and merges the override file
// at overridePath, if any. A missing or invalid override is logged and the
// default is used, so a bad file never blocks a session.
func Resolve(ctx context.Context, src Source, overridePath string) (*Profile, error) {
	def, err := src.DefaultProfile(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch default profile: %w", err)
	}
	if overridePath == "" {
		return Merge(def, nil)
	}

	override, err := Load(overridePath)
	if err != nil {
		slog.Warn("using default profile", "path", overridePath, "error", err)
		return Merge(def, nil)
	}
	return Merge(def, override)
}
