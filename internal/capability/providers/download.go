package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/user/assistant/internal/capability"
)

// Download extracts the audio track of a video into the music directory
// using yt-dlp.
type Download struct {
	dir     string
	bin     string
	timeout time.Duration
}

// NewDownload creates the download capability. bin is the yt-dlp executable.
func NewDownload(dir, bin string, timeout time.Duration) *Download {
	if bin == "" {
		bin = "yt-dlp"
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Download{dir: dir, bin: bin, timeout: timeout}
}

type downloadArgs struct {
	URL string `json:"url" jsonschema:"description=The YouTube video URL"`
}

func (d *Download) Name() string { return "download_audio" }
func (d *Download) Description() string {
	return "Download audio from a YouTube video and save it to the music directory"
}
func (d *Download) Parameters() json.RawMessage { return capability.Schema[downloadArgs]() }

func (d *Download) Invoke(ctx context.Context, args json.RawMessage) (*capability.Output, error) {
	var a downloadArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("parse args: %w", err)
	}
	u, err := url.Parse(a.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("a http(s) url is required")
	}

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create music dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.bin,
		"--format", "bestaudio/best",
		"--extract-audio",
		"--audio-format", "mp3",
		"--audio-quality", "192K",
		"--embed-metadata",
		"--no-playlist",
		"--output", d.dir+"/%(title)s.%(ext)s",
		"--print", "after_move:title",
		a.URL,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return &capability.Output{
			Text: fmt.Sprintf("Error downloading audio: %v: %s", err, strings.TrimSpace(string(output))),
		}, nil
	}

	title := lastLine(string(output))
	if title == "" {
		title = a.URL
	}
	return &capability.Output{Text: "Successfully downloaded: " + title}, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
