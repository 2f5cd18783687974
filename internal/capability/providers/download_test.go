package providers

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func fakeDownloader(t *testing.T, script string) string {
	t.Helper()
	bin := filepath.Join(t.TempDir(), "yt-dlp")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return bin
}

func TestDownloadInvoke(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "music")
	d := NewDownload(dir, fakeDownloader(t, `echo "[download] working"; echo "Some Title"`), 5*time.Second)

	out, err := d.Invoke(context.Background(), json.RawMessage(`{"url":"https://www.youtube.com/watch?v=abc"}`))
	if err != nil {
		t.Fatal(err)
	}
	if out.Text != "Successfully downloaded: Some Title" {
		t.Errorf("unexpected output %q", out.Text)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("expected music dir to be created: %v", err)
	}
}

func TestDownloadFailure(t *testing.T) {
	d := NewDownload(t.TempDir(), fakeDownloader(t, `echo "ERROR: unavailable" >&2; exit 1`), 5*time.Second)

	out, err := d.Invoke(context.Background(), json.RawMessage(`{"url":"https://example.com/v"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.Text, "Error downloading audio:") || !strings.Contains(out.Text, "unavailable") {
		t.Errorf("unexpected output %q", out.Text)
	}
}

func TestDownloadRejectsBadURL(t *testing.T) {
	d := NewDownload(t.TempDir(), "", time.Second)
	if _, err := d.Invoke(context.Background(), json.RawMessage(`{"url":"file:///etc/passwd"}`)); err == nil {
		t.Fatal("expected error for non-http url")
	}
}
