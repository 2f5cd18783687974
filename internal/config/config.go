// Package config loads and edits the JSON configuration file shared by the
// server and the chat client.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the on-disk configuration. Fields tagged secret are masked when
// listed.
type Config struct {
	DataDir       string `json:"data_dir"`
	LogLevel      string `json:"log_level" env:"ASSISTANT_LOG_LEVEL"`
	Listen        string `json:"listen" env:"ASSISTANT_LISTEN"`
	ServerURL     string `json:"server_url" env:"ASSISTANT_SERVER_URL"`
	MaxConcurrent int    `json:"max_concurrent"`
	MusicDir      string `json:"music_dir" env:"ASSISTANT_MUSIC_DIR"`
	LLM           struct {
		BaseURL          string  `json:"base_url" env:"OPENAI_BASE_URL"`
		APIKey           string  `json:"api_key" env:"OPENAI_API_KEY" secret:"true"`
		Model            string  `json:"model"`
		SummaryModel     string  `json:"summary_model"`
		MaxTokens        int     `json:"max_tokens"`
		Temperature      float32 `json:"temperature"`
		MaxContextTokens int     `json:"max_context_tokens"`
		OutputReserve    int     `json:"output_reserve"`
		TimeoutSeconds   int     `json:"timeout_seconds"`
	} `json:"llm"`
	Brave struct {
		APIKey string `json:"api_key" env:"BRAVE_API_KEY" secret:"true"`
	} `json:"brave"`
	Wolfram struct {
		AppID string `json:"app_id" env:"WOLFRAM_APP_ID" secret:"true"`
	} `json:"wolfram"`
	Speech struct {
		Enabled bool   `json:"enabled"`
		APIKey  string `json:"api_key" env:"DEEPGRAM_API_KEY" secret:"true"`
		Voice   string `json:"voice"`
	} `json:"speech"`
	Audio struct {
		Enabled             bool `json:"enabled"`
		ChunkSize           int  `json:"chunk_size"`
		QueueDepth          int  `json:"queue_depth"`
		FetchTimeoutSeconds int  `json:"fetch_timeout_seconds"`
	} `json:"audio"`
	Telegram struct {
		Token string `json:"token" env:"TELEGRAM_BOT_TOKEN" secret:"true"`
	} `json:"telegram"`
}

// Defaults returns the configuration used for keys the file leaves out.
func Defaults() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".assistant"),
		MaxConcurrent: 2,
	}
	cfg.LogLevel = "info"
	cfg.Listen = "127.0.0.1:5000"
	cfg.ServerURL = "http://127.0.0.1:5000"
	cfg.MusicDir = "music"
	cfg.LLM.BaseURL = "https://api.openai.com/v1"
	cfg.LLM.Model = "gpt-4o-mini"
	cfg.LLM.SummaryModel = "gpt-4o-mini"
	cfg.LLM.MaxTokens = 2000
	cfg.LLM.Temperature = 0.7
	cfg.LLM.MaxContextTokens = 128000
	cfg.LLM.OutputReserve = 4096
	cfg.LLM.TimeoutSeconds = 60
	cfg.Audio.Enabled = true
	cfg.Audio.ChunkSize = 4096
	cfg.Audio.QueueDepth = 16
	cfg.Audio.FetchTimeoutSeconds = 30
	return cfg
}

// LLMTimeout is the model request timeout.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

// FetchTimeout bounds the wait for an audio source to start answering.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Audio.FetchTimeoutSeconds) * time.Second
}

// ResolvedMusicDir is MusicDir, made absolute against DataDir when relative.
func (c *Config) ResolvedMusicDir() string {
	if c.MusicDir == "" || filepath.IsAbs(c.MusicDir) {
		return c.MusicDir
	}
	return filepath.Join(c.DataDir, c.MusicDir)
}

// Load reads the config at path over the defaults, writing the defaults
// there first if the file does not exist. Environment variables take
// precedence over the file.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg to its generic JSON form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns cfg as dotted keys, with secrets masked when mask is set.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue returns the value stored under a dotted key in the file at
// path. Keys unknown to Config are readable too.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	m, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(m)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue stores value under a dotted key in the existing file at path.
// Values that parse as JSON (numbers, booleans) are stored typed; anything
// else is stored as a string.
func SetValue(path, key, value string) error {
	m, err := readRaw(path)
	if err != nil {
		return err
	}
	flat := Flatten(m)

	var v any
	if err := json.Unmarshal([]byte(value), &v); err != nil || isContainer(v) {
		v = value
	}
	flat[strings.TrimSpace(key)] = v

	data, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return m, nil
}

func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}
