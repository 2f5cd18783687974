package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/assistant/internal/capability"
	"github.com/user/assistant/internal/capability/providers"
	"github.com/user/assistant/internal/config"
	ctxengine "github.com/user/assistant/internal/context"
	"github.com/user/assistant/internal/gateway"
	"github.com/user/assistant/internal/orchestrator"
	"github.com/user/assistant/internal/playback"
	"github.com/user/assistant/internal/playback/miniaudio"
	"github.com/user/assistant/internal/profile"
	"github.com/user/assistant/internal/scheduler"
	"github.com/user/assistant/internal/server"
	"github.com/user/assistant/internal/speech"
	"github.com/user/assistant/internal/speech/deepgram"
	"github.com/user/assistant/internal/telegram"
	"github.com/user/assistant/pkg/llm"
	"github.com/user/assistant/pkg/llm/openai"
)

const pidFile = "assistant.pid"

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the assistant server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, pidFile)
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

// openEngine opens the local audio device. Audio is optional: without a
// device the server still answers and streams music to clients instead.
func openEngine(cfg *config.Config) (*playback.Engine, func()) {
	if !cfg.Audio.Enabled {
		return nil, func() {}
	}
	opener, err := miniaudio.NewOpener()
	if err != nil {
		slog.Warn("audio playback disabled", "error", err)
		return nil, func() {}
	}
	engine := playback.NewEngine(opener, playback.Options{
		ChunkSize:    cfg.Audio.ChunkSize,
		QueueDepth:   cfg.Audio.QueueDepth,
		FetchTimeout: cfg.FetchTimeout(),
	})
	return engine, func() {
		engine.Shutdown()
		if err := opener.Close(); err != nil {
			slog.Warn("close audio backend", "error", err)
		}
	}
}

func buildRegistry(cfg *config.Config, catalog *providers.Catalog, engine *playback.Engine) *capability.Registry {
	timeout := cfg.FetchTimeout()
	registry := capability.NewRegistry()

	registry.Register(profile.Weather, providers.NewWeather(timeout))
	if cfg.Wolfram.AppID != "" {
		registry.Register(profile.Knowledge, providers.NewKnowledge(cfg.Wolfram.AppID, timeout))
	} else {
		slog.Warn("knowledge capability disabled (no wolfram app id)")
	}
	if cfg.Brave.APIKey != "" {
		registry.Register(profile.WebSearch, providers.NewSearch(cfg.Brave.APIKey, timeout))
	} else {
		slog.Warn("web search capability disabled (no brave api key)")
	}
	registry.Register(profile.PlayMusic, providers.NewPlayMusic(catalog))
	if engine != nil {
		registry.Register(profile.PlayMusic, providers.NewPauseMusic(engine))
		registry.Register(profile.PlayMusic, providers.NewResumeMusic(engine))
	}
	registry.Register(profile.DownloadAudio, providers.NewDownload(catalog.Dir, "", 0))
	return registry
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	musicDir := cfg.ResolvedMusicDir()
	if err := os.MkdirAll(musicDir, 0755); err != nil {
		return fmt.Errorf("create music dir: %w", err)
	}

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	model := llm.WithRetry(openai.New(&llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLMTimeout(),
	}), nil)

	prompts, err := ctxengine.New(cfg.LLM.Model, cfg.LLM.MaxContextTokens, cfg.LLM.OutputReserve)
	if err != nil {
		return fmt.Errorf("create context engine: %w", err)
	}

	catalog := &providers.Catalog{Dir: musicDir}
	engine, closeAudio := openEngine(cfg)
	registry := buildRegistry(cfg, catalog, engine)
	dispatcher := capability.NewDispatcher(registry, model, cfg.LLM.SummaryModel)

	store := speech.NewStore(0)
	orchOpts := orchestrator.Options{
		Model:      model,
		Dispatcher: dispatcher,
		Prompter:   prompts,
	}
	srvOpts := server.Options{Catalog: catalog}
	if engine != nil {
		orchOpts.Player = engine
		srvOpts.Player = engine
	}
	if cfg.Speech.Enabled && cfg.Speech.APIKey != "" {
		svc := speech.NewService(deepgram.New(deepgram.Config{
			APIKey: cfg.Speech.APIKey,
			Voice:  cfg.Speech.Voice,
		}), store)
		orchOpts.Speaker = svc
		srvOpts.Speech = svc
	}
	orch := orchestrator.New(orchOpts)

	gw := gateway.New(int64(cfg.MaxConcurrent), gateway.WithOnDisconnect(func(string) {
		if engine != nil {
			engine.Stop()
		}
	}))
	srvOpts.Generator = orch
	srvOpts.Gateway = gw
	srv := server.NewServer(srvOpts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chats := telegram.NewChats(orch, srv)
	gw.Queue.SetProcessor(chats.Process)
	gw.Start(ctx)

	sched := scheduler.New(
		scheduler.Job{Name: "speech-sweep", Schedule: "@every 1m", Run: func() {
			if n := store.Sweep(); n > 0 {
				slog.Debug("expired speech streams", "count", n)
			}
		}},
		scheduler.Job{Name: "client-prune", Schedule: "@every 10m", Run: func() {
			if n := gw.Prune(time.Hour); n > 0 {
				slog.Info("pruned idle clients", "count", n)
			}
		}},
	)
	if err := sched.Start(); err != nil {
		slog.Warn("scheduler started with errors", "error", err)
	}

	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, gw, chats)
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		go adapter.Start(ctx)
		slog.Info("telegram adapter started")
	}

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	slog.Info("assistant started",
		"listen", cfg.Listen,
		"data_dir", cfg.DataDir,
		"music_dir", musicDir,
		"max_concurrent", cfg.MaxConcurrent,
		"llm_model", cfg.LLM.Model,
		"capabilities", registry.Names(),
		"audio", engine != nil,
		"speech", srvOpts.Speech != nil,
		"pid_file", pidPath,
	)

	shutdown := func() {
		// Audio first so nothing keeps playing while requests drain.
		closeAudio()
		sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer scancel()
		if err := httpServer.Shutdown(sctx); err != nil {
			slog.Warn("http shutdown", "error", err)
		}
		cancel()
		gw.Stop()
		sched.Stop()
		store.Close()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case err := <-serveErr:
			shutdown()
			return fmt.Errorf("http server: %w", err)
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				slog.Info("received SIGHUP, restarting")
				execPath, err := os.Executable()
				if err != nil {
					slog.Error("failed to get executable path", "error", err)
					continue
				}
				shutdown()
				os.Remove(pidPath)
				if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
					return fmt.Errorf("re-exec: %w", err)
				}
			}
			slog.Info("shutting down", "signal", sig)
			shutdown()
			return nil
		}
	}
}
