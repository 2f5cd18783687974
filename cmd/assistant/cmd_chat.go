package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/user/assistant/internal/client"
	"github.com/user/assistant/internal/config"
	"github.com/user/assistant/internal/playback"
	"github.com/user/assistant/internal/playback/miniaudio"
	"github.com/user/assistant/internal/profile"
	"github.com/user/assistant/internal/stream"
	"github.com/user/assistant/pkg/llm"
)

var (
	chatServer  string
	chatProfile string
	chatNoAudio bool
)

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatServer, "server", "", "server URL (default from config)")
	chatCmd.Flags().StringVar(&chatProfile, "profile", "", "profile override file")
	chatCmd.Flags().BoolVar(&chatNoAudio, "no-audio", false, "do not play spoken replies locally")
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with a running assistant server",
	Long: `Chat with a running assistant server. Type a message and press Enter.
"/stop" stops audio, "exit" or Ctrl-D leaves.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

// chatSession is one interactive client session.
type chatSession struct {
	client  *client.Client
	profile *profile.Profile
	engine  *playback.Engine
	history []llm.Message

	once      sync.Once
	closeDev  func()
	closeLine func() error
}

// shutdown stops local audio and tells the server we are leaving. It runs
// once however the session ends.
func (s *chatSession) shutdown() {
	s.once.Do(func() {
		if s.engine != nil {
			s.engine.Shutdown()
		}
		if s.closeDev != nil {
			s.closeDev()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.client.StopAudio(ctx); err != nil {
			slog.Debug("stop server audio", "error", err)
		}
		if err := s.client.Disconnect(ctx); err != nil {
			slog.Warn("disconnect", "error", err)
		}
		if s.closeLine != nil {
			s.closeLine()
		}
	})
}

// notifyShutdown returns a context cancelled by Ctrl-C or SIGTERM. Readline
// only sees Ctrl-C while it is reading a line; during a turn or while audio
// starts the terminal delivers SIGINT instead.
func notifyShutdown() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// shutdownOn runs shutdown as soon as ctx is done.
func (s *chatSession) shutdownOn(ctx context.Context) {
	go func() {
		<-ctx.Done()
		s.shutdown()
	}()
}

func openClientEngine(cfg *config.Config) (*playback.Engine, func()) {
	if chatNoAudio || !cfg.Audio.Enabled {
		return nil, nil
	}
	opener, err := miniaudio.NewOpener()
	if err != nil {
		slog.Warn("local audio disabled", "error", err)
		return nil, nil
	}
	engine := playback.NewEngine(opener, playback.Options{
		ChunkSize:    cfg.Audio.ChunkSize,
		QueueDepth:   cfg.Audio.QueueDepth,
		FetchTimeout: cfg.FetchTimeout(),
	})
	return engine, func() { opener.Close() }
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	url := chatServer
	if url == "" {
		url = cfg.ServerURL
	}

	ctx, stop := notifyShutdown()
	defer stop()

	s := &chatSession{client: client.New(url, "")}
	if err := s.client.Connect(ctx); err != nil {
		return fmt.Errorf("is the server running at %s? %w", url, err)
	}

	p, err := profile.Resolve(ctx, s.client, chatProfile)
	if err != nil {
		s.client.Disconnect(context.Background())
		return err
	}
	s.profile = p
	printProfileSummary(os.Stdout, p)
	fmt.Println()

	s.engine, s.closeDev = openClientEngine(cfg)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          promptText,
		HistoryFile:     filepath.Join(cfg.DataDir, "chat_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		s.shutdown()
		return fmt.Errorf("open terminal: %w", err)
	}
	s.closeLine = rl.Close
	defer s.shutdown()
	s.shutdownOn(ctx)

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}

		line = strings.TrimSpace(line)
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "/stop":
			s.stopAudio(ctx)
			continue
		}
		s.turn(ctx, line)
	}
}

func (s *chatSession) stopAudio(ctx context.Context) {
	if s.engine != nil {
		s.engine.Stop()
	}
	if err := s.client.StopAudio(ctx); err != nil {
		fmt.Println(renderError(err.Error(), readline.GetScreenWidth()))
	}
}

// turn submits one message and renders the reply. The conversation only
// grows when the turn succeeds.
func (s *chatSession) turn(ctx context.Context, message string) {
	cols := readline.GetScreenWidth()
	tr, err := s.client.Generate(ctx, client.GenerateRequest{
		Message:      message,
		Conversation: s.history,
		Profile:      s.profile,
	}, func(ev stream.Event, _ *stream.Transcript) {
		if ev.Type == stream.TypeSearchStart {
			fmt.Println(renderSearch(ev.Query))
		}
	})
	switch {
	case errors.Is(err, client.ErrBusy):
		fmt.Println(renderError("The assistant is busy. Try again in a moment.", cols))
		return
	case err != nil && tr != nil && tr.Err() != "":
		fmt.Println(renderError(tr.Err(), cols))
		return
	case err != nil:
		fmt.Println(renderError(err.Error(), cols))
		return
	}

	reply := tr.Text()
	fmt.Println(renderReply(reply, cols))
	s.history = append(s.history,
		llm.Message{Role: llm.RoleUser, Content: message},
		llm.Message{Role: llm.RoleAssistant, Content: reply},
	)
	for _, ev := range tr.Audio() {
		s.play(ctx, ev)
	}
}

func (s *chatSession) play(ctx context.Context, ev stream.Event) {
	if ev.Kind == stream.KindFile {
		fmt.Println(renderNote("♪ playing on the server"))
		return
	}
	if s.engine == nil {
		return
	}
	src, err := playback.ParseSource(ev.Reference, ev.Kind, s.client.BaseURL())
	if err != nil {
		slog.Warn("bad audio reference", "reference", ev.Reference, "error", err)
		return
	}
	sess, err := s.engine.Start(ctx, src)
	if err != nil {
		fmt.Println(renderError(fmt.Sprintf("Couldn't play audio: %v", err), readline.GetScreenWidth()))
		return
	}
	go reportPlayback(sess)
}

func reportPlayback(sess *playback.Session) {
	<-sess.Done()
	if err := sess.Err(); err != nil {
		slog.Warn("audio playback ended early", "session", sess.ID, "error", err)
	}
}
