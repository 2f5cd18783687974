// Package orchestrator runs one generation: it asks the primary model for a
// reply, honours at most one capability call, folds the result into the
// reply, and emits the turn as stream events.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/user/assistant/internal/capability"
	ctxengine "github.com/user/assistant/internal/context"
	"github.com/user/assistant/internal/playback"
	"github.com/user/assistant/internal/profile"
	"github.com/user/assistant/internal/stream"
	"github.com/user/assistant/pkg/llm"
)

// NoResponse is the reply used when the model produced nothing usable.
const NoResponse = "No response generated."

// MusicRoute is the path prefix the server streams catalog files under.
const MusicRoute = "/audio/music/"

// SpeechRoute is the path prefix synthesized replies are served under.
const SpeechRoute = "/audio/speech/"

// Emitter delivers one event to the client.
type Emitter func(stream.Event) error

// Prompter assembles the message list for the model.
type Prompter interface {
	BuildPrompt(system string, history []llm.Message, user llm.Message) []llm.Message
}

// Player starts audio next to the server.
type Player interface {
	Start(ctx context.Context, src playback.Source) (*playback.Session, error)
}

// Speaker synthesizes text and returns the id it can be fetched under.
type Speaker interface {
	Speak(ctx context.Context, text string) (string, error)
}

// Options configure an Orchestrator. Player and Speaker are optional.
type Options struct {
	Model      llm.Provider
	Dispatcher *capability.Dispatcher
	Prompter   Prompter
	Player     Player
	Speaker    Speaker
	Now        func() time.Time
}

// Orchestrator drives turns. It holds no per-turn state and is safe for
// concurrent use.
type Orchestrator struct {
	model      llm.Provider
	dispatcher *capability.Dispatcher
	prompter   Prompter
	player     Player
	speaker    Speaker
	now        func() time.Time
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		model:      opts.Model,
		dispatcher: opts.Dispatcher,
		prompter:   opts.Prompter,
		player:     opts.Player,
		speaker:    opts.Speaker,
		now:        opts.Now,
	}
}

// reply is the assistant message being composed.
type reply struct {
	text  []string
	audio *stream.Event
}

func (r *reply) add(ev stream.Event) {
	switch ev.Type {
	case stream.TypeContent:
		r.text = append(r.text, ev.Text)
	case stream.TypeSearchEnd:
		r.text = append(r.text, ev.Summary)
	}
}

func (r *reply) String() string { return strings.Join(r.text, "") }

// Run generates the reply to message. On success the user message and the
// composed assistant message are appended to turn and the events emitted
// spell out exactly that assistant message. A model failure emits a single
// error event and leaves turn untouched.
func (o *Orchestrator) Run(ctx context.Context, turn *Turn, p *profile.Profile, message string, emit Emitter) error {
	ctx, span := tracer.Start(ctx, "generate turn")
	defer span.End()

	state := AwaitingModel
	fail := func(err error, msg string) error {
		slog.Error("turn failed", "state", state.String(), "error", err)
		state = Failed
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		if emitErr := emit(stream.Error(msg)); emitErr != nil {
			slog.Warn("emit error event", "error", emitErr)
		}
		return err
	}

	user := llm.Message{Role: llm.RoleUser, Content: message}
	system := ctxengine.SystemPrompt(p.Persona.SystemPrompt, o.now())
	messages := o.prompter.BuildPrompt(system, turn.Messages(), user)

	tools := o.dispatcher.Manifest(p)
	choice := llm.ToolChoiceNone
	if len(tools) > 0 {
		choice = llm.ToolChoiceAuto
	}
	span.SetAttributes(
		attribute.Int("turn.messages", len(messages)),
		attribute.Int("turn.tools", len(tools)),
	)

	resp, err := o.model.Complete(ctx, messages, tools, llm.WithToolChoice(choice))
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrTransport, err), transportMessage)
	}
	state = Decided

	freeText := resp.Content
	var res *capability.Result
	var summarized bool
	var out reply

	tc, ok := selectCall(resp.ToolCalls)
	if len(resp.ToolCalls) > 1 {
		slog.Warn("model requested several capabilities, honouring the first", "count", len(resp.ToolCalls))
	}
	if ok {
		args := json.RawMessage(tc.Function.Arguments)
		if strings.TrimSpace(tc.Function.Arguments) == "" {
			args = json.RawMessage(`{}`)
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(args, &obj); err != nil {
			return fail(fmt.Errorf("%w: arguments for %s: %v", ErrMalformedDecision, tc.Function.Name, err), malformedMessage)
		}

		call := capability.Call{Name: tc.Function.Name, Arguments: args, Query: message}
		prov, err := o.dispatcher.Resolve(call, p)
		switch {
		case errors.Is(err, capability.ErrUnknownCapability), errors.Is(err, capability.ErrDisabled):
			slog.Info("dropping capability call", "capability", call.Name, "reason", err)
			state = Idle
		case err != nil:
			return fail(err, malformedMessage)
		default:
			state = Invoking
			span.SetAttributes(attribute.String("turn.capability", call.Name))
			if sp, ok := prov.(capability.Summarized); ok {
				summarized = true
				if err := emitAll(emit, &out, stream.SearchStart(sp.Query(args))); err != nil {
					return err
				}
			}
			res, err = o.dispatcher.Dispatch(ctx, call, p)
			if err != nil {
				return fail(err, malformedMessage)
			}
			if summarized {
				state = Summarizing
			}
		}
	}

	state = Composing
	if res != nil && res.Reference != "" && res.Status == capability.StatusOK {
		o.startMusic(ctx, res, &out)
	}

	var events []stream.Event
	switch {
	case res != nil:
		if freeText != "" {
			events = append(events, stream.Content(freeText))
		}
		if summarized {
			events = append(events, stream.Content("\n\n"), stream.SearchEnd(res.Summary))
		} else {
			events = append(events, stream.Content("\n\n"+res.Summary))
		}
	case strings.TrimSpace(freeText) == "":
		events = append(events, stream.Content(NoResponse))
	default:
		events = append(events, stream.Content(freeText))
	}

	state = Emitting
	if err := emitAll(emit, &out, events...); err != nil {
		return err
	}

	if out.audio == nil {
		o.speak(ctx, out.String(), &out)
	}
	if out.audio != nil {
		if err := emitAll(emit, nil, *out.audio); err != nil {
			return err
		}
	}

	turn.Append(user, llm.Message{Role: llm.RoleAssistant, Content: out.String()})
	state = Done
	span.SetAttributes(attribute.String("turn.state", state.String()))
	return nil
}

// startMusic hands the reference to the co-located player, or points the
// client at the server's music route when there is none.
func (o *Orchestrator) startMusic(ctx context.Context, res *capability.Result, out *reply) {
	if o.player == nil {
		ev := stream.Audio(MusicRoute+url.PathEscape(filepath.Base(res.Reference)), stream.KindStream)
		out.audio = &ev
		return
	}
	if _, err := o.player.Start(ctx, playback.Source{Path: res.Reference}); err != nil {
		slog.Warn("start music", "path", res.Reference, "error", err)
		res.Status = capability.StatusFailed
		res.Err = err
		res.Summary = fmt.Sprintf("Couldn't play %s.", filepath.Base(res.Reference))
		return
	}
	ev := stream.Audio(res.Reference, stream.KindFile)
	out.audio = &ev
}

func (o *Orchestrator) speak(ctx context.Context, text string, out *reply) {
	if o.speaker == nil || strings.TrimSpace(text) == "" {
		return
	}
	id, err := o.speaker.Speak(ctx, text)
	if err != nil {
		slog.Warn("synthesize reply", "error", err)
		return
	}
	ev := stream.Audio(SpeechRoute+id, stream.KindStream)
	out.audio = &ev
}

func emitAll(emit Emitter, out *reply, events ...stream.Event) error {
	for _, ev := range events {
		if err := emit(ev); err != nil {
			return fmt.Errorf("%w %s: %w", ErrEmit, ev.Type, err)
		}
		if out != nil {
			out.add(ev)
		}
	}
	return nil
}
