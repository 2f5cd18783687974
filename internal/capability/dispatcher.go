package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/user/assistant/internal/profile"
	"github.com/user/assistant/pkg/llm"
)

const summarySystemPrompt = "You are a helpful assistant that summarizes data in a clear, natural way."

// Call is one capability invocation requested by the model.
type Call struct {
	Name      string
	Arguments json.RawMessage
	// Query is the user message that led to the call.
	Query string
}

// Result is the outcome of a dispatched call. Raw is kept for logging and
// never sent to the client; Summary is the text folded into the reply.
type Result struct {
	Name       string
	Raw        string
	Summary    string
	Status     Status
	Reference  string
	Summarized bool
	Err        error
}

// Dispatcher resolves calls against the registry, enforces profile gating,
// runs the provider, and summarizes data results with a secondary model call.
type Dispatcher struct {
	registry     *Registry
	model        llm.Provider
	summaryModel string
}

// NewDispatcher creates a dispatcher. summaryModel may be empty to use the
// model client's default.
func NewDispatcher(registry *Registry, model llm.Provider, summaryModel string) *Dispatcher {
	return &Dispatcher{registry: registry, model: model, summaryModel: summaryModel}
}

// Manifest returns the tools enabled by p.
func (d *Dispatcher) Manifest(p *profile.Profile) []llm.Tool {
	return d.registry.Manifest(p)
}

// Resolve returns the provider for call, or ErrUnknownCapability or
// ErrDisabled.
func (d *Dispatcher) Resolve(call Call, p *profile.Profile) (Provider, error) {
	prov, key, ok := d.registry.Get(call.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCapability, call.Name)
	}
	if !p.Enabled(key) {
		return nil, fmt.Errorf("%w: %s", ErrDisabled, call.Name)
	}
	return prov, nil
}

// Dispatch runs one call to completion, including summarization. The only
// errors returned are ErrUnknownCapability and ErrDisabled; provider
// failures are reported through Result.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call, p *profile.Profile) (*Result, error) {
	prov, err := d.Resolve(call, p)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "dispatch capability")
	defer span.End()
	span.SetAttributes(attribute.String("capability.name", call.Name))

	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	res := &Result{Name: call.Name}
	out, err := prov.Invoke(ctx, args)

	var notFound *NotFoundError
	switch {
	case errors.As(err, &notFound):
		res.Status = StatusNotFound
		res.Raw = notFound.Message
		res.Summary = notFound.Message
		span.SetAttributes(attribute.String("capability.status", res.Status.String()))
		return res, nil
	case err != nil:
		failure := &ProviderFailure{Capability: call.Name, Err: err}
		slog.Warn("capability failed", "capability", call.Name, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider failed")
		res.Status = StatusFailed
		res.Err = failure
		res.Raw = failure.Message()
	case out != nil:
		res.Raw = out.Text
		res.Reference = out.Reference
	}

	sp, ok := prov.(Summarized)
	if !ok {
		res.Summary = res.Raw
		span.SetAttributes(attribute.String("capability.status", res.Status.String()))
		return res, nil
	}

	res.Summarized = true
	res.Summary = d.Summarize(ctx, sp.Label(), res.Raw, summaryQuery(call.Query, sp.Query(args)))
	span.SetAttributes(attribute.String("capability.status", res.Status.String()))
	return res, nil
}

// Summarize asks the secondary model to rewrite raw as a short conversational
// answer. It never fails: if the model call fails a fixed sentence is used.
func (d *Dispatcher) Summarize(ctx context.Context, label, raw, query string) string {
	ctx, span := tracer.Start(ctx, "summarize capability result")
	defer span.End()
	span.SetAttributes(attribute.String("capability.label", label))

	prompt := fmt.Sprintf(`Please summarize the following %s result in a natural, conversational way.
Original query: %s
Raw result: %s

Provide a concise, clear summary that a user would find helpful and easy to understand.`, label, query, raw)

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: summarySystemPrompt},
		{Role: llm.RoleUser, Content: prompt},
	}

	opts := []llm.CallOption{llm.WithToolChoice(llm.ToolChoiceNone)}
	if d.summaryModel != "" {
		opts = append(opts, llm.WithModel(d.summaryModel))
	}

	resp, err := d.model.Complete(ctx, messages, nil, opts...)
	if err != nil {
		slog.Warn("summarize failed", "label", label, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "summarize failed")
		return fallbackSummary(label)
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return fallbackSummary(label)
	}
	return summary
}

func fallbackSummary(label string) string {
	return fmt.Sprintf("Sorry, I couldn't put the %s result into words right now.", label)
}

func summaryQuery(userQuery, lookup string) string {
	switch {
	case userQuery == "":
		return lookup
	case lookup == "" || lookup == userQuery:
		return userQuery
	default:
		return userQuery + " (" + lookup + ")"
	}
}
