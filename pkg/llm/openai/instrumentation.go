package openai

import "go.opentelemetry.io/otel"

const scopeName = "github.com/user/assistant/pkg/llm/openai"

var tracer = otel.Tracer(scopeName)
