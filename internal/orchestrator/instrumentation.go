package orchestrator

import "go.opentelemetry.io/otel"

const scopeName = "github.com/user/assistant/internal/orchestrator"

var tracer = otel.Tracer(scopeName)
