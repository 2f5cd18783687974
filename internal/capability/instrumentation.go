package capability

import "go.opentelemetry.io/otel"

const scopeName = "github.com/user/assistant/internal/capability"

var tracer = otel.Tracer(scopeName)
