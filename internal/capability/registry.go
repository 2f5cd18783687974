package capability

import (
	"github.com/user/assistant/internal/profile"
	"github.com/user/assistant/pkg/llm"
)

type entry struct {
	key      string
	provider Provider
}

// Registry holds the fixed set of providers, each gated by a profile key.
type Registry struct {
	entries map[string]entry
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds p under its name. key is the profile capability that gates it;
// several providers may share one key.
func (r *Registry) Register(key string, p Provider) {
	name := p.Name()
	if _, ok := r.entries[name]; !ok {
		r.order = append(r.order, name)
	}
	r.entries[name] = entry{key: key, provider: p}
}

// Get returns a provider and its gating key by name.
func (r *Registry) Get(name string) (Provider, string, bool) {
	e, ok := r.entries[name]
	return e.provider, e.key, ok
}

// Names returns registered provider names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Manifest converts the providers enabled by p to the model's tool format.
func (r *Registry) Manifest(p *profile.Profile) []llm.Tool {
	out := make([]llm.Tool, 0, len(r.order))
	for _, name := range r.order {
		e := r.entries[name]
		if !p.Enabled(e.key) {
			continue
		}
		out = append(out, llm.Tool{
			Type: "function",
			Function: llm.Function{
				Name:        e.provider.Name(),
				Description: e.provider.Description(),
				Parameters:  e.provider.Parameters(),
			},
		})
	}
	return out
}
