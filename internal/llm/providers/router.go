// Package providers adapts the normalized transport request to the HTTP APIs
// of OpenAI, Anthropic and Google.
package providers

import (
	"fmt"
	"sort"

	"github.com/ahrav/go-discover/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-discover/internal/llm/errors"
	"github.com/ahrav/go-discover/internal/llm/transport"
)

// Supported LLM provider identifiers. These must match configuration keys.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
)

// Router is a transport.Router backed by configured adapters.
type Router struct {
	adapters map[string]transport.ProviderAdapter
}

// NewRouter creates a router with one adapter per configured provider.
func NewRouter(configs map[string]configuration.ProviderConfig) (*Router, error) {
	adapters := make(map[string]transport.ProviderAdapter, len(configs))
	for name, cfg := range configs {
		switch name {
		case ProviderOpenAI:
			adapters[name] = NewOpenAIAdapter(cfg)
		case ProviderAnthropic:
			adapters[name] = NewAnthropicAdapter(cfg)
		case ProviderGoogle:
			adapters[name] = NewGoogleAdapter(cfg)
		default:
			return nil, fmt.Errorf("%w: %s", llmerrors.ErrUnknownProvider, name)
		}
	}
	return &Router{adapters: adapters}, nil
}

// Pick selects the adapter for the given provider name.
func (r *Router) Pick(provider, _ string) (transport.ProviderAdapter, error) {
	adapter, ok := r.adapters[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", llmerrors.ErrUnknownProvider, provider)
	}
	return adapter, nil
}

// Names lists configured providers in sorted order.
func (r *Router) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
