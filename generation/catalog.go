package generation

import (
	"github.com/pkg/errors"

	"github.com/rivermint/chatforge/config"
	"github.com/rivermint/chatforge/provider"
)

// ProviderCatalog resolves a configured chat_provider_id to its Adapter and
// config (the Loop needs the config alongside the Adapter to read
// ModelCapabilities and ModelSettings). Every adapter is built eagerly at
// startup, generalizing the teacher's single eagerly-built llm.Service to
// this package's multi-provider, multi-tenant registry.
type ProviderCatalog struct {
	adapters map[string]provider.Adapter
	configs  map[string]config.ChatProviderConfig
}

// NewProviderCatalog builds an Adapter for every configured chat provider.
func NewProviderCatalog(doc *config.Document) (*ProviderCatalog, error) {
	cat := &ProviderCatalog{
		adapters: make(map[string]provider.Adapter, len(doc.ChatProviders.Providers)),
		configs:  make(map[string]config.ChatProviderConfig, len(doc.ChatProviders.Providers)),
	}
	for id, cfg := range doc.ChatProviders.Providers {
		adapter, err := provider.New(cfg)
		if err != nil {
			return nil, errors.Wrapf(err, "build provider adapter %q", id)
		}
		cat.adapters[id] = adapter
		cat.configs[id] = cfg
	}
	return cat, nil
}

// Resolve returns the Adapter and config for chatProviderID. An empty
// chatProviderID is an error; the fallback to chat_providers.priority_order
// lives in ResolveDefault.
func (c *ProviderCatalog) Resolve(chatProviderID string) (provider.Adapter, config.ChatProviderConfig, error) {
	id := chatProviderID
	if id == "" {
		return nil, config.ChatProviderConfig{}, errors.New("no chat_provider_id given and no default configured")
	}
	adapter, ok := c.adapters[id]
	if !ok {
		return nil, config.ChatProviderConfig{}, errors.Errorf("unknown chat provider %q", id)
	}
	return adapter, c.configs[id], nil
}

// ResolveDefault returns the Adapter and config for the first entry of
// chat_providers.priority_order, used when a request omits chat_provider_id.
func (c *ProviderCatalog) ResolveDefault(priorityOrder []string) (string, provider.Adapter, config.ChatProviderConfig, error) {
	for _, id := range priorityOrder {
		if adapter, ok := c.adapters[id]; ok {
			return id, adapter, c.configs[id], nil
		}
	}
	return "", nil, config.ChatProviderConfig{}, errors.New("no usable chat provider in priority_order")
}
