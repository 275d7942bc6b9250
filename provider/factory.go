package provider

import (
	"time"

	"github.com/pkg/errors"

	"github.com/rivermint/chatforge/config"
)

const defaultTimeout = 120 * time.Second

// New builds the Adapter for one configured chat provider (spec §4.5,
// EXPANSION provider-kind table in SPEC_FULL.md §4.5).
func New(cfg config.ChatProviderConfig) (Adapter, error) {
	timeout := defaultTimeout

	switch cfg.ProviderKind {
	case config.ProviderKindVolcengine:
		if cfg.APIKey == "" {
			return nil, errors.New("volcengine provider requires api_key")
		}
		return newVolcengineAdapter(cfg, timeout), nil

	default:
		return newOpenAIAdapter(cfg, timeout)
	}
}
