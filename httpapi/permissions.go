package httpapi

import (
	"github.com/rivermint/chatforge/config"
	"github.com/rivermint/chatforge/internal/apperror"
	"github.com/rivermint/chatforge/store"
)

// resolveChatProviderID picks the chat_provider_id a generation runs
// against: an explicit request value wins, then the bound assistant's
// default, then chat_providers.priority_order's first usable entry. Every
// candidate is checked against model_permissions before being accepted.
func (s *Server) resolveChatProviderID(requested string, assistant *store.Assistant, groupIDs []string) (string, error) {
	candidate := requested
	if candidate == "" && assistant != nil && assistant.DefaultProviderID != "" {
		candidate = assistant.DefaultProviderID
	}
	if candidate == "" {
		id, _, _, err := s.Catalog.ResolveDefault(s.Config.ChatProviders.PriorityOrder)
		if err != nil {
			return "", apperror.Invariant(err.Error())
		}
		candidate = id
	}
	if _, _, err := s.Catalog.Resolve(candidate); err != nil {
		return "", apperror.Invariant(err.Error())
	}
	if !modelPermissionAllowed(s.Config.ModelPermissions, groupIDs, candidate) {
		return "", apperror.NotAuthorized("subject's groups are not permitted to use chat provider " + candidate)
	}
	return candidate, nil
}

// modelPermissionAllowed evaluates model_permissions.rules for providerID
// against the subject's groups. Deny rules are eager: any matching deny
// blocks the provider outright. A provider with at least one allow rule
// becomes an allowlisted provider — the subject must match one of its
// allow rules' groups (or an ungrouped allow rule) to use it. A provider
// named by no rule at all is open to everyone, matching the spec's config
// surface being opt-in restriction rather than default-deny.
func modelPermissionAllowed(cfg config.ModelPermissionsConfig, groupIDs []string, providerID string) bool {
	var allowRuleExists, allowMatched bool
	for _, rule := range cfg.Rules {
		if !containsString(rule.ChatProviderIDs, providerID) {
			continue
		}
		groupMatch := len(rule.Groups) == 0 || containsAny(rule.Groups, groupIDs)
		switch rule.RuleType {
		case config.ModelPermissionDeny:
			if groupMatch {
				return false
			}
		case config.ModelPermissionAllow:
			allowRuleExists = true
			if groupMatch {
				allowMatched = true
			}
		}
	}
	return allowMatched || !allowRuleExists
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func containsAny(haystack, needles []string) bool {
	for _, n := range needles {
		if containsString(haystack, n) {
			return true
		}
	}
	return false
}
