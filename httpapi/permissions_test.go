package httpapi

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rivermint/chatforge/config"
)

func TestModelPermissionAllowedProviderNamedByNoRuleIsOpen(t *testing.T) {
	cfg := config.ModelPermissionsConfig{}
	assert.True(t, modelPermissionAllowed(cfg, []string{"engineering"}, "gpt-5"))
}

func TestModelPermissionAllowedDenyRuleBlocksMatchingGroup(t *testing.T) {
	cfg := config.ModelPermissionsConfig{
		Rules: map[string]config.ModelPermissionRule{
			"deny-interns": {
				RuleType:        config.ModelPermissionDeny,
				ChatProviderIDs: []string{"gpt-5"},
				Groups:          []string{"interns"},
			},
		},
	}
	assert.False(t, modelPermissionAllowed(cfg, []string{"interns"}, "gpt-5"))
	assert.True(t, modelPermissionAllowed(cfg, []string{"engineering"}, "gpt-5"))
}

func TestModelPermissionAllowedUngroupedDenyBlocksEveryone(t *testing.T) {
	cfg := config.ModelPermissionsConfig{
		Rules: map[string]config.ModelPermissionRule{
			"freeze": {
				RuleType:        config.ModelPermissionDeny,
				ChatProviderIDs: []string{"gpt-5"},
			},
		},
	}
	assert.False(t, modelPermissionAllowed(cfg, []string{"engineering"}, "gpt-5"))
}

func TestModelPermissionAllowedAllowRuleMakesProviderAllowlisted(t *testing.T) {
	cfg := config.ModelPermissionsConfig{
		Rules: map[string]config.ModelPermissionRule{
			"allow-beta": {
				RuleType:        config.ModelPermissionAllow,
				ChatProviderIDs: []string{"claude-beta"},
				Groups:          []string{"beta-testers"},
			},
		},
	}
	assert.True(t, modelPermissionAllowed(cfg, []string{"beta-testers"}, "claude-beta"))
	assert.False(t, modelPermissionAllowed(cfg, []string{"engineering"}, "claude-beta"),
		"a provider named only by an allow rule is closed to groups that don't match it")
}

func TestModelPermissionAllowedDenyTakesPrecedenceOverAllow(t *testing.T) {
	cfg := config.ModelPermissionsConfig{
		Rules: map[string]config.ModelPermissionRule{
			"allow-all": {
				RuleType:        config.ModelPermissionAllow,
				ChatProviderIDs: []string{"gpt-5"},
			},
			"deny-banned": {
				RuleType:        config.ModelPermissionDeny,
				ChatProviderIDs: []string{"gpt-5"},
				Groups:          []string{"banned"},
			},
		},
	}
	assert.False(t, modelPermissionAllowed(cfg, []string{"banned"}, "gpt-5"))
	assert.True(t, modelPermissionAllowed(cfg, []string{"everyone-else"}, "gpt-5"))
}

func TestContainsHelpers(t *testing.T) {
	assert.True(t, containsString([]string{"a", "b"}, "b"))
	assert.False(t, containsString([]string{"a", "b"}, "c"))
	assert.True(t, containsAny([]string{"a", "b"}, []string{"z", "b"}))
	assert.False(t, containsAny([]string{"a", "b"}, []string{"y", "z"}))
}
