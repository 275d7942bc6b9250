// Package config defines the structured configuration document chatforge
// loads at startup (spec.md §6): chat providers, file storage providers,
// MCP tool servers, experimental facets, model permission rules, budget
// limits and cache sizing.
package config

// Document is the root of the structured configuration file.
type Document struct {
	HTTPHost string `yaml:"http_host"`
	HTTPPort int    `yaml:"http_port"`

	DatabaseURL string `yaml:"database_url"`

	ChatProviders         ChatProvidersConfig        `yaml:"chat_providers"`
	FileStorageProviders  map[string]FileStorageConfig `yaml:"file_storage_providers"`
	// DefaultImageStorageProviderID names the file_storage_providers entry
	// image-generation mode writes newly generated bytes to (spec §4.7
	// image-generation short circuit). Required only by assistants bound to
	// a generate_images-capable provider.
	DefaultImageStorageProviderID string                 `yaml:"default_image_storage_provider_id"`
	MCPServers            map[string]MCPServerConfig  `yaml:"mcp_servers"`
	ExperimentalFacets    FacetsConfig                `yaml:"experimental_facets"`
	ModelPermissions      ModelPermissionsConfig      `yaml:"model_permissions"`
	Budget                BudgetConfig                `yaml:"budget"`
	Caches                CachesConfig                `yaml:"caches"`
}

// ChatProvidersConfig holds every configured LLM backend plus the summary-generation override.
type ChatProvidersConfig struct {
	PriorityOrder []string                    `yaml:"priority_order"`
	Providers     map[string]ChatProviderConfig `yaml:"providers"`
	Summary       SummaryConfig                 `yaml:"summary"`

	// MaxToolIterations bounds the Generation Loop's tool-call turns (spec
	// §4.7, design note: "arbitrary but must be finite... should be
	// configurable"). Zero means the Loop's built-in default of 15.
	MaxToolIterations int `yaml:"max_tool_iterations"`
}

// ProviderKind is a closed enum of supported Provider Adapter backends.
type ProviderKind string

const (
	ProviderKindOpenAI      ProviderKind = "openai"
	ProviderKindAzure       ProviderKind = "azure"
	ProviderKindVertex      ProviderKind = "vertex"
	ProviderKindDeepSeek    ProviderKind = "deepseek"
	ProviderKindSiliconFlow ProviderKind = "siliconflow"
	ProviderKindZAI         ProviderKind = "zai"
	ProviderKindDashScope   ProviderKind = "dashscope"
	ProviderKindOpenRouter  ProviderKind = "openrouter"
	ProviderKindOllama      ProviderKind = "ollama"
	ProviderKindVolcengine  ProviderKind = "volcengine"
)

// ChatProviderConfig describes one entry under chat_providers.providers.<id>.
type ChatProviderConfig struct {
	ProviderKind       ProviderKind      `yaml:"provider_kind"`
	ModelName          string            `yaml:"model_name"`
	BaseURL            string            `yaml:"base_url"`
	APIKey             string            `yaml:"api_key"`
	ModelCapabilities  ModelCapabilities `yaml:"model_capabilities"`
	ModelSettings      ModelSettings     `yaml:"model_settings"`
	SystemPrompt       string            `yaml:"system_prompt"`
}

// ModelCapabilities declares what a model supports, gating prompt composition and tool availability.
type ModelCapabilities struct {
	SupportsTools     bool `yaml:"supports_tools"`
	SupportsVision    bool `yaml:"supports_vision"`
	SupportsReasoning bool `yaml:"supports_reasoning"`
	MaxContextTokens  int  `yaml:"max_context_tokens"`

	// GenerateImages short-circuits the Generation Loop into image-generation
	// mode (spec §4.7): a single image call replaces the streaming chat loop.
	GenerateImages bool `yaml:"generate_images"`
}

// ModelSettings carries per-provider generation defaults, overridable by a Facet.
type ModelSettings struct {
	Temperature     *float32 `yaml:"temperature"`
	TopP            *float32 `yaml:"top_p"`
	ReasoningEffort string   `yaml:"reasoning_effort"`
	Verbosity       string   `yaml:"verbosity"`
	MaxTokens       int      `yaml:"max_tokens"`
}

// SummaryConfig configures the fire-and-forget chat-title generation task.
type SummaryConfig struct {
	ProviderID string `yaml:"provider_id"`
	MaxTokens  int    `yaml:"max_tokens"`
}

// FileStorageConfig describes one entry under file_storage_providers.<id>.
// Blob I/O itself is out of scope (BlobStore is an external collaborator interface);
// this only carries enough to select and address a provider.
type FileStorageConfig struct {
	Kind     string `yaml:"kind"`
	BasePath string `yaml:"base_path"`
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
}

// MCPTransportType is the wire transport an MCP tool server speaks.
type MCPTransportType string

const (
	MCPTransportSSE            MCPTransportType = "sse"
	MCPTransportStreamableHTTP MCPTransportType = "streamable_http"
)

// MCPServerConfig describes one entry under mcp_servers.<id>.
type MCPServerConfig struct {
	TransportType MCPTransportType  `yaml:"transport_type"`
	URL           string            `yaml:"url"`
	HTTPHeaders   map[string]string `yaml:"http_headers"`
}

// FacetsConfig holds the experimental assistant-persona overlay.
type FacetsConfig struct {
	Facets               map[string]FacetConfig `yaml:"facets"`
	PriorityOrder        []string               `yaml:"priority_order"`
	DefaultSelectedFacets []string              `yaml:"default_selected_facets"`
}

// FacetConfig describes one entry under experimental_facets.facets.<id>.
type FacetConfig struct {
	DisplayName       string        `yaml:"display_name"`
	ToolCallAllowlist []string      `yaml:"tool_call_allowlist"`
	ModelSettings     ModelSettings `yaml:"model_settings"`
}

// ModelPermissionRuleType distinguishes allow vs. deny rules.
type ModelPermissionRuleType string

const (
	ModelPermissionAllow ModelPermissionRuleType = "allow"
	ModelPermissionDeny  ModelPermissionRuleType = "deny"
)

// ModelPermissionsConfig gates which chat providers a group of subjects may use.
type ModelPermissionsConfig struct {
	Rules map[string]ModelPermissionRule `yaml:"rules"`
}

// ModelPermissionRule describes one entry under model_permissions.rules.<id>.
type ModelPermissionRule struct {
	RuleType       ModelPermissionRuleType `yaml:"rule_type"`
	ChatProviderIDs []string               `yaml:"chat_provider_ids"`
	Groups          []string               `yaml:"groups"`
}

// BudgetConfig configures the per-subject spend tracker.
type BudgetConfig struct {
	Enabled          bool    `yaml:"enabled"`
	MaxBudget        float64 `yaml:"max_budget"`
	WarnThreshold    float64 `yaml:"warn_threshold"`
	BudgetPeriodDays int     `yaml:"budget_period_days"`
}

// CachesConfig sizes the File Resolver's content-addressed LRU caches, in megabytes.
// FileBytesCacheMB and FileContentsCacheMB size its two caches;
// TokenCountCacheMB is read from config but no cache uses it.
type CachesConfig struct {
	FileBytesCacheMB    int `yaml:"file_bytes_cache_mb"`
	FileContentsCacheMB int `yaml:"file_contents_cache_mb"`
	TokenCountCacheMB   int `yaml:"token_count_cache_mb"`
}

// Default returns a Document populated with the same conservative defaults
// the teacher's viper.SetDefault calls establish for its own config keys.
func Default() *Document {
	return &Document{
		HTTPHost: "0.0.0.0",
		HTTPPort: 8910,
		Caches: CachesConfig{
			FileBytesCacheMB:    64,
			FileContentsCacheMB: 32,
			TokenCountCacheMB:   8,
		},
		Budget: BudgetConfig{
			BudgetPeriodDays: 30,
		},
	}
}
