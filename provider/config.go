package provider

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"

	"github.com/rivermint/chatforge/config"
)

// buildClientConfig translates one chat_providers.providers.<id> entry into
// a go-openai ClientConfig, carrying forward the teacher's per-kind base-URL
// defaulting switch (ai/core/llm/service.go) and adding the two EXPANSION
// kinds' config-load-time URL rewriting (spec §6).
func buildClientConfig(cfg config.ChatProviderConfig, httpClient *httpClient) (openai.ClientConfig, error) {
	switch cfg.ProviderKind {
	case config.ProviderKindAzure:
		if cfg.BaseURL == "" {
			return openai.ClientConfig{}, errors.New("azure provider requires base_url (resource endpoint)")
		}
		clientConfig := openai.DefaultAzureConfig(cfg.APIKey, cfg.BaseURL)
		clientConfig.HTTPClient = httpClient.client
		return clientConfig, nil

	case config.ProviderKindVertex:
		if cfg.BaseURL == "" {
			return openai.ClientConfig{}, errors.New("vertex provider requires base_url (project/location endpoint)")
		}
		clientConfig := openai.DefaultConfig(cfg.APIKey)
		clientConfig.BaseURL = rewriteVertexBaseURL(cfg.BaseURL)
		clientConfig.HTTPClient = httpClient.client
		return clientConfig, nil

	case config.ProviderKindDeepSeek:
		return openAICompatibleConfig(cfg, "https://api.deepseek.com", httpClient), nil

	case config.ProviderKindSiliconFlow:
		return openAICompatibleConfig(cfg, "https://api.siliconflow.cn/v1", httpClient), nil

	case config.ProviderKindZAI:
		return openAICompatibleConfig(cfg, "https://open.bigmodel.cn/api/paas/v4", httpClient), nil

	case config.ProviderKindDashScope:
		return openAICompatibleConfig(cfg, "https://dashscope.aliyuncs.com/compatible-mode/v1", httpClient), nil

	case config.ProviderKindOpenRouter:
		return openAICompatibleConfig(cfg, "https://openrouter.ai/api/v1", httpClient), nil

	case config.ProviderKindOllama:
		return openAICompatibleConfig(cfg, "http://localhost:11434/v1", httpClient), nil

	case config.ProviderKindOpenAI:
		return openAICompatibleConfig(cfg, "", httpClient), nil

	default:
		return openAICompatibleConfig(cfg, "", httpClient), nil
	}
}

func openAICompatibleConfig(cfg config.ChatProviderConfig, defaultBaseURL string, httpClient *httpClient) openai.ClientConfig {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	clientConfig.HTTPClient = httpClient.client
	return clientConfig
}

// rewriteVertexBaseURL appends the OpenAI-compatibility suffix Vertex's
// Gemini endpoints expose if the operator didn't already include it, so the
// same config value works whether or not it was copied in fully-qualified
// form from the Cloud console.
func rewriteVertexBaseURL(baseURL string) string {
	trimmed := strings.TrimRight(baseURL, "/")
	if strings.HasSuffix(trimmed, "/endpoints/openapi") {
		return trimmed
	}
	return trimmed + "/endpoints/openapi"
}
