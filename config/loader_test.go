package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
http_host: "127.0.0.1"
http_port: 9200
database_url: "postgres://localhost/chatforge"
chat_providers:
  priority_order: ["primary"]
  providers:
    primary:
      provider_kind: openai
      model_name: gpt-4o
      model_capabilities:
        supports_tools: true
        supports_vision: true
  summary:
    provider_id: primary
    max_tokens: 64
mcp_servers:
  search:
    transport_type: sse
    url: "https://mcp.example.com/search"
budget:
  enabled: true
  max_budget: 10.5
  warn_threshold: 8
  budget_period_days: 30
caches:
  file_bytes_cache_mb: 128
`

func writeSample(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(sampleYAML), 0o644))
}

func TestLoadParsesDocument(t *testing.T) {
	dir := t.TempDir()
	writeSample(t, dir, "config.yaml")

	loader := NewLoader(dir)
	doc, err := loader.Load("config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", doc.HTTPHost)
	assert.Equal(t, 9200, doc.HTTPPort)
	assert.Equal(t, []string{"primary"}, doc.ChatProviders.PriorityOrder)
	assert.Equal(t, ProviderKindOpenAI, doc.ChatProviders.Providers["primary"].ProviderKind)
	assert.True(t, doc.ChatProviders.Providers["primary"].ModelCapabilities.SupportsTools)
	assert.Equal(t, MCPTransportSSE, doc.MCPServers["search"].TransportType)
	assert.True(t, doc.Budget.Enabled)
	assert.Equal(t, 128, doc.Caches.FileBytesCacheMB)
}

func TestLoadCachesResult(t *testing.T) {
	dir := t.TempDir()
	writeSample(t, dir, "config.yaml")

	loader := NewLoader(dir)
	first, err := loader.Load("config.yaml")
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, "config.yaml")))

	second, err := loader.Load("config.yaml")
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestLoadMissingFileErrors(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(dir)
	_, err := loader.Load("missing.yaml")
	assert.Error(t, err)
}

func TestClearCacheForcesReload(t *testing.T) {
	dir := t.TempDir()
	writeSample(t, dir, "config.yaml")

	loader := NewLoader(dir)
	_, err := loader.Load("config.yaml")
	require.NoError(t, err)

	loader.ClearCache()
	require.NoError(t, os.Remove(filepath.Join(dir, "config.yaml")))

	_, err = loader.Load("config.yaml")
	assert.Error(t, err)
}
