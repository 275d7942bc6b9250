package toolexec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivermint/chatforge/internal/apperror"
	"github.com/rivermint/chatforge/toolexec/mcpadapter"
)

type fakeServer struct {
	tools  []mcpadapter.ToolInfo
	output string
	err    error
	called map[string]map[string]any
}

func (f *fakeServer) ListTools(ctx context.Context) ([]mcpadapter.ToolInfo, error) {
	return f.tools, nil
}

func (f *fakeServer) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if f.called == nil {
		f.called = map[string]map[string]any{}
	}
	f.called[name] = args
	if f.err != nil {
		return "", f.err
	}
	return f.output, nil
}

func TestListToolsNamespacesAcrossServers(t *testing.T) {
	e := New(map[string]MCPServer{
		"srv1": &fakeServer{tools: []mcpadapter.ToolInfo{{Name: "search"}}},
		"srv2": &fakeServer{tools: []mcpadapter.ToolInfo{{Name: "write_file"}}},
	})

	tools, err := e.ListTools(context.Background(), nil)
	require.NoError(t, err)
	names := map[string]bool{}
	for _, t := range tools {
		names[t.QualifiedName()] = true
	}
	assert.True(t, names["srv1/search"])
	assert.True(t, names["srv2/write_file"])
}

func TestListToolsFiltersByRequestedServerIDs(t *testing.T) {
	e := New(map[string]MCPServer{
		"srv1": &fakeServer{tools: []mcpadapter.ToolInfo{{Name: "search"}}},
		"srv2": &fakeServer{tools: []mcpadapter.ToolInfo{{Name: "write_file"}}},
	})

	tools, err := e.ListTools(context.Background(), []string{"srv1"})
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "srv1/search", tools[0].QualifiedName())
}

func TestCallRoutesToDeclaringServer(t *testing.T) {
	srv1 := &fakeServer{output: "42"}
	e := New(map[string]MCPServer{"srv1": srv1})

	out, err := e.Call(context.Background(), "srv1/search", []byte(`{"q":"go"}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "42", out)
	assert.Equal(t, "go", srv1.called["search"]["q"])
}

func TestCallRejectsServerOutsideAllowlist(t *testing.T) {
	e := New(map[string]MCPServer{"srv1": &fakeServer{output: "42"}})

	_, err := e.Call(context.Background(), "srv1/search", nil, []string{"srv2"})
	require.Error(t, err)
	assert.Equal(t, apperror.KindToolExecFailed, err.(*apperror.Error).Kind)
}

func TestCallMalformedQualifiedNameFails(t *testing.T) {
	e := New(map[string]MCPServer{})
	_, err := e.Call(context.Background(), "no-slash", nil, nil)
	require.Error(t, err)
}

func TestCallUnknownServerFails(t *testing.T) {
	e := New(map[string]MCPServer{})
	_, err := e.Call(context.Background(), "srv1/search", nil, nil)
	require.Error(t, err)
}

func TestCallPropagatesToolError(t *testing.T) {
	e := New(map[string]MCPServer{"srv1": &fakeServer{err: assert.AnError}})
	_, err := e.Call(context.Background(), "srv1/search", nil, nil)
	require.Error(t, err)
	assert.Equal(t, apperror.KindToolExecFailed, err.(*apperror.Error).Kind)
}
