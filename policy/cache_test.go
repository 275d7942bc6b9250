package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivermint/chatforge/store"
)

type fakeProjectionSource struct {
	projection *store.PolicyProjection
	calls      int
}

func (f *fakeProjectionSource) PolicyProjection(ctx context.Context) (*store.PolicyProjection, error) {
	f.calls++
	return f.projection, nil
}

func TestAuthorizeOwnerCanReadAndWrite(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	source := &fakeProjectionSource{projection: &store.PolicyProjection{
		ChatOwners: map[string]string{"chat1": "alice"},
	}}
	require.NoError(t, c.RebuildIfNeeded(context.Background(), source))

	decision, err := c.Authorize(Subject{ID: "alice"}, Resource{Kind: ResourceChat, ID: "chat1"}, ActionWrite)
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, decision)
}

func TestAuthorizeNonOwnerWithoutGrantIsDenied(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	source := &fakeProjectionSource{projection: &store.PolicyProjection{
		ChatOwners: map[string]string{"chat1": "alice"},
	}}
	require.NoError(t, c.RebuildIfNeeded(context.Background(), source))

	decision, err := c.Authorize(Subject{ID: "bob"}, Resource{Kind: ResourceChat, ID: "chat1"}, ActionRead)
	require.NoError(t, err)
	assert.Equal(t, DecisionDeny, decision)
}

func TestAuthorizeViewerGrantAllowsReadNotWrite(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	source := &fakeProjectionSource{projection: &store.PolicyProjection{
		ChatOwners: map[string]string{"chat1": "alice"},
		ShareGrants: []*store.ShareGrant{
			{ResourceID: "chat1", ResourceKind: store.ShareGrantResourceChat,
				SubjectID: "bob", SubjectKind: store.ShareGrantSubjectUser, Role: store.ShareGrantRoleViewer},
		},
	}}
	require.NoError(t, c.RebuildIfNeeded(context.Background(), source))

	decision, err := c.Authorize(Subject{ID: "bob"}, Resource{Kind: ResourceChat, ID: "chat1"}, ActionRead)
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, decision)

	decision, err = c.Authorize(Subject{ID: "bob"}, Resource{Kind: ResourceChat, ID: "chat1"}, ActionWrite)
	require.NoError(t, err)
	assert.Equal(t, DecisionDeny, decision)
}

func TestAuthorizeEditorGrantAllowsWrite(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	source := &fakeProjectionSource{projection: &store.PolicyProjection{
		ChatOwners: map[string]string{"chat1": "alice"},
		ShareGrants: []*store.ShareGrant{
			{ResourceID: "chat1", ResourceKind: store.ShareGrantResourceChat,
				SubjectID: "bob", SubjectKind: store.ShareGrantSubjectUser, Role: store.ShareGrantRoleEditor},
		},
	}}
	require.NoError(t, c.RebuildIfNeeded(context.Background(), source))

	decision, err := c.Authorize(Subject{ID: "bob"}, Resource{Kind: ResourceChat, ID: "chat1"}, ActionWrite)
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, decision)
}

func TestAuthorizeGroupGrantMatchesViaGroupIDs(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	source := &fakeProjectionSource{projection: &store.PolicyProjection{
		ChatOwners: map[string]string{"chat1": "alice"},
		ShareGrants: []*store.ShareGrant{
			{ResourceID: "chat1", ResourceKind: store.ShareGrantResourceChat,
				SubjectID: "team-x", SubjectKind: store.ShareGrantSubjectGroup, Role: store.ShareGrantRoleViewer},
		},
	}}
	require.NoError(t, c.RebuildIfNeeded(context.Background(), source))

	decision, err := c.Authorize(Subject{ID: "carol", GroupIDs: []string{"team-x"}}, Resource{Kind: ResourceChat, ID: "chat1"}, ActionRead)
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, decision)
}

func TestRebuildIfNeededSkipsWhenNotDirty(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	source := &fakeProjectionSource{projection: &store.PolicyProjection{}}

	require.NoError(t, c.RebuildIfNeeded(context.Background(), source))
	require.NoError(t, c.RebuildIfNeeded(context.Background(), source))
	assert.Equal(t, 1, source.calls)
}

func TestInvalidateForcesRebuild(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	source := &fakeProjectionSource{projection: &store.PolicyProjection{}}

	require.NoError(t, c.RebuildIfNeeded(context.Background(), source))
	c.Invalidate(context.Background())
	require.NoError(t, c.RebuildIfNeeded(context.Background(), source))
	assert.Equal(t, 2, source.calls)
}

func TestCloneHasIndependentDirtyBit(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	source := &fakeProjectionSource{projection: &store.PolicyProjection{
		ChatOwners: map[string]string{"chat1": "alice"},
	}}
	require.NoError(t, c.RebuildIfNeeded(context.Background(), source))

	clone := c.Clone()
	c.Invalidate(context.Background())

	decision, err := clone.Authorize(Subject{ID: "alice"}, Resource{Kind: ResourceChat, ID: "chat1"}, ActionRead)
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, decision)
	assert.False(t, clone.dirty)
	assert.True(t, c.dirty)
}

func TestAuthorizeUnknownResourceKindPanics(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	assert.Panics(t, func() {
		_, _ = c.Authorize(Subject{ID: "alice"}, Resource{Kind: ResourceKind("unknown"), ID: "x"}, ActionRead)
	})
}
