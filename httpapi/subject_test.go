package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivermint/chatforge/policy"
)

func TestSubjectMiddlewareRejectsMissingSubjectID(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/messages/submitstream", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := SubjectMiddleware(func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	err := handler(c)

	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestSubjectMiddlewareSetsSubjectWithGroups(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/messages/submitstream", nil)
	req.Header.Set("X-Subject-Id", "alice")
	req.Header.Set("X-Subject-Groups", "engineering,beta-testers")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var captured policy.Subject
	handler := SubjectMiddleware(func(c echo.Context) error {
		subj, ok := SubjectFromContext(c)
		require.True(t, ok)
		captured = subj
		return c.NoContent(http.StatusOK)
	})
	require.NoError(t, handler(c))

	assert.Equal(t, "alice", captured.ID)
	assert.Equal(t, []string{"engineering", "beta-testers"}, captured.GroupIDs)
}

func TestSubjectMiddlewareNoGroupsHeaderLeavesGroupIDsNil(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/messages/submitstream", nil)
	req.Header.Set("X-Subject-Id", "alice")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var captured policy.Subject
	handler := SubjectMiddleware(func(c echo.Context) error {
		captured, _ = SubjectFromContext(c)
		return c.NoContent(http.StatusOK)
	})
	require.NoError(t, handler(c))
	assert.Nil(t, captured.GroupIDs)
}

func TestSubjectFromContextMissingReturnsFalse(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	_, ok := SubjectFromContext(c)
	assert.False(t, ok)
}
