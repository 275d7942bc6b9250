package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/rivermint/chatforge/broadcast"
	"github.com/rivermint/chatforge/config"
	"github.com/rivermint/chatforge/event"
	"github.com/rivermint/chatforge/generation"
	"github.com/rivermint/chatforge/internal/profile"
	"github.com/rivermint/chatforge/policy"
	"github.com/rivermint/chatforge/store"
	"github.com/rivermint/chatforge/store/db/sqlite"
)

// fakeRunner records the RunParams each SubmitStream/RegenerateStream/EditStream
// call hands to the Generation Loop, so tests can assert wiring without
// standing up a real ProviderCatalog/Composer/ToolExecutor stack. Like the
// real Loop, a run that returns nil ends the chat's stream with stream_end,
// which is what lets the handler's pumpEvents return.
type fakeRunner struct {
	mu    sync.Mutex
	runs  []generation.RunParams
	err   error
	hub   *broadcast.Hub
}

func (f *fakeRunner) Run(ctx context.Context, params generation.RunParams) error {
	f.mu.Lock()
	f.runs = append(f.runs, params)
	err := f.err
	f.mu.Unlock()
	if err == nil && f.hub != nil {
		f.hub.Emit(params.Chat.ID, event.StreamEnd())
	}
	return err
}

func (f *fakeRunner) lastRun() generation.RunParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs[len(f.runs)-1]
}

func (f *fakeRunner) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

var testDBCounter int64

func newTestServer(t *testing.T) (*Server, *store.Store, *fakeRunner) {
	t.Helper()

	n := atomic.AddInt64(&testDBCounter, 1)
	dsn := fmt.Sprintf("file:httpapi_test_%d?mode=memory&cache=shared", n)
	driver, err := sqlite.NewDB(&profile.Profile{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, driver.Migrate(context.Background()))

	st := store.New(driver, &profile.Profile{Driver: "sqlite", DSN: dsn})

	polCache, err := policy.New(nil)
	require.NoError(t, err)

	doc := &config.Document{
		ChatProviders: config.ChatProvidersConfig{
			PriorityOrder: []string{"default-provider"},
			Providers: map[string]config.ChatProviderConfig{
				"default-provider": {
					ProviderKind: config.ProviderKindOllama,
					ModelName:    "test-model",
					BaseURL:      "http://127.0.0.1:0",
				},
			},
		},
	}
	catalog, err := generation.NewProviderCatalog(doc)
	require.NoError(t, err)

	hub := broadcast.NewHub(nil)
	runner := &fakeRunner{hub: hub}

	srv := New(st, polCache, hub, runner, catalog, doc, NewRateLimiterStore(rate.Limit(1000), 1000, 100), nil, nil)
	return srv, st, runner
}

func requestWithSubject(method, path, body, subjectID string) (*http.Request, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, "application/json")
	if subjectID != "" {
		req.Header.Set("X-Subject-Id", subjectID)
	}
	return req, httptest.NewRecorder()
}

func TestSubmitStreamCreatesChatAndSpawnsGeneration(t *testing.T) {
	srv, _, runner := newTestServer(t)
	e := echo.New()

	req, rec := requestWithSubject(http.MethodPost, "/messages/submitstream",
		`{"user_message":"hello there"}`, "alice")
	c := e.NewContext(req, rec)
	handler := SubjectMiddleware(srv.SubmitStream)

	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "user_message_saved")

	require.Equal(t, 1, runner.runCount())
	run := runner.lastRun()
	assert.Equal(t, "default-provider", run.ChatProviderID)
	assert.True(t, run.IsFirstUserTurn)
	assert.Equal(t, "alice", run.SubjectID)
}

func TestSubmitStreamRejectsMissingSubject(t *testing.T) {
	srv, _, _ := newTestServer(t)
	e := echo.New()

	req, rec := requestWithSubject(http.MethodPost, "/messages/submitstream", `{"user_message":"hi"}`, "")
	c := e.NewContext(req, rec)
	handler := SubjectMiddleware(srv.SubmitStream)

	err := handler(c)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestSubmitStreamRejectsEmptyUserMessage(t *testing.T) {
	srv, _, _ := newTestServer(t)
	e := echo.New()

	req, rec := requestWithSubject(http.MethodPost, "/messages/submitstream", `{"user_message":"   "}`, "alice")
	c := e.NewContext(req, rec)
	handler := SubjectMiddleware(srv.SubmitStream)

	err := handler(c)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, httpErr.Code)
}

func TestSubmitStreamRejectsUnknownPreviousMessageID(t *testing.T) {
	srv, _, _ := newTestServer(t)
	e := echo.New()

	req, rec := requestWithSubject(http.MethodPost, "/messages/submitstream",
		`{"user_message":"hi","previous_message_id":"does-not-exist"}`, "alice")
	c := e.NewContext(req, rec)
	handler := SubjectMiddleware(srv.SubmitStream)

	err := handler(c)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, httpErr.Code)
}

func TestSubmitStreamRejectsNonOwnerOnExistingChat(t *testing.T) {
	srv, st, _ := newTestServer(t)
	e := echo.New()

	chat, err := st.CreateChat(context.Background(), &store.CreateChat{OwnerID: "alice"})
	require.NoError(t, err)

	body := fmt.Sprintf(`{"user_message":"hi","existing_chat_id":%q}`, chat.ID)
	req, rec := requestWithSubject(http.MethodPost, "/messages/submitstream", body, "mallory")
	c := e.NewContext(req, rec)
	handler := SubjectMiddleware(srv.SubmitStream)

	err = handler(c)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, httpErr.Code)
}

func TestRegenerateStreamRejectsNonAssistantMessage(t *testing.T) {
	srv, st, _ := newTestServer(t)
	e := echo.New()

	chat, err := st.CreateChat(context.Background(), &store.CreateChat{OwnerID: "alice"})
	require.NoError(t, err)
	userMsg, err := st.SubmitMessage(context.Background(), &store.SubmitMessage{
		ChatID:  chat.ID,
		Role:    store.RoleUser,
		Content: store.ContentParts{store.Text{TextValue: "hi"}},
	})
	require.NoError(t, err)

	body := fmt.Sprintf(`{"current_message_id":%q}`, userMsg.ID)
	req, rec := requestWithSubject(http.MethodPost, "/messages/regeneratestream", body, "alice")
	c := e.NewContext(req, rec)
	handler := SubjectMiddleware(srv.RegenerateStream)

	err = handler(c)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, httpErr.Code)
}

func TestRegenerateStreamSpawnsGenerationFromPreviousUserMessage(t *testing.T) {
	srv, st, runner := newTestServer(t)
	e := echo.New()

	chat, err := st.CreateChat(context.Background(), &store.CreateChat{OwnerID: "alice"})
	require.NoError(t, err)
	userMsg, err := st.SubmitMessage(context.Background(), &store.SubmitMessage{
		ChatID:  chat.ID,
		Role:    store.RoleUser,
		Content: store.ContentParts{store.Text{TextValue: "hi"}},
	})
	require.NoError(t, err)
	assistantMsg, err := st.SubmitMessage(context.Background(), &store.SubmitMessage{
		ChatID:            chat.ID,
		Role:              store.RoleAssistant,
		Content:           store.ContentParts{store.Text{TextValue: "hello"}},
		PreviousMessageID: userMsg.ID,
	})
	require.NoError(t, err)

	body := fmt.Sprintf(`{"current_message_id":%q}`, assistantMsg.ID)
	req, rec := requestWithSubject(http.MethodPost, "/messages/regeneratestream", body, "alice")
	c := e.NewContext(req, rec)
	handler := SubjectMiddleware(srv.RegenerateStream)

	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, runner.runCount())
	assert.Equal(t, userMsg.ID, runner.lastRun().UserMessageID)
}

func TestEditStreamRejectsNonUserMessage(t *testing.T) {
	srv, st, _ := newTestServer(t)
	e := echo.New()

	chat, err := st.CreateChat(context.Background(), &store.CreateChat{OwnerID: "alice"})
	require.NoError(t, err)
	assistantMsg, err := st.SubmitMessage(context.Background(), &store.SubmitMessage{
		ChatID:  chat.ID,
		Role:    store.RoleAssistant,
		Content: store.ContentParts{store.Text{TextValue: "hello"}},
	})
	require.NoError(t, err)

	body := fmt.Sprintf(`{"message_id":%q,"replace_user_message":"edited"}`, assistantMsg.ID)
	req, rec := requestWithSubject(http.MethodPost, "/messages/editstream", body, "alice")
	c := e.NewContext(req, rec)
	handler := SubjectMiddleware(srv.EditStream)

	err = handler(c)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, httpErr.Code)
}

func TestEditStreamCreatesSiblingAndSpawnsGeneration(t *testing.T) {
	srv, st, runner := newTestServer(t)
	e := echo.New()

	chat, err := st.CreateChat(context.Background(), &store.CreateChat{OwnerID: "alice"})
	require.NoError(t, err)
	userMsg, err := st.SubmitMessage(context.Background(), &store.SubmitMessage{
		ChatID:  chat.ID,
		Role:    store.RoleUser,
		Content: store.ContentParts{store.Text{TextValue: "hi"}},
	})
	require.NoError(t, err)

	body := fmt.Sprintf(`{"message_id":%q,"replace_user_message":"hi again"}`, userMsg.ID)
	req, rec := requestWithSubject(http.MethodPost, "/messages/editstream", body, "alice")
	c := e.NewContext(req, rec)
	handler := SubjectMiddleware(srv.EditStream)

	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, runner.runCount())

	sibling, err := st.GetMessage(context.Background(), runner.lastRun().UserMessageID)
	require.NoError(t, err)
	assert.Equal(t, userMsg.ID, sibling.SiblingMessageID)
}

func TestResumeStreamReturns404WhenNoTaskInFlight(t *testing.T) {
	srv, st, _ := newTestServer(t)
	e := echo.New()

	chat, err := st.CreateChat(context.Background(), &store.CreateChat{OwnerID: "alice"})
	require.NoError(t, err)

	body := fmt.Sprintf(`{"chat_id":%q}`, chat.ID)
	req, rec := requestWithSubject(http.MethodPost, "/messages/resumestream", body, "alice")
	c := e.NewContext(req, rec)
	handler := SubjectMiddleware(srv.ResumeStream)

	err = handler(c)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, httpErr.Code)
}

func TestResumeStreamRejectsNonOwner(t *testing.T) {
	srv, st, _ := newTestServer(t)
	e := echo.New()

	chat, err := st.CreateChat(context.Background(), &store.CreateChat{OwnerID: "alice"})
	require.NoError(t, err)
	srv.Hub.StartTask(chat.ID, "gen-1")

	body := fmt.Sprintf(`{"chat_id":%q}`, chat.ID)
	req, rec := requestWithSubject(http.MethodPost, "/messages/resumestream", body, "mallory")
	c := e.NewContext(req, rec)
	handler := SubjectMiddleware(srv.ResumeStream)

	err = handler(c)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, httpErr.Code)
}

func TestResumeStreamReplaysHistoryThenLiveEvent(t *testing.T) {
	srv, st, _ := newTestServer(t)
	e := echo.New()

	chat, err := st.CreateChat(context.Background(), &store.CreateChat{OwnerID: "alice"})
	require.NoError(t, err)
	_, handle := srv.Hub.StartTask(chat.ID, "gen-1")
	srv.Hub.SendEvent(handle, event.UserMessageSaved("msg-1", nil))
	srv.Hub.SendEvent(handle, event.StreamEnd())
	srv.Hub.MarkCompleted(handle)

	body := fmt.Sprintf(`{"chat_id":%q}`, chat.ID)
	req, rec := requestWithSubject(http.MethodPost, "/messages/resumestream", body, "alice")
	c := e.NewContext(req, rec)
	handler := SubjectMiddleware(srv.ResumeStream)

	require.NoError(t, handler(c))
	assert.Contains(t, rec.Body.String(), "stream_end")
}
