package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivermint/chatforge/event"
)

func newTestContext(t *testing.T, ctx context.Context) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/messages/submitstream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestPumpEventsWritesHistoryThenStopsOnStreamEnd(t *testing.T) {
	c, rec := newTestContext(t, context.Background())
	w := newSSEWriter(c)

	history := []event.Event{
		event.UserMessageSaved("msg-1", nil),
		event.StreamEnd(),
	}
	live := make(chan event.Event)

	err := pumpEvents(c, w, history, live)
	require.NoError(t, err)

	body := rec.Body.String()
	assert.Contains(t, body, "user_message_saved")
	assert.Contains(t, body, "stream_end")
}

func TestPumpEventsDeliversLiveEventsUntilStreamEnd(t *testing.T) {
	c, rec := newTestContext(t, context.Background())
	w := newSSEWriter(c)

	live := make(chan event.Event, 2)
	live <- event.TextDelta("msg-1", 0, "hello")
	live <- event.StreamEnd()

	err := pumpEvents(c, w, nil, live)
	require.NoError(t, err)

	body := rec.Body.String()
	assert.Contains(t, body, "text_delta")
	assert.Contains(t, body, "stream_end")
	assert.True(t, strings.Index(body, "text_delta") < strings.Index(body, "stream_end"))
}

func TestPumpEventsStopsWhenLiveChannelCloses(t *testing.T) {
	c, _ := newTestContext(t, context.Background())
	w := newSSEWriter(c)

	live := make(chan event.Event)
	close(live)

	err := pumpEvents(c, w, nil, live)
	assert.NoError(t, err)
}

func TestPumpEventsReturnsWhenClientDisconnects(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c, _ := newTestContext(t, ctx)
	w := newSSEWriter(c)

	cancel()
	live := make(chan event.Event)

	err := pumpEvents(c, w, nil, live)
	assert.NoError(t, err)
}

func TestNewSSEWriterSetsEventStreamHeaders(t *testing.T) {
	c, rec := newTestContext(t, context.Background())
	newSSEWriter(c)

	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, http.StatusOK, rec.Code)
}
