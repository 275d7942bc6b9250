package httpapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rivermint/chatforge/event"
)

// pingInterval matches spec §5: "SSE keep-alive pings flush every second."
const pingInterval = time.Second

// sseWriter wraps echo's Response (itself an http.ResponseWriter +
// http.Flusher) so the live-subscribe path and the history-replay path
// write frames through the exact same code, matching spec §4.9 ("shared by
// the live subscribe path and the history-replay path so replayed and live
// events are framed identically"). Grounded on the SSE framing/flush idiom
// of a plain `http.Flusher`-based broker: write the frame, flush
// immediately, never buffer.
type sseWriter struct {
	resp *echo.Response
}

// newSSEWriter sends the SSE response headers and returns a writer ready
// for WriteEvent/WritePing.
func newSSEWriter(c echo.Context) *sseWriter {
	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
	w := &sseWriter{resp: c.Response()}
	w.resp.Flush()
	return w
}

// WriteEvent renders evt as one SSE frame and flushes it to the client.
func (w *sseWriter) WriteEvent(evt event.Event) error {
	if _, err := w.resp.Write(evt.EncodeSSE()); err != nil {
		return err
	}
	w.resp.Flush()
	return nil
}

// WritePing writes an SSE comment line, keeping intermediary proxies from
// timing out an idle connection while no real event is pending.
func (w *sseWriter) WritePing() error {
	if _, err := w.resp.Write([]byte(": ping\n\n")); err != nil {
		return err
	}
	w.resp.Flush()
	return nil
}

// pumpEvents writes history (if any) then every event off live until live
// closes, a stream_end frame is written, or the request context ends
// (client disconnected — the generation itself is unaffected, per spec §5's
// decoupled task lifetimes). It is shared by all four handlers so replay
// and live delivery are indistinguishable to the client.
func pumpEvents(c echo.Context, w *sseWriter, history []event.Event, live <-chan event.Event) error {
	for _, evt := range history {
		if err := w.WriteEvent(evt); err != nil {
			return err
		}
		if evt.Tag == event.TagStreamEnd {
			return nil
		}
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-live:
			if !ok {
				return nil
			}
			if err := w.WriteEvent(evt); err != nil {
				return err
			}
			if evt.Tag == event.TagStreamEnd {
				return nil
			}
		case <-ticker.C:
			if err := w.WritePing(); err != nil {
				return err
			}
		}
	}
}
