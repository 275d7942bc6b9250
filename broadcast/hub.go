// Package broadcast implements the Broadcast Hub (spec §4.8): a per-process
// registry of chat_id → BroadcastTask, each task owning a history buffer and
// a set of live subscriber channels, so that a reconnecting client can
// resume a generation in progress with exact-once delivery of history plus
// best-effort delivery of live events (spec §4.9 resume semantics).
//
// The Hub's map is guarded by a single sync.RWMutex per spec §5 ("the
// Broadcast Hub map is behind a read-write lock"); each Task then owns its
// own synchronisation for history/subscriber mutation, the same split the
// teacher's EventBus (map+RWMutex of listeners) and BlockManager
// (per-block eventSerializer owning its own channel/mutex) both use.
package broadcast

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rivermint/chatforge/event"
)

const (
	// subscriberBufferSize bounds each live subscriber's channel. A full
	// buffer means that subscriber is lagging; spec §4.8 says lagged
	// subscribers "skip forward (with a warning) and are not disconnected",
	// so a full send is dropped rather than blocking the publisher — the
	// same non-blocking-enqueue-or-drop shape as the teacher's
	// eventSerializer.enqueue.
	subscriberBufferSize = 256

	// DefaultGraceWindow is the minimum time a completed task lingers
	// before ReapExpired removes it (spec §5: "the broadcast grace window
	// is ≥ 60 s").
	DefaultGraceWindow = 60 * time.Second
)

// Handle is an opaque reference to one chat's BroadcastTask, returned by
// StartTask/GetTask and required by every other per-task operation. Holding
// a Handle across an await point is always safe: it outlives RemoveTask, and
// subscribing through a removed task's Handle yields an already-closed channel.
type Handle struct {
	task *task
}

// ChatID returns the chat this handle's task belongs to.
func (h *Handle) ChatID() string { return h.task.chatID }

type task struct {
	chatID string
	genID  string

	mu          sync.Mutex
	history     []event.Event
	subscribers map[int]chan event.Event
	nextSubID   int
	completed   bool
	completedAt time.Time
}

// Hub is the per-process map: chat_id → BroadcastTask.
type Hub struct {
	mu    sync.RWMutex
	tasks map[string]*task
	log   *slog.Logger
}

// NewHub builds an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{tasks: make(map[string]*task), log: logger}
}

// StartTask creates the task for chatID if absent (idempotent — a second
// call for a chat already generating returns the existing task's handle
// and a fresh subscriber rather than erroring) and returns a live
// subscriber channel alongside its Handle.
func (h *Hub) StartTask(chatID, genID string) (<-chan event.Event, *Handle) {
	h.mu.Lock()
	t, ok := h.tasks[chatID]
	if !ok {
		t = &task{chatID: chatID, genID: genID, subscribers: make(map[int]chan event.Event)}
		h.tasks[chatID] = t
	}
	h.mu.Unlock()

	return t.subscribe(), &Handle{task: t}
}

// GetTask returns the handle for chatID, or ok=false if no task is
// registered — either none was ever started, or it was already reaped.
func (h *Hub) GetTask(chatID string) (*Handle, bool) {
	h.mu.RLock()
	t, ok := h.tasks[chatID]
	h.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return &Handle{task: t}, true
}

// Subscribe opens a new live-only subscriber channel on handle's task.
// Subscription never includes history; callers wanting resume semantics
// must call History first (spec §4.8: "subscription is live-only; replay
// is explicit").
func (h *Hub) Subscribe(handle *Handle) <-chan event.Event {
	return handle.task.subscribe()
}

func (t *task) subscribe() <-chan event.Event {
	ch := make(chan event.Event, subscriberBufferSize)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.subscribers == nil {
		// The task was removed: hand back an already-closed channel.
		close(ch)
		return ch
	}
	id := t.nextSubID
	t.nextSubID++
	t.subscribers[id] = ch
	return ch
}

// History returns a snapshot of every event sent so far on handle's task, in
// order. The slice is a copy; it is safe to range over after SendEvent has
// continued mutating the task.
func (h *Hub) History(handle *Handle) []event.Event {
	handle.task.mu.Lock()
	defer handle.task.mu.Unlock()
	out := make([]event.Event, len(handle.task.history))
	copy(out, handle.task.history)
	return out
}

// ResumeSubscribe atomically takes a history snapshot and opens a new live
// subscriber channel under the same lock, so no event sent between the two
// can fall in the gap and be lost, nor be delivered twice. History and
// Subscribe are kept as separate calls above for callers (tests, the
// initial-submit path) that don't need the atomicity; the resume handler
// does, since spec invariant 5 requires history to be "replayed in order"
// with no gap before live delivery picks up.
func (h *Hub) ResumeSubscribe(handle *Handle) ([]event.Event, <-chan event.Event) {
	t := handle.task
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]event.Event, len(t.history))
	copy(out, t.history)

	ch := make(chan event.Event, subscriberBufferSize)
	if t.subscribers == nil {
		close(ch)
		return out, ch
	}
	id := t.nextSubID
	t.nextSubID++
	t.subscribers[id] = ch

	return out, ch
}

// SendEvent appends evt to the task's history, then publishes it to every
// live subscriber. A subscriber whose buffer is full is skipped with a
// warning rather than blocking the generation or being torn down.
func (h *Hub) SendEvent(handle *Handle, evt event.Event) {
	t := handle.task
	t.mu.Lock()
	t.history = append(t.history, evt)
	subs := make([]chan event.Event, 0, len(t.subscribers))
	for _, ch := range t.subscribers {
		subs = append(subs, ch)
	}
	t.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
			h.log.Warn("broadcast subscriber lagging, dropping event",
				"chat_id", t.chatID, "tag", evt.Tag)
		}
	}
}

// Emit implements generation.EventSink by looking the task up for chatID
// and publishing directly; a missing task (generation started before any
// client ever subscribed) is a silent no-op, not an error — history still
// records nothing to replay in that case, matching "a reconnecting client
// gets exact-once delivery of what was actually published."
func (h *Hub) Emit(chatID string, evt event.Event) {
	h.mu.RLock()
	t, ok := h.tasks[chatID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	h.SendEvent(&Handle{task: t}, evt)
}

// MarkCompleted flags handle's task as finished and starts its grace-window
// clock; ReapExpired will remove it once the window elapses.
func (h *Hub) MarkCompleted(handle *Handle) {
	handle.task.mu.Lock()
	handle.task.completed = true
	handle.task.completedAt = time.Now()
	handle.task.mu.Unlock()
}

// RemoveTask deletes chatID's task and closes every live subscriber
// channel, unblocking any resume handler still ranging over it.
func (h *Hub) RemoveTask(chatID string) {
	h.mu.Lock()
	t, ok := h.tasks[chatID]
	if ok {
		delete(h.tasks, chatID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	closeSubscribers(t)
}

// ReapExpired removes every task that completed more than graceWindow ago,
// returning how many were removed. cmd/chatforge runs this on every tick of
// its background janitor, the loop whose adhocore/gronx cron expression gates
// the archived-chat sweep (spec §4.8 EXPANSION).
func (h *Hub) ReapExpired(graceWindow time.Duration) int {
	now := time.Now()

	h.mu.Lock()
	var expired []*task
	for chatID, t := range h.tasks {
		t.mu.Lock()
		stale := t.completed && now.Sub(t.completedAt) >= graceWindow
		t.mu.Unlock()
		if stale {
			expired = append(expired, t)
			delete(h.tasks, chatID)
		}
	}
	h.mu.Unlock()

	for _, t := range expired {
		closeSubscribers(t)
		h.log.Debug("reaped expired broadcast task", "chat_id", t.chatID)
	}
	return len(expired)
}

func closeSubscribers(t *task) {
	t.mu.Lock()
	for _, ch := range t.subscribers {
		close(ch)
	}
	t.subscribers = nil
	t.mu.Unlock()
}
