package session

import "sync"

// Disposer tears down one subscription. Calling it more than once is a
// no-op. Every topic Subscribe returns one. The Manager's own session
// attachment (attachSubscription) is tracked by a generation counter rather
// than a Disposer.
type Disposer func()

// topic is a narrow, single-payload-type broadcast channel. Each of the ten
// emitted streams (output, reasoning, error, status, toolStart, toolUpdate,
// toolComplete, fileChange, diffAvailable, usageUpdate) is backed by its own
// topic instance rather than a single multiplexed event bus, so a subscriber
// to one stream can never observe another stream's payload shape.
type topic[T any] struct {
	mu          sync.Mutex
	subscribers map[int]func(T)
	nextID      int
}

func newTopic[T any]() *topic[T] {
	return &topic[T]{subscribers: make(map[int]func(T))}
}

// Subscribe registers fn and returns a Disposer that removes it. Safe to
// call Disposer multiple times or concurrently with Emit.
func (t *topic[T]) Subscribe(fn func(T)) Disposer {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subscribers[id] = fn
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subscribers, id)
			t.mu.Unlock()
		})
	}
}

// Emit delivers v to every current subscriber. Each handler runs inline,
// guarded individually so one subscriber's panic cannot break delivery to
// the others (matching the per-handler fault isolation in §7).
func (t *topic[T]) Emit(v T) {
	t.mu.Lock()
	handlers := make([]func(T), 0, len(t.subscribers))
	for _, fn := range t.subscribers {
		handlers = append(handlers, fn)
	}
	t.mu.Unlock()

	for _, fn := range handlers {
		t.safeInvoke(fn, v)
	}
}

func (t *topic[T]) safeInvoke(fn func(T), v T) {
	defer func() { recover() }()
	fn(v)
}

// Streams groups the ten narrow typed output topics the Manager emits on.
// Each field is independently subscribable and independently disposable.
type Streams struct {
	Output        *topic[OutputEvent]
	Reasoning     *topic[ReasoningEvent]
	Error         *topic[ErrorEvent]
	Status        *topic[StatusEvent]
	ToolStart     *topic[ToolStartEvent]
	ToolUpdate    *topic[ToolUpdateEvent]
	ToolComplete  *topic[ToolCompleteEvent]
	FileChange    *topic[FileChangeEvent]
	DiffAvailable *topic[DiffAvailableEvent]
	UsageUpdate   *topic[UsageUpdateEvent]
}

func newStreams() *Streams {
	return &Streams{
		Output:        newTopic[OutputEvent](),
		Reasoning:     newTopic[ReasoningEvent](),
		Error:         newTopic[ErrorEvent](),
		Status:        newTopic[StatusEvent](),
		ToolStart:     newTopic[ToolStartEvent](),
		ToolUpdate:    newTopic[ToolUpdateEvent](),
		ToolComplete:  newTopic[ToolCompleteEvent](),
		FileChange:    newTopic[FileChangeEvent](),
		DiffAvailable: newTopic[DiffAvailableEvent](),
		UsageUpdate:   newTopic[UsageUpdateEvent](),
	}
}

// Event payload shapes. Each mirrors the corresponding agentproto event,
// trimmed to what a subscriber (the Router) actually needs to render.

type OutputEvent struct {
	Content string
}

type ReasoningEvent struct {
	Content string
}

type ErrorEvent struct {
	Message string
}

// StatusEvent carries one of the status codes named across §4.1:
// plan_mode_enabled, plan_mode_disabled, plan_accepted, plan_rejected,
// aborted, session_expired, ready.
type StatusEvent struct {
	Code      string
	SessionID string
}

type ToolStartEvent struct {
	ToolCallID string
	ToolName   string
	Intent     string
}

type ToolUpdateEvent struct {
	ToolCallID      string
	ProgressMessage string
}

type ToolCompleteEvent struct {
	ToolCallID string
	Success    bool
	Result     string
	Error      string
}

type FileChangeEvent struct {
	Path string
}

type DiffAvailableEvent struct {
	ToolCallID string
	BeforeURI  string
	AfterURI   string
	Title      string
	Lines      []DiffLineEvent
	Truncated  bool
	TotalLines int
}

type DiffLineEvent struct {
	Type string
	Text string
}

type UsageUpdateEvent struct {
	CurrentTokens int
	LimitTokens   int
}
