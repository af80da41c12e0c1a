// Package bus implements an in-process publish/subscribe hub: handlers
// for a topic run sequentially, in subscription order, on the
// publisher's goroutine. Generalizes a single-channel broadcast hub
// into a named-topic pub/sub bus with multiple independent subscribers
// per topic.
package bus

import "sync"

// Topic names for the engine's event payloads.
const (
	TopicAnswerSubmitted     = "ANSWER_SUBMITTED"
	TopicStateUpdated        = "STATE_UPDATED"
	TopicSaveLessonRequested = "SAVE_LESSON_REQUESTED"
	TopicLessonCreated       = "LESSON_CREATED"
)

// Handler receives a topic's payload. Handlers run synchronously on the
// emitting goroutine — a slow or blocking handler delays every handler
// registered after it, and delays the caller of Emit.
type Handler func(payload interface{})

type subscription struct {
	id int64
	h  Handler
}

// Bus is a named-topic, in-process event hub.
type Bus struct {
	mu      sync.Mutex
	nextID  int64
	byTopic map[string][]subscription
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{byTopic: map[string][]subscription{}}
}

// On subscribes h to topic and returns an unsubscribe function.
func (b *Bus) On(topic string, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.byTopic[topic] = append(b.byTopic[topic], subscription{id: id, h: h})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.byTopic[topic]
		for i, s := range subs {
			if s.id == id {
				b.byTopic[topic] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	}
}

// Emit invokes every handler subscribed to topic, in subscription
// order, on the calling goroutine. A snapshot of the subscriber list is
// taken under lock so a handler that subscribes or unsubscribes during
// emission doesn't affect the current dispatch.
func (b *Bus) Emit(topic string, payload interface{}) {
	b.mu.Lock()
	subs := make([]subscription, len(b.byTopic[topic]))
	copy(subs, b.byTopic[topic])
	b.mu.Unlock()

	for _, s := range subs {
		s.h(payload)
	}
}
