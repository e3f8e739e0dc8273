package memory

import (
	"sync"

	"github.com/hupe1980/speechmesh/emitter"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Message is one conversational turn. Seq is assigned on insertion and
// messages are immutable once stored.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Seq     int64  `json:"seq"`
}

// Chat is a fixed-capacity ordered message buffer. After any mutation the
// buffer holds at most MaxLen messages and its head is never an assistant or
// tool turn. A capacity of zero or less retains nothing.
type Chat struct {
	mu       sync.RWMutex
	maxLen   int
	seq      int64
	messages []Message

	appended *emitter.Emitter[Message]
	expired  *emitter.Emitter[Message]
}

// NewChat constructs an empty buffer with the given capacity.
func NewChat(maxLen int) *Chat {
	return &Chat{
		maxLen:   maxLen,
		appended: emitter.New[Message](),
		expired:  emitter.New[Message](),
	}
}

// Put appends a message, assigns its sequence number, then evicts from the
// head until the capacity bound holds and the head is a user or system turn.
// Evicted messages are announced through OnExpired in eviction order.
func (c *Chat) Put(role Role, content string) Message {
	c.mu.Lock()
	c.seq++
	msg := Message{Role: role, Content: content, Seq: c.seq}
	c.messages = append(c.messages, msg)

	var evicted []Message
	for len(c.messages) > c.maxLen && len(c.messages) > 0 {
		evicted = append(evicted, c.messages[0])
		c.messages = c.messages[1:]
	}
	for len(c.messages) > 0 && (c.messages[0].Role == RoleAssistant || c.messages[0].Role == RoleTool) {
		evicted = append(evicted, c.messages[0])
		c.messages = c.messages[1:]
	}
	c.mu.Unlock()

	c.appended.Emit(msg)
	for _, m := range evicted {
		c.expired.Emit(m)
	}
	return msg
}

// Get returns the retained messages in insertion order as a snapshot.
func (c *Chat) Get() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Count reports the number of retained messages.
func (c *Chat) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Clear discards all retained messages without firing expiry events.
func (c *Chat) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}

// OnAppended registers a listener fired once per accepted message.
func (c *Chat) OnAppended(fn emitter.Listener[Message]) *emitter.Subscription[Message] {
	return c.appended.On(fn)
}

// OnExpired registers a listener fired once per evicted message.
func (c *Chat) OnExpired(fn emitter.Listener[Message]) *emitter.Subscription[Message] {
	return c.expired.On(fn)
}
