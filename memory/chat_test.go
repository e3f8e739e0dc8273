package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoRounds() []Message {
	return []Message{
		{Role: RoleUser, Content: "123"},
		{Role: RoleAssistant, Content: "abc"},
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "bye"},
	}
}

func putAll(c *Chat, msgs []Message) {
	for _, m := range msgs {
		c.Put(m.Role, m.Content)
	}
}

func contents(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func TestChat_ReachMaxLen(t *testing.T) {
	c := NewChat(2)
	putAll(c, twoRounds())

	assert.Equal(t, 2, c.Count())
	assert.Equal(t, []string{"hello", "bye"}, contents(c.Get()))
}

func TestChat_HeadNeverAssistant(t *testing.T) {
	// Capacity 3 would leave an assistant turn at the head; one more
	// eviction restores the invariant.
	c := NewChat(3)
	putAll(c, twoRounds())

	assert.Equal(t, 2, c.Count())
	got := c.Get()
	assert.Equal(t, RoleUser, got[0].Role)
	assert.Equal(t, []string{"hello", "bye"}, contents(got))
}

func TestChat_HeadNeverTool(t *testing.T) {
	c := NewChat(2)
	c.Put(RoleUser, "question")
	c.Put(RoleTool, "lookup result")
	c.Put(RoleUser, "follow-up")

	got := c.Get()
	require.NotEmpty(t, got)
	assert.Equal(t, RoleUser, got[0].Role)
	assert.Equal(t, []string{"follow-up"}, contents(got))
}

func TestChat_SystemMayRoot(t *testing.T) {
	c := NewChat(3)
	c.Put(RoleSystem, "you are concise")
	c.Put(RoleUser, "hi")
	c.Put(RoleAssistant, "hello")

	got := c.Get()
	assert.Equal(t, RoleSystem, got[0].Role)
	assert.Equal(t, 3, c.Count())
}

func TestChat_UnderCapacity(t *testing.T) {
	for _, maxLen := range []int{4, 100} {
		c := NewChat(maxLen)
		putAll(c, twoRounds())
		assert.Equal(t, 4, c.Count())
	}
}

func TestChat_NonPositiveCapacityRetainsNothing(t *testing.T) {
	for _, maxLen := range []int{0, -1} {
		c := NewChat(maxLen)
		putAll(c, twoRounds())
		assert.Equal(t, 0, c.Count())
	}
}

func TestChat_AllAssistantEmptiesBuffer(t *testing.T) {
	// Eviction of assistant/tool heads may legitimately drain everything.
	c := NewChat(2)
	c.Put(RoleAssistant, "a")
	c.Put(RoleAssistant, "b")
	c.Put(RoleAssistant, "c")

	assert.Equal(t, 0, c.Count())
}

func TestChat_BoundHoldsAfterEveryPut(t *testing.T) {
	c := NewChat(3)
	roles := []Role{RoleUser, RoleAssistant, RoleUser, RoleAssistant, RoleUser}
	for _, r := range roles {
		c.Put(r, "x")
		assert.LessOrEqual(t, c.Count(), 3)
		if got := c.Get(); len(got) > 0 {
			assert.NotEqual(t, RoleAssistant, got[0].Role)
			assert.NotEqual(t, RoleTool, got[0].Role)
		}
	}
	// Five puts [u a u a u] into capacity 3 retain exactly the last three.
	assert.Equal(t, 3, c.Count())
	assert.Equal(t, RoleUser, c.Get()[0].Role)
}

func TestChat_SequenceNumbersIncrease(t *testing.T) {
	c := NewChat(10)
	first := c.Put(RoleUser, "one")
	second := c.Put(RoleAssistant, "two")
	assert.Greater(t, second.Seq, first.Seq)
}

func TestChat_Clear(t *testing.T) {
	c := NewChat(2)
	c.Put(RoleUser, "123")
	c.Put(RoleAssistant, "abc")
	require.Equal(t, 2, c.Count())

	c.Clear()
	assert.Equal(t, 0, c.Count())
	assert.Empty(t, c.Get())
}

func TestChat_Events(t *testing.T) {
	c := NewChat(2)
	var appended, expired []string

	c.OnAppended(func(m Message) { appended = append(appended, m.Content) })
	c.OnExpired(func(m Message) { expired = append(expired, m.Content) })

	putAll(c, twoRounds())

	assert.Equal(t, []string{"123", "abc", "hello", "bye"}, appended)
	// Evictions fire in eviction order: "123" on the third put, then "abc"
	// (dangling assistant head) on the same put.
	assert.Equal(t, []string{"123", "abc"}, expired)
}

func TestStore_PerSessionChats(t *testing.T) {
	s := NewStore(5)
	a := s.Get("session-a")
	b := s.Get("session-b")

	require.NotSame(t, a, b)
	assert.Same(t, a, s.Get("session-a"))

	a.Put(RoleUser, "hi")
	assert.Equal(t, 1, a.Count())
	assert.Equal(t, 0, b.Count())

	s.Delete("session-a")
	assert.Equal(t, 1, s.Len())
}
