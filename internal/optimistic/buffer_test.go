package optimistic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/marketplace-stream/internal/model"
)

func TestAddCreatesLocalEcho(t *testing.T) {
	b := NewBuffer()

	msg := b.Add("hello there", 0)

	assert.True(t, IsTemporary(msg.ID))
	assert.Equal(t, model.RoleUser, msg.Role)
	assert.Equal(t, "hello there", msg.Content)
	assert.True(t, msg.Optimistic)
	assert.Equal(t, 1, b.Pending())
}

func TestAddUsesPlaceholderForAttachmentOnly(t *testing.T) {
	b := NewBuffer()

	msg := b.Add("", 2)
	assert.Equal(t, model.AttachmentPlaceholder, msg.Content)

	msg = b.Add("caption", 1)
	assert.Equal(t, "caption", msg.Content)
}

func TestAddGeneratesDistinctIDs(t *testing.T) {
	b := NewBuffer()
	a := b.Add("one", 0)
	c := b.Add("two", 0)
	assert.NotEqual(t, a.ID, c.ID)
}

func TestDisplayShowsPendingWhileServerListEmpty(t *testing.T) {
	b := NewBuffer()
	first := b.Add("first", 0)
	second := b.Add("second", 0)

	shown := b.Display(nil)
	require.Len(t, shown, 2)
	assert.Equal(t, first.ID, shown[0].ID)
	assert.Equal(t, second.ID, shown[1].ID)

	shown[0].Content = "mutated"
	assert.Equal(t, "first", b.Display(nil)[0].Content)
}

func TestDisplayHandsOffToAuthoritativeList(t *testing.T) {
	b := NewBuffer()
	b.Add("what is the weather", 0)

	server := []model.Message{
		{ID: "m1", Role: model.RoleUser, Content: "what is the weather", CreatedAt: time.Unix(100, 0)},
		{ID: "m2", Role: model.RoleAssistant, Content: "sunny", CreatedAt: time.Unix(101, 0)},
	}

	shown := b.Display(server)
	assert.Equal(t, server, shown)
	for _, m := range shown {
		assert.False(t, IsTemporary(m.ID))
		assert.False(t, m.Optimistic)
	}
	assert.Equal(t, 0, b.Pending())

	// A later empty read does not resurrect superseded echoes.
	assert.Empty(t, b.Display(nil))
}

func TestClear(t *testing.T) {
	b := NewBuffer()
	b.Add("x", 0)
	b.Clear()
	assert.Equal(t, 0, b.Pending())
}

func TestRemoveDropsOneEcho(t *testing.T) {
	b := NewBuffer()

	first := b.Add("one", 0)
	b.Add("two", 0)

	b.Remove(first.ID)
	b.Remove("temp-unknown")

	shown := b.Display(nil)
	require.Len(t, shown, 1)
	assert.Equal(t, "two", shown[0].Content)
}
