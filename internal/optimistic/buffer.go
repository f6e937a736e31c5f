// Package optimistic keeps display-only echoes of messages the user has sent
// but the backend has not yet returned in the authoritative list.
package optimistic

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/marketplace-stream/internal/model"
)

// TempIDPrefix marks ids generated locally for pending messages.
const TempIDPrefix = "temp-"

// Buffer holds pending local echoes for one conversation view.
type Buffer struct {
	mu      sync.Mutex
	pending []model.Message
	now     func() time.Time
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{now: time.Now}
}

// Add records a local echo of a submitted message and returns it. When the
// text is empty and attachments were sent, the placeholder is shown instead.
func (b *Buffer) Add(text string, attachmentCount int) model.Message {
	content := text
	if strings.TrimSpace(content) == "" && attachmentCount > 0 {
		content = model.AttachmentPlaceholder
	}

	msg := model.Message{
		ID:         TempIDPrefix + uuid.NewString(),
		Role:       model.RoleUser,
		Content:    content,
		CreatedAt:  b.now(),
		Optimistic: true,
	}

	b.mu.Lock()
	b.pending = append(b.pending, msg)
	b.mu.Unlock()

	return msg
}

// Display returns the list a view should render. A non-empty server list is
// authoritative and replaces every pending echo; otherwise the pending echoes
// are shown.
func (b *Buffer) Display(server []model.Message) []model.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(server) > 0 {
		b.pending = nil
		return server
	}

	out := make([]model.Message, len(b.pending))
	copy(out, b.pending)
	return out
}

// Pending returns the number of unconfirmed echoes.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Remove drops the pending echo with id, if any.
func (b *Buffer) Remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, m := range b.pending {
		if m.ID == id {
			b.pending = append(b.pending[:i], b.pending[i+1:]...)
			return
		}
	}
}

// Clear drops all pending echoes.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.pending = nil
	b.mu.Unlock()
}

// IsTemporary reports whether id was generated locally.
func IsTemporary(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}
