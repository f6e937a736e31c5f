package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/capitalize-ai/marketplace-stream/internal/model"
	"github.com/capitalize-ai/marketplace-stream/internal/session"
)

var (
	badgeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F43F5E")).
			Bold(true)
	dimStyle     = lipgloss.NewStyle().Faint(true)
	headerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#06B6D4")).Bold(true)
	userStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B")).Bold(true)
	pendingStyle = lipgloss.NewStyle().Italic(true).Faint(true)
)

// usageBadge renders the model and coin cost of a generation. Unknown parts
// are left out; an empty usage renders as "".
func usageBadge(u *model.UsageEvent) string {
	if u == nil {
		return ""
	}
	var parts []string
	if u.Model != "" {
		parts = append(parts, u.Model)
	}
	if u.CoinCost != nil {
		parts = append(parts, fmt.Sprintf("%.2f coins", *u.CoinCost))
	}
	if len(parts) == 0 {
		return ""
	}
	return badgeStyle.Render("[" + strings.Join(parts, " · ") + "]")
}

// printer turns session snapshots into terminal output. The primary session
// is printed as it streams; the compare session is printed once it ends.
type printer struct {
	mu     sync.Mutex
	out    io.Writer
	errOut io.Writer

	compare      strings.Builder
	compareModel string
}

func newPrinter(out, errOut io.Writer, compareModel string) *printer {
	return &printer{out: out, errOut: errOut, compareModel: compareModel}
}

func (p *printer) observe(s session.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev := s.Event.(type) {
	case model.DeltaEvent:
		if s.Role == session.RoleCompare {
			p.compare.WriteString(ev.Content)
			return
		}
		fmt.Fprint(p.out, ev.Content)
	case model.CompressedEvent:
		fmt.Fprintln(p.errOut, dimStyle.Render("(earlier messages were summarized)"))
	case model.MemorySuggestionEvent:
		fmt.Fprintln(p.errOut, dimStyle.Render("memory suggestion: "+ev.Content))
	}

	if s.Outcome == "" {
		return
	}

	if s.Role == session.RoleCompare {
		fmt.Fprintln(p.out)
		fmt.Fprintln(p.out, headerStyle.Render("── "+p.compareModel+" ──"))
		fmt.Fprint(p.out, p.compare.String())
		p.compare.Reset()
	}
	fmt.Fprintln(p.out)
	if badge := usageBadge(s.Usage); badge != "" {
		fmt.Fprintln(p.out, badge)
	}
}

func (p *printer) notify(role session.Role, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prefix := "error"
	if role == session.RoleCompare {
		prefix = "compare error"
	}
	fmt.Fprintln(p.errOut, errorStyle.Render(prefix+": "+message))
}

func renderMessage(m model.Message) string {
	var b strings.Builder
	switch {
	case m.Optimistic:
		b.WriteString(pendingStyle.Render("you (sending): " + m.Content))
	case m.Role == model.RoleUser:
		b.WriteString(userStyle.Render("you: "))
		b.WriteString(m.Content)
	default:
		b.WriteString(headerStyle.Render(string(m.Role) + ": "))
		b.WriteString(m.Content)
		if m.Model != nil || m.CoinCost != nil {
			u := &model.UsageEvent{CoinCost: m.CoinCost}
			if m.Model != nil {
				u.Model = *m.Model
			}
			b.WriteString(" " + usageBadge(u))
		}
	}
	return b.String()
}
