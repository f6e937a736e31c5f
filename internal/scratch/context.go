package scratch

import (
	"context"
	"fmt"
	"strings"
)

// MaxContextChars bounds the workspace blurb attached to chat requests.
const MaxContextChars = 1200

const truncationMarker = "…"

// BuildContext summarizes the closet, pantry, watchlist, task and habit
// stores as a short plain-text blurb. Empty stores are skipped. The result
// never exceeds MaxContextChars runes; a cut blurb ends with "…".
func BuildContext(ctx context.Context, w *Workspace) string {
	var sections []string

	if items := w.Closet.All(ctx); len(items) > 0 {
		parts := make([]string, 0, len(items))
		for _, it := range items {
			parts = append(parts, withDetails(it.Name, it.Color, it.Category))
		}
		sections = append(sections, "Closet: "+strings.Join(parts, "; "))
	}

	if items := w.Pantry.All(ctx); len(items) > 0 {
		parts := make([]string, 0, len(items))
		for _, it := range items {
			detail := ""
			if it.ExpiresOn != "" {
				detail = "expires " + it.ExpiresOn
			}
			parts = append(parts, withDetails(it.Name, it.Quantity, detail))
		}
		sections = append(sections, "Pantry: "+strings.Join(parts, "; "))
	}

	if items := w.Watchlist.All(ctx); len(items) > 0 {
		parts := make([]string, 0, len(items))
		for _, it := range items {
			parts = append(parts, withDetails(it.Symbol, it.Note))
		}
		sections = append(sections, "Watchlist: "+strings.Join(parts, "; "))
	}

	if items := w.Tasks.All(ctx); len(items) > 0 {
		parts := make([]string, 0, len(items))
		for _, it := range items {
			detail := ""
			if it.Due != "" {
				detail = "due " + it.Due
			}
			parts = append(parts, withDetails(it.Title, it.Status, detail))
		}
		sections = append(sections, "Tasks: "+strings.Join(parts, "; "))
	}

	if items := w.Habits.All(ctx); len(items) > 0 {
		parts := make([]string, 0, len(items))
		for _, it := range items {
			parts = append(parts, fmt.Sprintf("%s (streak %d)", it.Name, it.Streak))
		}
		sections = append(sections, "Habits: "+strings.Join(parts, "; "))
	}

	return Truncate(strings.Join(sections, "\n"), MaxContextChars)
}

// Truncate cuts s to at most limit runes, replacing the tail with "…" when
// anything was dropped.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	marker := []rune(truncationMarker)
	if limit <= len(marker) {
		return string(runes[:limit])
	}
	return string(runes[:limit-len(marker)]) + truncationMarker
}

func withDetails(name string, details ...string) string {
	var kept []string
	for _, d := range details {
		if d != "" {
			kept = append(kept, d)
		}
	}
	if len(kept) == 0 {
		return name
	}
	return name + " (" + strings.Join(kept, ", ") + ")"
}
