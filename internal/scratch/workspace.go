package scratch

import (
	"github.com/capitalize-ai/marketplace-stream/internal/model"
	"github.com/capitalize-ai/marketplace-stream/pkg/logger"
)

// Workspace groups the stores of one user.
type Workspace struct {
	Closet    *List[model.ClosetItem, *model.ClosetItem]
	Pantry    *List[model.PantryItem, *model.PantryItem]
	Watchlist *List[model.WatchSymbol, *model.WatchSymbol]
	Tasks     *List[model.Task, *model.Task]
	Habits    *List[model.Habit, *model.Habit]
	Macros    *List[model.MacroReply, *model.MacroReply]
	BrandKit  *Doc[model.BrandKit]
	Settings  *Settings
}

// NewWorkspace opens every store on b.
func NewWorkspace(b Backend, log *logger.Logger) *Workspace {
	return &Workspace{
		Closet:    NewList[model.ClosetItem](b, KeyCloset, log),
		Pantry:    NewList[model.PantryItem](b, KeyPantry, log),
		Watchlist: NewList[model.WatchSymbol](b, KeyWatchlist, log),
		Tasks:     NewList[model.Task](b, KeyTasks, log),
		Habits:    NewList[model.Habit](b, KeyHabits, log),
		Macros:    NewList[model.MacroReply](b, KeyMacros, log),
		BrandKit:  NewDoc[model.BrandKit](b, KeyBrandKit, log),
		Settings:  NewSettings(b, log),
	}
}

// Collection returns a list store by its short name.
func (w *Workspace) Collection(name string) (Collection, bool) {
	switch name {
	case "closet":
		return w.Closet, true
	case "pantry":
		return w.Pantry, true
	case "watchlist":
		return w.Watchlist, true
	case "tasks":
		return w.Tasks, true
	case "habits":
		return w.Habits, true
	case "macros":
		return w.Macros, true
	default:
		return nil, false
	}
}

// CollectionNames lists the names accepted by Collection.
func CollectionNames() []string {
	return []string{"closet", "pantry", "watchlist", "tasks", "habits", "macros"}
}
