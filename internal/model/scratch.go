package model

// Scratch records live only in local stores and are never synced to the backend.

// ClosetItem is a wardrobe entry.
type ClosetItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Color    string `json:"color,omitempty"`
	Category string `json:"category,omitempty"`
}

// PantryItem is a kitchen inventory entry.
type PantryItem struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Quantity  string `json:"quantity,omitempty"`
	ExpiresOn string `json:"expiresOn,omitempty"`
}

// WatchSymbol is a market symbol on the user's watchlist.
type WatchSymbol struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Note   string `json:"note,omitempty"`
}

// Task is a task board card.
type Task struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status,omitempty"`
	Due    string `json:"due,omitempty"`
}

// Habit is a tracked habit with its current streak.
type Habit struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Streak   int    `json:"streak"`
	LastDone string `json:"lastDone,omitempty"`
}

// MacroReply is a saved canned reply.
type MacroReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// BrandKit is the single brand profile object.
type BrandKit struct {
	Name    string   `json:"name,omitempty"`
	Voice   string   `json:"voice,omitempty"`
	Colors  []string `json:"colors,omitempty"`
	Fonts   []string `json:"fonts,omitempty"`
	LogoURL string   `json:"logoUrl,omitempty"`
}

func (r ClosetItem) RecordID() string  { return r.ID }
func (r PantryItem) RecordID() string  { return r.ID }
func (r WatchSymbol) RecordID() string { return r.ID }
func (r Task) RecordID() string        { return r.ID }
func (r Habit) RecordID() string       { return r.ID }
func (r MacroReply) RecordID() string  { return r.ID }

func (r *ClosetItem) SetRecordID(id string)  { r.ID = id }
func (r *PantryItem) SetRecordID(id string)  { r.ID = id }
func (r *WatchSymbol) SetRecordID(id string) { r.ID = id }
func (r *Task) SetRecordID(id string)        { r.ID = id }
func (r *Habit) SetRecordID(id string)       { r.ID = id }
func (r *MacroReply) SetRecordID(id string)  { r.ID = id }
