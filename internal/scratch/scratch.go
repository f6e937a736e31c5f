// Package scratch implements the local workspace stores: small JSON
// documents kept under fixed namespaced keys that the backend never sees.
//
// Reads never fail. A missing key, corrupt JSON or an unavailable backend
// all read as the empty default. Writes rewrite the whole document and report
// errors to the caller.
package scratch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned by a Backend when a key has never been written.
	ErrNotFound = errors.New("scratch key not found")
	// ErrUnavailable is returned by writes when no backend is configured.
	ErrUnavailable = errors.New("scratch storage unavailable")
	// ErrInvalidKey is returned for keys a backend cannot store.
	ErrInvalidKey = errors.New("invalid scratch key")
	// ErrRecordNotFound is returned when updating a record that is not in the list.
	ErrRecordNotFound = errors.New("record not found")
)

// Store keys.
const (
	KeyCloset    = "workspace.closet"
	KeyPantry    = "workspace.pantry"
	KeyWatchlist = "workspace.watchlist"
	KeyTasks     = "workspace.tasks"
	KeyHabits    = "workspace.habits"
	KeyMacros    = "workspace.macros"
	KeyBrandKit  = "workspace.brandkit"

	settingsPrefix = "settings."
)

// Backend persists opaque values by key.
type Backend interface {
	// Load returns the stored value, or ErrNotFound.
	Load(ctx context.Context, key string) ([]byte, error)
	// Save replaces the stored value.
	Save(ctx context.Context, key string, value []byte) error
}

// ValidateKey checks that key only uses characters every backend accepts:
// letters, digits, '-', '_' and '.' separators between non-empty tokens.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, ".") || strings.HasSuffix(key, ".") || strings.Contains(key, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, r := range key {
		if !isKeyRune(r) && r != '.' {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

func isKeyRune(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_'
}

// ownerToken maps owner onto a single key token. Distinct owners always get
// distinct tokens; the digest keeps arbitrary ids and long bearer tokens
// within every backend's key alphabet and length.
func ownerToken(owner string) string {
	sum := sha256.Sum256([]byte(owner))
	return hex.EncodeToString(sum[:])
}

type scoped struct {
	backend Backend
	prefix  string
}

// Scoped returns a backend whose keys are namespaced under owner, so several
// users can share one physical backend.
func Scoped(b Backend, owner string) Backend {
	if b == nil {
		return nil
	}
	return &scoped{backend: b, prefix: "u." + ownerToken(owner) + "."}
}

func (s *scoped) Load(ctx context.Context, key string) ([]byte, error) {
	return s.backend.Load(ctx, s.prefix+key)
}

func (s *scoped) Save(ctx context.Context, key string, value []byte) error {
	return s.backend.Save(ctx, s.prefix+key, value)
}
