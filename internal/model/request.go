package model

import (
	"errors"
	"fmt"
)

// Mode is the simple three-tier model selector offered instead of an explicit model id.
type Mode string

const (
	ModeEconomy  Mode = "economy"
	ModeStandard Mode = "standard"
	ModePremium  Mode = "premium"
)

// QuickAction rewrites an existing assistant message.
type QuickAction string

const (
	QuickActionShorten  QuickAction = "shorten"
	QuickActionFormal   QuickAction = "formal"
	QuickActionExample  QuickAction = "example"
	QuickActionContinue QuickAction = "continue"
)

// RegenerateStyle selects how an existing answer is regenerated.
type RegenerateStyle string

const (
	RegenerateDifferent RegenerateStyle = "different"
	RegenerateAccurate  RegenerateStyle = "accurate"
	RegenerateCreative  RegenerateStyle = "creative"
)

var (
	ErrMissingConversation    = errors.New("conversation id is required")
	ErrEmptyRequest           = errors.New("message, attachments, quick action or regenerate is required")
	ErrModeAndModel           = errors.New("mode and model are mutually exclusive")
	ErrUnknownMode            = errors.New("unknown mode")
	ErrUnknownQuickAction     = errors.New("unknown quick action")
	ErrUnknownRegenerateStyle = errors.New("unknown regenerate style")
	ErrMissingReference       = errors.New("reference message id is required")
)

// StreamRequest is one outgoing generation request on the streaming endpoint.
type StreamRequest struct {
	ConversationID string `json:"-"`

	Message string `json:"message"`

	// Exactly one of Mode or Model may be set; neither lets the backend choose.
	Mode  Mode   `json:"mode,omitempty"`
	Model string `json:"model,omitempty"`

	Level            string `json:"level,omitempty"`
	Style            string `json:"style,omitempty"`
	Subject          string `json:"subject,omitempty"`
	Goal             string `json:"goal,omitempty"`
	IntegrityMode    bool   `json:"integrityMode,omitempty"`
	Place            string `json:"place,omitempty"`
	TimePerDay       string `json:"timePerDay,omitempty"`
	WorkspaceContext string `json:"workspaceContext,omitempty"`

	Regenerate      bool            `json:"regenerate,omitempty"`
	RegenerateStyle RegenerateStyle `json:"regenerateStyle,omitempty"`

	QuickAction        QuickAction `json:"quickAction,omitempty"`
	ReferenceMessageID string      `json:"referenceMessageId,omitempty"`

	Attachments []Attachment `json:"attachments,omitempty"`
}

// IsFollowUp reports whether the request acts on an existing message
// instead of carrying new user text.
func (r *StreamRequest) IsFollowUp() bool {
	return r.QuickAction != "" || r.Regenerate
}

// Validate checks the request before any transport is opened.
func (r *StreamRequest) Validate() error {
	if r.ConversationID == "" {
		return ErrMissingConversation
	}
	if r.Mode != "" && r.Model != "" {
		return ErrModeAndModel
	}
	switch r.Mode {
	case "", ModeEconomy, ModeStandard, ModePremium:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMode, r.Mode)
	}
	if r.QuickAction != "" {
		switch r.QuickAction {
		case QuickActionShorten, QuickActionFormal, QuickActionExample, QuickActionContinue:
		default:
			return fmt.Errorf("%w: %q", ErrUnknownQuickAction, r.QuickAction)
		}
	}
	if r.Regenerate {
		switch r.RegenerateStyle {
		case "", RegenerateDifferent, RegenerateAccurate, RegenerateCreative:
		default:
			return fmt.Errorf("%w: %q", ErrUnknownRegenerateStyle, r.RegenerateStyle)
		}
	}
	if r.IsFollowUp() {
		if r.ReferenceMessageID == "" {
			return ErrMissingReference
		}
		return nil
	}
	if r.Message == "" && len(r.Attachments) == 0 {
		return ErrEmptyRequest
	}
	return nil
}
