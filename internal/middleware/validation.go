package middleware

import (
	"errors"
	"unicode/utf8"

	"github.com/capitalize-ai/marketplace-stream/internal/model"
)

const (
	maxMessageBytes    = 100000
	maxIDLength        = 128
	maxAttachments     = 10
	maxAttachmentBytes = 20 << 20
)

// ValidateMessageContent validates user message text. Empty text is allowed
// because attachments or follow-ups may stand in for it.
func ValidateMessageContent(content string) error {
	if len(content) > maxMessageBytes {
		return errors.New("message exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("message must be valid UTF-8")
	}
	return nil
}

// ValidateID validates a conversation or message id. Ids are opaque to the
// relay but must be URL-path safe.
func ValidateID(id string) error {
	if id == "" {
		return errors.New("id cannot be empty")
	}
	if len(id) > maxIDLength {
		return errors.New("id exceeds maximum length")
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return errors.New("id contains invalid characters")
		}
	}
	return nil
}

// ValidateAttachments bounds the number and encoded size of attachments.
func ValidateAttachments(attachments []model.Attachment) error {
	if len(attachments) > maxAttachments {
		return errors.New("too many attachments")
	}
	for _, a := range attachments {
		if a.Data == "" {
			return errors.New("attachment data cannot be empty")
		}
		if len(a.Data) > maxAttachmentBytes {
			return errors.New("attachment exceeds maximum size")
		}
	}
	return nil
}

// ValidateStreamRequest applies the relay's input limits on top of the
// request's own validation.
func ValidateStreamRequest(req *model.StreamRequest) error {
	if err := ValidateID(req.ConversationID); err != nil {
		return err
	}
	if req.ReferenceMessageID != "" {
		if err := ValidateID(req.ReferenceMessageID); err != nil {
			return err
		}
	}
	if err := ValidateMessageContent(req.Message); err != nil {
		return err
	}
	if err := ValidateAttachments(req.Attachments); err != nil {
		return err
	}
	return req.Validate()
}
