package model

// AttachmentType tags an attachment payload for the backend.
type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentPDF   AttachmentType = "pdf"
)

// Attachment is a binary file sent with a message, base64-encoded without a
// data-URL header.
type Attachment struct {
	Type AttachmentType `json:"type"`
	Data string         `json:"data"`
	Name string         `json:"name"`
}
