package api

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/capitalize-ai/marketplace-stream/internal/model"
)

// MaxAttachmentBytes bounds a single attachment before encoding.
const MaxAttachmentBytes = 20 << 20

var ErrAttachmentTooLarge = errors.New("attachment exceeds maximum size")

// ClassifyAttachment tags a file as image or pdf. A declared image MIME type
// wins; otherwise a PDF MIME type or ".pdf" extension means pdf; anything
// else is sent as an image.
func ClassifyAttachment(name, mimeType string) model.AttachmentType {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if strings.HasPrefix(mimeType, "image/") {
		return model.AttachmentImage
	}
	if mimeType == "application/pdf" || strings.EqualFold(filepath.Ext(name), ".pdf") {
		return model.AttachmentPDF
	}
	return model.AttachmentImage
}

// EncodeAttachment base64-encodes data without any data-URL header.
func EncodeAttachment(name, mimeType string, data []byte) model.Attachment {
	return model.Attachment{
		Type: ClassifyAttachment(name, mimeType),
		Data: base64.StdEncoding.EncodeToString(data),
		Name: name,
	}
}

// LoadAttachment reads and encodes a local file.
func LoadAttachment(path string) (model.Attachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return model.Attachment{}, fmt.Errorf("failed to stat attachment: %w", err)
	}
	if info.Size() > MaxAttachmentBytes {
		return model.Attachment{}, fmt.Errorf("%w: %s", ErrAttachmentTooLarge, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return model.Attachment{}, fmt.Errorf("failed to read attachment: %w", err)
	}

	name := filepath.Base(path)
	mimeType := mime.TypeByExtension(filepath.Ext(name))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	return EncodeAttachment(name, mimeType, data), nil
}

// NormalizeAttachment strips a "data:<mime>;base64," header from a payload
// and classifies it when the type is missing.
func NormalizeAttachment(a model.Attachment) (model.Attachment, error) {
	mimeType := ""
	if strings.HasPrefix(a.Data, "data:") {
		header, payload, ok := strings.Cut(a.Data, ",")
		if !ok {
			return a, fmt.Errorf("malformed data URL for %q", a.Name)
		}
		mimeType = strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
		a.Data = payload
	}

	if _, err := base64.StdEncoding.DecodeString(a.Data); err != nil {
		return a, fmt.Errorf("attachment %q is not valid base64: %w", a.Name, err)
	}

	switch a.Type {
	case model.AttachmentImage, model.AttachmentPDF:
	default:
		a.Type = ClassifyAttachment(a.Name, mimeType)
	}
	return a, nil
}
