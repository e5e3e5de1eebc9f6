// Package media handles the data-URL image representation used across the
// storyboard: frames, model sheets and product shots all travel as
// "data:<mime>;base64,<payload>" strings.
package media

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"strings"
)

const fallbackMime = "image/jpeg"

// Inline is an image split into the pieces a provider request needs.
type Inline struct {
	MimeType string
	Data     string // base64, no prefix
}

func EncodeDataURL(mimeType string, data []byte) string {
	return FormatDataURL(mimeType, base64.StdEncoding.EncodeToString(data))
}

func FormatDataURL(mimeType, base64Data string) string {
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64Data)
}

// ParseDataURL splits a data URL. A bare base64 payload is accepted and
// assumed to be JPEG.
func ParseDataURL(value string) (Inline, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Inline{}, errors.New("empty data url")
	}

	const prefix = "data:"
	if !strings.HasPrefix(value, prefix) {
		return Inline{MimeType: fallbackMime, Data: value}, nil
	}

	parts := strings.SplitN(value, ",", 2)
	if len(parts) != 2 || parts[1] == "" {
		return Inline{}, errors.New("invalid data url")
	}

	meta := strings.TrimPrefix(parts[0], prefix)
	metaParts := strings.Split(meta, ";")
	mimeType := strings.TrimSpace(metaParts[0])
	if mimeType == "" {
		mimeType = fallbackMime
	}
	return Inline{MimeType: mimeType, Data: parts[1]}, nil
}

func IsDataURL(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), "data:")
}

// DecodeDataURL returns the raw bytes and mime type of a data URL.
func DecodeDataURL(value string) ([]byte, string, error) {
	in, err := ParseDataURL(value)
	if err != nil {
		return nil, "", err
	}
	data, err := base64.StdEncoding.DecodeString(in.Data)
	if err != nil {
		return nil, "", fmt.Errorf("decode base64: %w", err)
	}
	return data, in.MimeType, nil
}

// Extension picks a file extension for mimeType, ".png" when unknown.
func Extension(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	}
	if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
		return exts[0]
	}
	return ".png"
}
