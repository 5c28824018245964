package activitypub

import (
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/deemkeen/fedimag/domain"
)

// MarkdownConverter turns remote HTML bodies into the Markdown stored locally.
type MarkdownConverter interface {
	Convert(html string) (string, error)
}

type htmlConverter struct {
	conv *md.Converter
}

// NewMarkdownConverter returns a converter resolving relative links against domain.
func NewMarkdownConverter(domain string) MarkdownConverter {
	return &htmlConverter{conv: md.NewConverter(domain, true, nil)}
}

func (h *htmlConverter) Convert(html string) (string, error) {
	out, err := h.conv.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("failed to convert html: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// attachmentSuffix renders image and video attachments as Markdown images.
func attachmentSuffix(attachments []domain.Attachment) string {
	var lines []string
	for _, a := range attachments {
		if a.Url == "" {
			continue
		}
		switch {
		case a.Type == "Image", a.Type == "Video", a.Type == "Document" && isMedia(a.MediaType):
			lines = append(lines, fmt.Sprintf("![%s](%s)", escapeAlt(a.Name), a.Url))
		}
	}
	return strings.Join(lines, "\n\n")
}

func isMedia(mediaType string) bool {
	return strings.HasPrefix(mediaType, "image/") || strings.HasPrefix(mediaType, "video/")
}

func escapeAlt(s string) string {
	return strings.NewReplacer("[", "\\[", "]", "\\]", "\n", " ").Replace(s)
}
