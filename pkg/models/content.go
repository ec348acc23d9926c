package models

import "strings"

// ContentKind discriminates message content parts.
type ContentKind string

const (
	ContentText  ContentKind = "text"
	ContentImage ContentKind = "image"
)

// ContentPart is one ordered element of a message body. A message always
// carries at least one part; text and images may interleave.
type ContentPart struct {
	Kind ContentKind `json:"kind" yaml:"kind"`

	// Text content.
	Text string `json:"text,omitempty" yaml:"text,omitempty"`

	// Image content.
	MimeType string `json:"mime_type,omitempty" yaml:"mimeType,omitempty"`
	Data     []byte `json:"data,omitempty" yaml:"data,omitempty"`
	Caption  string `json:"caption,omitempty" yaml:"caption,omitempty"`
	Width    int    `json:"width,omitempty" yaml:"width,omitempty"`
	Height   int    `json:"height,omitempty" yaml:"height,omitempty"`
}

// TextContent wraps a string into a single-part content slice.
func TextContent(text string) []ContentPart {
	return []ContentPart{{Kind: ContentText, Text: text}}
}

// JoinText concatenates all text parts, separated by newlines.
func JoinText(parts []ContentPart) string {
	var b strings.Builder
	for _, p := range parts {
		if p.Kind != ContentText || p.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(p.Text)
	}
	return b.String()
}
