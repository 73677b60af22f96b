package prompt

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/randalmurphal/promptarena/filetype"
	"github.com/randalmurphal/promptarena/resolver"
)

// Attachment is a non-text file sent alongside the prompt text, such as an
// image or PDF for a multimodal request.
type Attachment struct {
	Path    string
	MIME    string
	Size    int64
	DataURI string
}

// NewAttachment encodes content as a base64 data URI.
func NewAttachment(path, mime string, content []byte) Attachment {
	return Attachment{
		Path:    path,
		MIME:    mime,
		Size:    int64(len(content)),
		DataURI: "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(content),
	}
}

// Builder helps construct prompts programmatically.
type Builder struct {
	parts       []string
	attachments []Attachment
}

// NewBuilder creates a new prompt builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add adds text to the prompt.
func (b *Builder) Add(text string) *Builder {
	b.parts = append(b.parts, text)
	return b
}

// AddSection adds a markdown section with header.
func (b *Builder) AddSection(header, content string) *Builder {
	b.parts = append(b.parts, fmt.Sprintf("## %s\n\n%s", header, content))
	return b
}

// AddList adds a bulleted list. An empty list adds nothing.
func (b *Builder) AddList(header string, items []string) *Builder {
	if len(items) == 0 {
		return b
	}
	var buf strings.Builder
	if header != "" {
		buf.WriteString("## ")
		buf.WriteString(header)
		buf.WriteString("\n\n")
	}
	for _, item := range items {
		buf.WriteString("- ")
		buf.WriteString(item)
		buf.WriteString("\n")
	}
	b.parts = append(b.parts, strings.TrimSuffix(buf.String(), "\n"))
	return b
}

// AddFile adds file content with XML-style tags. An empty typ omits the
// type attribute.
func (b *Builder) AddFile(path, typ, content string) *Builder {
	attrs := fmt.Sprintf("path=%q", path)
	if typ != "" {
		attrs += fmt.Sprintf(" type=%q", typ)
	}
	b.parts = append(b.parts, fmt.Sprintf("<file %s>\n%s\n</file>", attrs, strings.TrimSuffix(content, "\n")))
	return b
}

// Attach adds a non-text attachment and a reference to it in the text.
func (b *Builder) Attach(a Attachment) *Builder {
	b.attachments = append(b.attachments, a)
	b.parts = append(b.parts, fmt.Sprintf("<attachment path=%q type=%q/>", a.Path, a.MIME))
	return b
}

// AddBundle renders every admitted item of bundle in order: text as file
// blocks, images and PDFs as attachments. Omitted items other than
// duplicates are listed in a trailing section with their reasons.
func (b *Builder) AddBundle(bundle *resolver.Bundle) *Builder {
	var notes []string
	for _, it := range bundle.Items {
		if !it.Admitted() {
			if it.Omitted != resolver.ReasonDuplicate {
				notes = append(notes, omissionNote(it))
			}
			continue
		}
		switch it.Type {
		case filetype.Image, filetype.PDF:
			b.Attach(NewAttachment(it.Spec.String(), it.MIME, it.Content))
		default:
			b.AddFile(it.Spec.String(), it.Type.String(), string(it.Content))
		}
	}
	return b.AddList("Omitted files", notes)
}

func omissionNote(it resolver.Item) string {
	note := fmt.Sprintf("%s: %s", it.Name(), it.Omitted)
	if it.Detail != "" {
		note += " (" + it.Detail + ")"
	}
	return note
}

// Build returns the constructed prompt.
func (b *Builder) Build() string {
	return strings.Join(b.parts, "\n\n")
}

// Attachments returns the attachments added so far.
func (b *Builder) Attachments() []Attachment {
	return append([]Attachment(nil), b.attachments...)
}

// Clear resets the builder.
func (b *Builder) Clear() {
	b.parts = nil
	b.attachments = nil
}
