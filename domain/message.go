// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import "time"

const DefaultCharset = "utf-8"

type PartKind int

const (
	TextKind = PartKind(iota)
	HTMLKind
	ImageKind
	AttachmentKind
)

func (k PartKind) String() string {
	switch k {
	case TextKind:
		return "text"
	case HTMLKind:
		return "html"
	case ImageKind:
		return "image"
	case AttachmentKind:
		return "attachment"
	}
	return "unknown"
}

// Part is one of TextPart, HTMLPart, ImagePart or AttachmentPart.
type Part interface {
	Kind() PartKind
	Payload() []byte
	isPart()
}

// TextPart and HTMLPart payloads are already converted to UTF-8, Charset
// records what the part declared.
type TextPart struct {
	Charset string
	Content []byte
}

type HTMLPart struct {
	Charset string
	Content []byte
}

type ImagePart struct {
	ContentType string
	// Subtype is the part after the slash, e.g. "png".
	Subtype string
	Content []byte
}

type AttachmentPart struct {
	ContentType string
	Filename    string
	Content     []byte
}

func (TextPart) Kind() PartKind       { return TextKind }
func (HTMLPart) Kind() PartKind       { return HTMLKind }
func (ImagePart) Kind() PartKind      { return ImageKind }
func (AttachmentPart) Kind() PartKind { return AttachmentKind }

func (p TextPart) Payload() []byte       { return p.Content }
func (p HTMLPart) Payload() []byte       { return p.Content }
func (p ImagePart) Payload() []byte      { return p.Content }
func (p AttachmentPart) Payload() []byte { return p.Content }

func (TextPart) isPart()       {}
func (HTMLPart) isPart()       {}
func (ImagePart) isPart()      {}
func (AttachmentPart) isPart() {}

type DecodedMessage struct {
	ID MessageID
	// Subject is decoded and sanitized, never empty.
	Subject   string
	Date      *time.Time
	Multipart bool
	Parts     []Part
}

func (m *DecodedMessage) Attachments() int {
	n := 0
	for _, p := range m.Parts {
		if p.Kind() == AttachmentKind {
			n++
		}
	}
	return n
}

type WrittenPaths struct {
	Dir         string
	Files       []string
	Attachments int
}
