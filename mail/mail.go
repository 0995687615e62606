// SPDX-License-Identifier: GPL-3.0-or-later
package mail

import (
	"fmt"
	"mime"
	"path"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/emersion/go-message/charset"
)

var headerDecoder = &mime.WordDecoder{
	CharsetReader: charset.Reader,
}

// DecodeHeader decodes RFC 2047 encoded words. Words without a charset label
// are read as UTF-8.
func DecodeHeader(value string) (string, error) {
	decoded, err := headerDecoder.DecodeHeader(value)
	if err != nil {
		return "", fmt.Errorf("could not decode header: %w", err)
	}
	return decoded, nil
}

const unsafeChars = `\/:*?"<>|`

// SanitizeSubject removes the characters that are not allowed in file names
// on common filesystems and trims surrounding whitespace. Control characters
// become spaces.
func SanitizeSubject(subject string) string {
	var b strings.Builder
	b.Grow(len(subject))
	for _, r := range subject {
		switch {
		case strings.ContainsRune(unsafeChars, r):
			continue
		case unicode.IsControl(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

var lastPlaceholder int64

// PlaceholderSubject returns a subject for mails without a usable one. Every
// call returns a different value.
func PlaceholderSubject() string {
	for {
		last := atomic.LoadInt64(&lastPlaceholder)
		next := time.Now().UnixNano()
		if next <= last {
			next = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastPlaceholder, last, next) {
			return fmt.Sprintf("no-subject_%d", next)
		}
	}
}

// SafeFilename reduces an attachment name to a plain file name inside the
// message directory.
func SafeFilename(filename string) string {
	filename = strings.ReplaceAll(filename, `\`, "/")
	filename = SanitizeSubject(path.Base(filename))
	if filename == "" || filename == "." || filename == ".." {
		return ""
	}
	return filename
}

func ShortSubject(subject string) string {
	runes := []rune(subject)
	if (len(runes)) > 30 {
		subject = string(runes[:30]) + "..."
	}
	return subject
}
