// SPDX-License-Identifier: GPL-3.0-or-later
package filewriter

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/CrawX/go-imap-downloader/domain"
	"github.com/CrawX/go-imap-downloader/mail"

	"github.com/sirupsen/logrus"
)

const (
	ChunkSize     = 1 << 20
	DirDateFormat = "2006-01-02 15-04-05"

	// Most file systems limit a name to 255 bytes, the date, id and
	// numbering suffixes have to fit next to these.
	MaxSubjectBytes  = 150
	MaxFilenameBytes = 200
	maxExtBytes      = 16
)

// Writer stores decoded messages below an account directory, one directory
// per message.
type Writer struct {
	l *logrus.Logger
}

func NewWriter(l *logrus.Logger) *Writer {
	return &Writer{l: l}
}

// MessageDir returns <accountDir>/<subject>_<date>_<id>, or
// <accountDir>/<subject>_<id> when the message has no date.
// The subject is cut to MaxSubjectBytes.
func MessageDir(accountDir string, msg *domain.DecodedMessage) string {
	subject := truncate(msg.Subject, MaxSubjectBytes)
	name := fmt.Sprintf("%s_%v", subject, msg.ID)
	if msg.Date != nil {
		name = fmt.Sprintf("%s_%s_%v", subject, msg.Date.Format(DirDateFormat), msg.ID)
	}
	return filepath.Join(accountDir, name)
}

// Write stores every part of msg. HTML parts are only written when
// includeHTML is set. Only a failure to create the message directory is
// returned, failed files are logged and left out of the result.
func (w *Writer) Write(msg *domain.DecodedMessage, accountDir string, includeHTML bool) (domain.WrittenPaths, error) {
	dir := MessageDir(accountDir, msg)
	written := domain.WrittenPaths{Dir: dir}

	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return written, fmt.Errorf("could not create directory for mail %v: %w", msg.ID, err)
	}

	baseLogger := w.l.WithFields(logrus.Fields{"uid": msg.ID, "subject": mail.ShortSubject(msg.Subject)})
	subject := truncate(msg.Subject, MaxSubjectBytes)
	used := map[string]bool{}
	for _, part := range msg.Parts {
		var filename string
		switch p := part.(type) {
		case domain.TextPart:
			filename = unique(used, subject, "txt")
		case domain.HTMLPart:
			if !includeHTML {
				continue
			}
			filename = unique(used, subject, "html")
		case domain.ImagePart:
			ext := mail.SafeFilename(p.Subtype)
			if len(ext) == 0 {
				ext = "bin"
			}
			filename = unique(used, subject, ext)
		case domain.AttachmentPart:
			stem, ext := splitFilename(p.Filename)
			filename = unique(used, stem, ext)
		default:
			continue
		}

		path := filepath.Join(dir, filename)
		err := writeChunked(path, part.Payload())
		if err != nil {
			baseLogger.WithFields(logrus.Fields{"file": filename, "kind": part.Kind(), "error": err}).Error("Could not write file")
			continue
		}

		written.Files = append(written.Files, path)
		if part.Kind() == domain.AttachmentKind {
			written.Attachments++
		}
	}

	baseLogger.WithFields(logrus.Fields{"dir": dir, "files": len(written.Files), "attachments": written.Attachments}).Debug("Wrote mail")
	return written, nil
}

// unique returns <stem>.<ext> for the first use of a name within a mail and
// <stem>_2.<ext>, <stem>_3.<ext> for the following ones.
func unique(used map[string]bool, stem, ext string) string {
	name := join(stem, ext)
	for n := 2; used[strings.ToLower(name)]; n++ {
		name = join(fmt.Sprintf("%s_%d", stem, n), ext)
	}
	used[strings.ToLower(name)] = true
	return name
}

func join(stem, ext string) string {
	if len(ext) == 0 {
		return stem
	}
	return stem + "." + ext
}

// splitFilename splits an attachment name into a stem of at most
// MaxFilenameBytes and its extension. Names without a usable extension get
// an empty one.
func splitFilename(filename string) (string, string) {
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	ext = strings.TrimPrefix(ext, ".")
	if len(stem) == 0 || len(ext) > maxExtBytes {
		stem, ext = filename, ""
	}
	return truncate(stem, MaxFilenameBytes), ext
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return strings.TrimSpace(s[:n])
}

// writeChunked truncates path and writes content in ChunkSize blocks.
func writeChunked(path string, content []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("could not open %s: %w", path, err)
	}

	for offset := 0; offset < len(content); offset += ChunkSize {
		end := min(offset+ChunkSize, len(content))
		_, err = f.Write(content[offset:end])
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("could not write %s: %w", path, err)
		}
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("could not close %s: %w", path, err)
	}
	return nil
}
