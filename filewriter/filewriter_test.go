// SPDX-License-Identifier: GPL-3.0-or-later
package filewriter

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"
	"time"

	"github.com/CrawX/go-imap-downloader/domain"
	"github.com/CrawX/go-imap-downloader/log"

	"github.com/stretchr/testify/assert"
)

func testMessage() *domain.DecodedMessage {
	date := time.Date(2024, 1, 2, 9, 5, 3, 0, time.UTC)
	return &domain.DecodedMessage{
		ID:        42,
		Subject:   "Re Q1 Report!",
		Date:      &date,
		Multipart: true,
		Parts: []domain.Part{
			domain.TextPart{Charset: "utf-8", Content: []byte("first")},
			domain.TextPart{Charset: "utf-8", Content: []byte("second")},
			domain.HTMLPart{Charset: "utf-8", Content: []byte("<p>first</p>")},
			domain.ImagePart{ContentType: "image/png", Subtype: "png", Content: []byte{0x89, 'P', 'N', 'G'}},
			domain.AttachmentPart{ContentType: "application/pdf", Filename: "report.pdf", Content: []byte("%PDF")},
		},
	}
}

func readFile(t *testing.T, path string) string {
	content, err := os.ReadFile(path)
	assert.NoError(t, err)
	return string(content)
}

func TestMessageDir(t *testing.T) {
	msg := testMessage()
	assert.Equal(t, filepath.Join("acc", "Re Q1 Report!_2024-01-02 09-05-03_42"), MessageDir("acc", msg))

	msg.Date = nil
	assert.Equal(t, filepath.Join("acc", "Re Q1 Report!_42"), MessageDir("acc", msg))
}

func TestWrite(t *testing.T) {
	accountDir := t.TempDir()
	w := NewWriter(log.NullLogger())

	written, err := w.Write(testMessage(), accountDir, false)
	assert.NoError(t, err)

	dir := filepath.Join(accountDir, "Re Q1 Report!_2024-01-02 09-05-03_42")
	assert.Equal(t, dir, written.Dir)
	assert.Equal(t, 1, written.Attachments)
	assert.Equal(t, []string{
		filepath.Join(dir, "Re Q1 Report!.txt"),
		filepath.Join(dir, "Re Q1 Report!_2.txt"),
		filepath.Join(dir, "Re Q1 Report!.png"),
		filepath.Join(dir, "report.pdf"),
	}, written.Files)

	assert.Equal(t, "first", readFile(t, filepath.Join(dir, "Re Q1 Report!.txt")))
	assert.Equal(t, "second", readFile(t, filepath.Join(dir, "Re Q1 Report!_2.txt")))
	assert.Equal(t, "%PDF", readFile(t, filepath.Join(dir, "report.pdf")))
	assert.NoFileExists(t, filepath.Join(dir, "Re Q1 Report!.html"))
}

func TestWriteHTML(t *testing.T) {
	accountDir := t.TempDir()
	w := NewWriter(log.NullLogger())

	written, err := w.Write(testMessage(), accountDir, true)
	assert.NoError(t, err)
	assert.Len(t, written.Files, 5)
	assert.Equal(t, "<p>first</p>", readFile(t, filepath.Join(written.Dir, "Re Q1 Report!.html")))
}

func TestWriteIdempotent(t *testing.T) {
	accountDir := t.TempDir()
	w := NewWriter(log.NullLogger())

	first, err := w.Write(testMessage(), accountDir, false)
	assert.NoError(t, err)

	msg := testMessage()
	msg.Parts[0] = domain.TextPart{Charset: "utf-8", Content: []byte("1")}
	second, err := w.Write(msg, accountDir, false)
	assert.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "1", readFile(t, filepath.Join(second.Dir, "Re Q1 Report!.txt")))
}

func TestWriteLargeAttachment(t *testing.T) {
	accountDir := t.TempDir()
	w := NewWriter(log.NullLogger())

	content := bytes.Repeat([]byte("0123456789abcdef"), (ChunkSize*2+ChunkSize/2)/16+3)
	msg := &domain.DecodedMessage{
		ID:      1,
		Subject: "big",
		Parts:   []domain.Part{domain.AttachmentPart{ContentType: "application/zip", Filename: "big.zip", Content: content}},
	}

	written, err := w.Write(msg, accountDir, false)
	assert.NoError(t, err)
	assert.Equal(t, filepath.Join(accountDir, "big_1"), written.Dir)

	stored, err := os.ReadFile(filepath.Join(written.Dir, "big.zip"))
	assert.NoError(t, err)
	assert.True(t, bytes.Equal(content, stored))
}

func TestWriteDirectoryFailure(t *testing.T) {
	accountDir := filepath.Join(t.TempDir(), "file")
	assert.NoError(t, os.WriteFile(accountDir, []byte("not a directory"), 0o644))
	w := NewWriter(log.NullLogger())

	written, err := w.Write(testMessage(), accountDir, false)
	assert.Error(t, err)
	assert.Empty(t, written.Files)
}

func TestWriteFileFailureContinues(t *testing.T) {
	accountDir := t.TempDir()
	w := NewWriter(log.NullLogger())
	msg := testMessage()

	// A directory in place of the attachment makes only that file fail.
	assert.NoError(t, os.MkdirAll(filepath.Join(MessageDir(accountDir, msg), "report.pdf"), 0o755))

	written, err := w.Write(msg, accountDir, false)
	assert.NoError(t, err)
	assert.Len(t, written.Files, 3)
	assert.Equal(t, 0, written.Attachments)
}

func TestWriteLongSubject(t *testing.T) {
	accountDir := t.TempDir()
	w := NewWriter(log.NullLogger())
	msg := testMessage()
	msg.Subject = strings.Repeat("季度报告", 40)

	written, err := w.Write(msg, accountDir, true)
	assert.NoError(t, err)
	assert.Len(t, written.Files, 5)

	name := filepath.Base(written.Dir)
	assert.LessOrEqual(t, len(name), 255)
	assert.True(t, utf8.ValidString(name))
	for _, file := range written.Files {
		assert.LessOrEqual(t, len(filepath.Base(file)), 255)
	}
}

func TestWriteAttachmentNameClashes(t *testing.T) {
	accountDir := t.TempDir()
	w := NewWriter(log.NullLogger())
	msg := &domain.DecodedMessage{
		ID:      5,
		Subject: "notes",
		Parts: []domain.Part{
			domain.TextPart{Charset: "utf-8", Content: []byte("body")},
			domain.AttachmentPart{ContentType: "text/plain", Filename: "notes.txt", Content: []byte("attached notes")},
			domain.AttachmentPart{ContentType: "text/csv", Filename: "data.csv", Content: []byte("a")},
			domain.AttachmentPart{ContentType: "text/csv", Filename: "data.csv", Content: []byte("b")},
			domain.AttachmentPart{ContentType: "application/octet-stream", Filename: "README", Content: []byte("c")},
		},
	}

	written, err := w.Write(msg, accountDir, false)
	assert.NoError(t, err)
	assert.Equal(t, 4, written.Attachments)

	dir := written.Dir
	assert.Equal(t, "body", readFile(t, filepath.Join(dir, "notes.txt")))
	assert.Equal(t, "attached notes", readFile(t, filepath.Join(dir, "notes_2.txt")))
	assert.Equal(t, "a", readFile(t, filepath.Join(dir, "data.csv")))
	assert.Equal(t, "b", readFile(t, filepath.Join(dir, "data_2.csv")))
	assert.Equal(t, "c", readFile(t, filepath.Join(dir, "README")))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "ab", truncate("abäc", 3))
	assert.Equal(t, "abä", truncate("abäc", 4))
	assert.Equal(t, "ab", truncate("ab cd", 3))
}
