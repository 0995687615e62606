// SPDX-License-Identifier: GPL-3.0-or-later
package mail

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/CrawX/go-imap-downloader/domain"

	"github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/sirupsen/logrus"
)

const (
	defaultContentType = "text/plain"
	fallbackFilename   = "attachment"
)

// Decoder turns raw RFC 5322 messages into classified parts.
type Decoder struct {
	l *logrus.Logger
}

func NewDecoder(l *logrus.Logger) *Decoder {
	return &Decoder{l: l}
}

// Decode parses raw. Only a message whose header cannot be read at all is an
// error, broken parts are logged and left out.
func (d *Decoder) Decode(id domain.MessageID, raw domain.RawMessage) (*domain.DecodedMessage, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("mail %v: %w", id, domain.ErrEmptyMessage)
	}

	// Parts are decoded one by one below, attachments must keep their bytes.
	br := bufio.NewReader(bytes.NewReader(raw))
	h, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, fmt.Errorf("could not parse mail %v: %w", id, err)
	}
	header := message.Header{Header: h}

	decoded := &domain.DecodedMessage{
		ID:      id,
		Subject: d.subject(header),
		Date:    messageDate(header),
	}
	baseLogger := d.l.WithFields(logrus.Fields{"uid": id, "subject": ShortSubject(decoded.Subject)})

	mediaType, params := contentType(header)
	if strings.HasPrefix(mediaType, "multipart/") {
		decoded.Multipart = true
		d.walk(textproto.NewMultipartReader(br, params["boundary"]), decoded, baseLogger)
	} else {
		body, err := decodeBody(header, br)
		if err != nil {
			baseLogger.WithField("error", err).Warn("Could not decode body, skipping")
		} else {
			decoded.Parts = append(decoded.Parts, domain.TextPart{
				Charset: charsetOf(header),
				Content: body,
			})
		}
	}

	baseLogger.WithFields(logrus.Fields{"parts": len(decoded.Parts), "attachments": decoded.Attachments()}).Debug("Decoded mail")
	return decoded, nil
}

func (d *Decoder) subject(h message.Header) string {
	raw := h.Get("Subject")
	subject, err := DecodeHeader(raw)
	if err != nil {
		d.l.WithFields(logrus.Fields{"subject": ShortSubject(raw), "error": err}).Debug("Could not decode subject, using raw value")
		subject = raw
	}

	subject = SanitizeSubject(subject)
	if len(subject) == 0 {
		return PlaceholderSubject()
	}
	return subject
}

func messageDate(h message.Header) *time.Time {
	if len(h.Get("Date")) == 0 {
		return nil
	}
	mailHeader := gomail.Header{Header: h}
	date, err := mailHeader.Date()
	if err != nil || date.IsZero() {
		return nil
	}
	return &date
}

func (d *Decoder) walk(mr *textproto.MultipartReader, decoded *domain.DecodedMessage, baseLogger *logrus.Entry) {
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			return
		}
		if err != nil {
			baseLogger.WithField("error", err).Warn("Could not read next part, skipping rest of mail")
			return
		}

		header := message.Header{Header: p.Header}
		mediaType, params := contentType(header)
		if strings.HasPrefix(mediaType, "multipart/") {
			d.walk(textproto.NewMultipartReader(p, params["boundary"]), decoded, baseLogger)
			continue
		}

		part, err := d.classify(header, p, baseLogger)
		if err != nil {
			baseLogger.WithField("error", err).Warn("Could not decode part, skipping")
			continue
		}
		if part != nil {
			decoded.Parts = append(decoded.Parts, part)
		}
	}
}

// classify returns nil for parts that are not kept.
func (d *Decoder) classify(header message.Header, body io.Reader, baseLogger *logrus.Entry) (domain.Part, error) {
	mediaType, params := contentType(header)
	disposition, dispositionParams, _ := header.ContentDisposition()
	filename := d.filename(dispositionParams["filename"], params["name"], baseLogger)

	isText := mediaType == "text/plain" || mediaType == "text/html"
	isImage := strings.Contains(mediaType, "image")
	isAttachment := len(filename) > 0 && (strings.EqualFold(disposition, "attachment") || (!isText && !isImage))
	if !isAttachment && !isText && !isImage {
		baseLogger.WithField("contenttype", mediaType).Debug("Skipping part")
		return nil, nil
	}

	if isAttachment {
		// Attachments are stored as sent, only the transfer encoding is undone.
		header = withoutCharset(header, mediaType, params)
	}
	content, err := decodeBody(header, body)
	if err != nil {
		return nil, fmt.Errorf("could not read %s part: %w", mediaType, err)
	}

	switch {
	case isAttachment:
		safe := SafeFilename(filename)
		if len(safe) == 0 {
			safe = fallbackFilename
		}
		return domain.AttachmentPart{ContentType: mediaType, Filename: safe, Content: content}, nil
	case mediaType == "text/plain":
		return domain.TextPart{Charset: charsetOf(header), Content: content}, nil
	case mediaType == "text/html":
		return domain.HTMLPart{Charset: charsetOf(header), Content: content}, nil
	default:
		return domain.ImagePart{ContentType: mediaType, Subtype: subtype(mediaType), Content: content}, nil
	}
}

// decodeBody undoes the transfer encoding and converts text to UTF-8.
func decodeBody(header message.Header, body io.Reader) ([]byte, error) {
	entity, err := message.New(header, body)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(entity.Body)
}

func withoutCharset(header message.Header, mediaType string, params map[string]string) message.Header {
	if _, ok := params["charset"]; !ok {
		return header
	}
	stripped := message.Header{Header: header.Copy()}
	kept := make(map[string]string, len(params))
	for k, v := range params {
		if k != "charset" {
			kept[k] = v
		}
	}
	stripped.SetContentType(mediaType, kept)
	return stripped
}

func (d *Decoder) filename(fromDisposition, fromContentType string, baseLogger *logrus.Entry) string {
	filename := fromDisposition
	if len(filename) == 0 {
		filename = fromContentType
	}
	if len(filename) == 0 {
		return ""
	}

	decoded, err := DecodeHeader(filename)
	if err != nil {
		baseLogger.WithFields(logrus.Fields{"filename": filename, "error": err}).Debug("Could not decode filename, using raw value")
		return filename
	}
	return decoded
}

func contentType(h message.Header) (string, map[string]string) {
	mediaType, params, err := h.ContentType()
	if err != nil {
		mediaType = strings.TrimSpace(strings.SplitN(h.Get("Content-Type"), ";", 2)[0])
		params = map[string]string{}
	}
	mediaType = strings.ToLower(mediaType)
	if len(mediaType) == 0 {
		mediaType = defaultContentType
	}
	if params == nil {
		params = map[string]string{}
	}
	return mediaType, params
}

func charsetOf(h message.Header) string {
	_, params := contentType(h)
	cs := strings.ToLower(strings.TrimSpace(params["charset"]))
	if len(cs) == 0 {
		return domain.DefaultCharset
	}
	return cs
}

func subtype(mediaType string) string {
	i := strings.Index(mediaType, "/")
	if i < 0 || i == len(mediaType)-1 {
		return "bin"
	}
	return mediaType[i+1:]
}
