// SPDX-License-Identifier: GPL-3.0-or-later
package imapconnection

import (
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/CrawX/go-imap-downloader/domain"

	"github.com/emersion/go-imap/client"
)

type abortError struct {
	err error
}

func (e *abortError) Error() string {
	return e.err.Error()
}

func (e *abortError) Unwrap() error {
	return e.err
}

func (e *abortError) Is(target error) bool {
	return target == domain.ErrConnectionAborted
}

// classify marks errors that leave the session unusable so callers can test
// them with errors.Is(err, domain.ErrConnectionAborted).
func classify(err error) error {
	if err == nil || errors.Is(err, domain.ErrConnectionAborted) {
		return err
	}
	if isConnectionAbort(err) {
		return &abortError{err}
	}
	return err
}

func isConnectionAbort(err error) bool {
	for _, target := range []error{
		io.EOF,
		io.ErrUnexpectedEOF,
		net.ErrClosed,
		syscall.ECONNRESET,
		syscall.ECONNABORTED,
		syscall.EPIPE,
		client.ErrAlreadyLoggedOut,
	} {
		if errors.Is(err, target) {
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// go-imap reports a dropped connection only as text
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe")
}
