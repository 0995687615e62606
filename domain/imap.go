// SPDX-License-Identifier: GPL-3.0-or-later
package domain

//go:generate mockgen -destination=mocks/imap.go -package=mocks . Session,SessionOpener
import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	DefaultImapPort = 993
	Inbox           = "INBOX"
)

var (
	ErrInvalidAccount = errors.New("invalid account")
	// ErrConnectionAborted marks failures that invalidate the session (EOF,
	// reset, broken pipe, closed connection, network timeout).
	ErrConnectionAborted = errors.New("imap connection aborted")
	ErrAuthentication    = errors.New("imap authentication failed")
	ErrEmptyMessage      = errors.New("imap returned an empty message")
)

type Account struct {
	Address  string
	Password string
}

func (a Account) Validate() error {
	if strings.Count(a.Address, "@") != 1 {
		return fmt.Errorf("%w: address %q must contain exactly one @", ErrInvalidAccount, a.Address)
	}
	local, host := a.split()
	if len(strings.TrimSpace(local)) == 0 || len(strings.TrimSpace(host)) == 0 {
		return fmt.Errorf("%w: address %q has an empty local part or domain", ErrInvalidAccount, a.Address)
	}
	return nil
}

// Domain returns the lower-cased part after the @.
func (a Account) Domain() string {
	_, host := a.split()
	return strings.ToLower(strings.TrimSpace(host))
}

func (a Account) split() (string, string) {
	i := strings.LastIndex(a.Address, "@")
	if i < 0 {
		return a.Address, ""
	}
	return a.Address[:i], a.Address[i+1:]
}

type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return e.Address()
}

// MessageID is the server-assigned UID of a message in the selected mailbox.
type MessageID uint32

func (id MessageID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

type RawMessage []byte

// Session is an authenticated connection with INBOX selected. It must not be
// used by more than one goroutine at a time.
type Session interface {
	UIDValidity() uint32
	SearchUnseen() ([]MessageID, error)
	Fetch(id MessageID) (RawMessage, error)
	MarkSeen(ids []MessageID) error

	Close() error
}

type SessionOpener interface {
	Open(ctx context.Context, endpoint Endpoint, account Account) (Session, error)
}
