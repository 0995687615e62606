// SPDX-License-Identifier: GPL-3.0-or-later
package imapconnection

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"time"

	"github.com/CrawX/go-imap-downloader/domain"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap-compress"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"
)

const ConnectTimeout = 30 * time.Second

// Dialer opens authenticated sessions with INBOX selected.
type Dialer struct {
	tlsConfig *tls.Config
	compress  bool
	timeout   time.Duration

	l *logrus.Logger
}

type DialerOption func(d *Dialer)

// InsecureSkipVerify disables certificate verification.
func InsecureSkipVerify() DialerOption {
	return func(d *Dialer) {
		d.tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}
}

// NoCompression keeps the connection uncompressed even if the server
// supports COMPRESS=DEFLATE.
func NoCompression() DialerOption {
	return func(d *Dialer) {
		d.compress = false
	}
}

// WithConnectTimeout bounds the connect phase from dial to SELECT.
func WithConnectTimeout(timeout time.Duration) DialerOption {
	return func(d *Dialer) {
		d.timeout = timeout
	}
}

func NewDialer(l *logrus.Logger, opts ...DialerOption) *Dialer {
	d := &Dialer{
		compress: true,
		timeout:  ConnectTimeout,
		l:        l,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dialer) Open(ctx context.Context, endpoint domain.Endpoint, account domain.Account) (domain.Session, error) {
	baseLogger := d.l.WithFields(logrus.Fields{"server": endpoint.Address(), "user": account.Address})

	tlsConfig := &tls.Config{}
	if d.tlsConfig != nil {
		tlsConfig = d.tlsConfig.Clone()
	}
	if len(tlsConfig.ServerName) == 0 {
		tlsConfig.ServerName = endpoint.Host
	}

	dialer := &contextDialer{ctx: ctx, dialer: &net.Dialer{Timeout: d.timeout}, timeout: d.timeout}
	imapClient, err := client.DialWithDialerTLS(dialer, endpoint.Address(), tlsConfig)
	if err != nil {
		dialer.abort()
		return nil, classify(fmt.Errorf("could not dial to imap: %w", err))
	}
	stopTerminate := dialer.stop

	err = imapClient.Login(account.Address, account.Password)
	if err != nil {
		stopTerminate()
		_ = imapClient.Terminate()
		if isConnectionAbort(err) {
			return nil, classify(fmt.Errorf("could not login to imap: %w", err))
		}
		return nil, fmt.Errorf("could not login to imap: %w: %w", domain.ErrAuthentication, err)
	}
	baseLogger.Debug("Logged in to server")

	if d.compress {
		d.enableCompression(imapClient, baseLogger)
	}

	mailbox, err := imapClient.Select(domain.Inbox, false)
	if err != nil {
		stopTerminate()
		_ = imapClient.Logout()
		return nil, classify(fmt.Errorf("could not select %s: %w", domain.Inbox, err))
	}
	baseLogger.WithFields(logrus.Fields{"uidvalidity": mailbox.UidValidity, "messages": mailbox.Messages}).Debug("Selected mailbox")

	err = dialer.conn.SetDeadline(time.Time{})
	if err != nil {
		stopTerminate()
		_ = imapClient.Terminate()
		return nil, classify(fmt.Errorf("could not clear connect deadline: %w", err))
	}

	return &ImapSession{
		connection:    imapClient,
		uidValidity:   mailbox.UidValidity,
		stopTerminate: stopTerminate,
		l:             baseLogger,
	}, nil
}

func (d *Dialer) enableCompression(imapClient *client.Client, baseLogger *logrus.Entry) {
	compressClient := compress.NewClient(imapClient)
	supported, err := compressClient.SupportCompress(compress.Deflate)
	if err != nil {
		baseLogger.WithField("error", err).Debug("Could not check for COMPRESS support")
		return
	}
	if !supported {
		baseLogger.Debug("COMPRESS=DEFLATE not supported on server")
		return
	}

	err = compressClient.Compress(compress.Deflate)
	if err != nil {
		baseLogger.WithField("error", err).Warn("Could not enable compression, continuing uncompressed")
		return
	}
	baseLogger.Debug("COMPRESS=DEFLATE enabled")
}

type ImapSession struct {
	connection    *client.Client
	uidValidity   uint32
	stopTerminate func() bool

	l *logrus.Entry
}

func (s *ImapSession) UIDValidity() uint32 {
	return s.uidValidity
}

func (s *ImapSession) SearchUnseen() ([]domain.MessageID, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := s.connection.UidSearch(criteria)
	if err != nil {
		return nil, classify(fmt.Errorf("could not search unseen mails: %w", err))
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	ids := make([]domain.MessageID, 0, len(uids))
	for _, uid := range uids {
		ids = append(ids, domain.MessageID(uid))
	}

	s.l.WithField("unseen", len(ids)).Debug("Searched unseen mails")
	return ids, nil
}

func (s *ImapSession) Fetch(id domain.MessageID) (domain.RawMessage, error) {
	seqset := &imap.SeqSet{}
	seqset.AddNum(uint32(id))

	fullBodySection := &imap.BodySectionName{
		Peek: true,
	}
	fetchItems := []imap.FetchItem{fullBodySection.FetchItem(), imap.FetchUid}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.connection.UidFetch(seqset, fetchItems, messages)
	}()

	var (
		rawMail []byte
		readErr error
	)
	for msg := range messages {
		if msg.Uid != 0 && msg.Uid != uint32(id) {
			continue
		}
		r := msg.GetBody(fullBodySection)
		if r == nil {
			continue
		}
		rawMail, readErr = io.ReadAll(r)
	}

	err := <-done
	if err != nil {
		return nil, classify(fmt.Errorf("could not fetch mail %v: %w", id, err))
	}
	if readErr != nil {
		return nil, classify(fmt.Errorf("could not read mail body %v: %w", id, readErr))
	}
	if len(rawMail) == 0 {
		return nil, fmt.Errorf("mail %v: %w", id, domain.ErrEmptyMessage)
	}

	return rawMail, nil
}

func (s *ImapSession) MarkSeen(ids []domain.MessageID) error {
	if len(ids) == 0 {
		return nil
	}

	seqset := &imap.SeqSet{}
	for _, id := range ids {
		seqset.AddNum(uint32(id))
	}

	err := s.connection.UidStore(seqset, imap.FormatFlagsOp(imap.AddFlags, true), []interface{}{imap.SeenFlag}, nil)
	if err != nil {
		return classify(fmt.Errorf("could not set seen flag: %w", err))
	}

	s.l.WithField("count", len(ids)).Debug("Flagged mails as seen")
	return nil
}

// Close closes the mailbox and logs out. Both steps are always attempted.
func (s *ImapSession) Close() error {
	s.stopTerminate()

	var closeErr, logoutErr error
	if err := s.connection.Close(); err != nil {
		closeErr = fmt.Errorf("could not close mailbox: %w", err)
	}
	if err := s.connection.Logout(); err != nil {
		logoutErr = fmt.Errorf("could not logout: %w", err)
		_ = s.connection.Terminate()
	}

	err := errors.Join(closeErr, logoutErr)
	if err == nil {
		s.l.Debug("Logged out")
	}
	return err
}

// contextDialer puts a deadline on the whole connect phase and closes the
// connection once ctx is done. go-imap only applies a deadline for a plain
// *net.Dialer, so the wrapper has to do it itself.
type contextDialer struct {
	ctx     context.Context
	dialer  *net.Dialer
	timeout time.Duration

	conn net.Conn
	stop func() bool
}

func (c *contextDialer) Dial(network, address string) (net.Conn, error) {
	conn, err := c.dialer.DialContext(c.ctx, network, address)
	if err != nil {
		return nil, err
	}
	if c.timeout > 0 {
		err = conn.SetDeadline(time.Now().Add(c.timeout))
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	c.conn = conn
	// Unblocks the handshake and pending commands when the run is cancelled.
	c.stop = context.AfterFunc(c.ctx, func() {
		_ = conn.Close()
	})
	return conn, nil
}

// abort releases a connection whose greeting never completed.
func (c *contextDialer) abort() {
	if c.conn == nil {
		return
	}
	c.stop()
	_ = c.conn.Close()
}
