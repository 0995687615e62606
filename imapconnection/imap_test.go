// SPDX-License-Identifier: GPL-3.0-or-later
package imapconnection

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/CrawX/go-imap-downloader/domain"
	"github.com/CrawX/go-imap-downloader/log"

	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
	"github.com/stretchr/testify/assert"
)

const testMail = "From: contact@example.org\r\n" +
	"To: username@example.org\r\n" +
	"Subject: Unread mail\r\n" +
	"Date: Wed, 11 May 2016 14:31:59 +0000\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"Hi there :)"

func selfSignedConfig(t *testing.T) *tls.Config {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	assert.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	assert.NoError(t, err)

	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
	}
}

// startServer runs the in-memory go-imap server over TLS and appends one
// unseen mail to its INBOX.
func startServer(t *testing.T) domain.Endpoint {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)

	tlsListener := tls.NewListener(ln, selfSignedConfig(t))
	s := server.New(memory.New())
	s.AllowInsecureAuth = true
	go func() {
		_ = s.Serve(tlsListener)
	}()
	t.Cleanup(func() { _ = s.Close() })

	c, err := client.DialTLS(ln.Addr().String(), &tls.Config{InsecureSkipVerify: true})
	assert.NoError(t, err)
	assert.NoError(t, c.Login("username", "password"))
	assert.NoError(t, c.Append(domain.Inbox, nil, time.Now(), bytes.NewReader([]byte(testMail))))
	assert.NoError(t, c.Logout())

	host, port, err := net.SplitHostPort(ln.Addr().String())
	assert.NoError(t, err)
	p, err := strconv.Atoi(port)
	assert.NoError(t, err)
	return domain.Endpoint{Host: host, Port: p}
}

func TestImapSession(t *testing.T) {
	endpoint := startServer(t)
	dialer := NewDialer(log.NullLogger(), InsecureSkipVerify())

	session, err := dialer.Open(context.Background(), endpoint, domain.Account{Address: "username", Password: "password"})
	if !assert.NoError(t, err) {
		return
	}

	assert.NotZero(t, session.UIDValidity())

	unseen, err := session.SearchUnseen()
	assert.NoError(t, err)
	if assert.Len(t, unseen, 1) {
		raw, err := session.Fetch(unseen[0])
		assert.NoError(t, err)
		assert.Equal(t, testMail, string(raw))

		assert.NoError(t, session.MarkSeen(unseen))
		unseen, err = session.SearchUnseen()
		assert.NoError(t, err)
		assert.Empty(t, unseen)
	}

	_, err = session.Fetch(domain.MessageID(4242))
	assert.True(t, errors.Is(err, domain.ErrEmptyMessage))
	assert.False(t, errors.Is(err, domain.ErrConnectionAborted))

	assert.NoError(t, session.MarkSeen(nil))
	assert.NoError(t, session.Close())
}

func TestImapSessionBadLogin(t *testing.T) {
	endpoint := startServer(t)
	dialer := NewDialer(log.NullLogger(), InsecureSkipVerify(), NoCompression())

	session, err := dialer.Open(context.Background(), endpoint, domain.Account{Address: "username", Password: "wrong"})
	assert.Nil(t, session)
	assert.True(t, errors.Is(err, domain.ErrAuthentication))
	assert.False(t, errors.Is(err, domain.ErrConnectionAborted))
}

func TestImapSessionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	assert.NoError(t, ln.Close())

	dialer := NewDialer(log.NullLogger(), InsecureSkipVerify())
	session, err := dialer.Open(context.Background(), domain.Endpoint{Host: "127.0.0.1", Port: addr.Port}, domain.Account{Address: "username", Password: "password"})
	assert.Nil(t, session)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrAuthentication))
}

// silentListener accepts connections and never sends a greeting.
func silentListener(t *testing.T) domain.Endpoint {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)

	accepted := make(chan net.Conn, 4)
	go func() {
		defer close(accepted)
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			accepted <- conn
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		for conn := range accepted {
			_ = conn.Close()
		}
	})

	return domain.Endpoint{Host: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port}
}

func TestImapSessionSilentServerTimesOut(t *testing.T) {
	endpoint := silentListener(t)
	dialer := NewDialer(log.NullLogger(), InsecureSkipVerify(), WithConnectTimeout(300*time.Millisecond))

	start := time.Now()
	session, err := dialer.Open(context.Background(), endpoint, domain.Account{Address: "username", Password: "password"})
	assert.Nil(t, session)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConnectionAborted))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestImapSessionSilentServerCancelled(t *testing.T) {
	endpoint := silentListener(t)
	dialer := NewDialer(log.NullLogger(), InsecureSkipVerify())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	start := time.Now()
	session, err := dialer.Open(ctx, endpoint, domain.Account{Address: "username", Password: "password"})
	assert.Nil(t, session)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
