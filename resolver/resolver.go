// SPDX-License-Identifier: GPL-3.0-or-later
package resolver

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/CrawX/go-imap-downloader/domain"

	"github.com/sirupsen/logrus"
)

var defaultServers = map[string]string{
	"qq.com":      "imap.qq.com",
	"foxmail.com": "imap.qq.com",
	"gmail.com":   "imap.gmail.com",
	"163.com":     "imap.163.com",
	"126.com":     "imap.126.com",
	"outlook.com": "imap-mail.outlook.com",
	"hotmail.com": "imap-mail.outlook.com",
	"yahoo.com":   "imap.mail.yahoo.com",
	"icloud.com":  "imap.mail.me.com",
}

type serverFile struct {
	Servers map[string]string `json:"servers"`
}

type Resolver struct {
	serverFile string
	overrides  map[string]string

	l *logrus.Logger
}

// NewResolver creates a resolver reading serverFile on every lookup. Overrides
// take precedence over the file.
func NewResolver(serverFile string, overrides map[string]string, l *logrus.Logger) *Resolver {
	lowered := make(map[string]string, len(overrides))
	for k, v := range overrides {
		lowered[strings.ToLower(k)] = v
	}

	return &Resolver{
		serverFile: serverFile,
		overrides:  lowered,
		l:          l,
	}
}

// Resolve never fails, an unknown domain resolves to imap.<domain>.
func (r *Resolver) Resolve(mailDomain string) domain.Endpoint {
	mailDomain = strings.ToLower(strings.TrimSpace(mailDomain))
	baseLogger := r.l.WithField("domain", mailDomain)

	if host, ok := r.overrides[mailDomain]; ok {
		baseLogger.WithField("server", host).Debug("Resolved server from config")
		return endpoint(host)
	}

	servers, err := r.loadServerFile()
	if err != nil {
		baseLogger.WithField("error", err).Warn("Could not read server file, using built-in servers")
	} else if host, ok := servers[mailDomain]; ok {
		baseLogger.WithFields(logrus.Fields{"server": host, "file": r.serverFile}).Debug("Resolved server from file")
		return endpoint(host)
	}

	if host, ok := defaultServers[mailDomain]; ok {
		baseLogger.WithField("server", host).Debug("Resolved built-in server")
		return endpoint(host)
	}

	host := "imap." + mailDomain
	baseLogger.WithField("server", host).Debug("Using conventional server name")
	return endpoint(host)
}

func (r *Resolver) loadServerFile() (map[string]string, error) {
	if len(r.serverFile) == 0 {
		return nil, nil
	}

	raw, err := os.ReadFile(r.serverFile)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not read server file: %w", err)
	}

	parsed := &serverFile{}
	err = json.Unmarshal(raw, parsed)
	if err != nil {
		return nil, fmt.Errorf("could not parse server file: %w", err)
	}

	servers := make(map[string]string, len(parsed.Servers))
	for k, v := range parsed.Servers {
		if len(strings.TrimSpace(v)) == 0 {
			continue
		}
		servers[strings.ToLower(k)] = strings.TrimSpace(v)
	}
	return servers, nil
}

func endpoint(host string) domain.Endpoint {
	if h, p, err := net.SplitHostPort(host); err == nil {
		if port, err := strconv.Atoi(p); err == nil && port > 0 && port <= 65535 {
			return domain.Endpoint{Host: h, Port: port}
		}
	}
	return domain.Endpoint{Host: host, Port: domain.DefaultImapPort}
}
