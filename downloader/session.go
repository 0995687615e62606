// SPDX-License-Identifier: GPL-3.0-or-later
package downloader

import (
	"context"
	"fmt"

	"github.com/CrawX/go-imap-downloader/domain"
)

// withSession opens a session for the run, hands it to fn and always closes
// it. Close errors are logged and dropped.
func (d *Downloader) withSession(ctx context.Context, r *run, fn func(session domain.Session) error) error {
	session, err := d.opener.Open(ctx, r.endpoint, r.account)
	if err != nil {
		return fmt.Errorf("could not open session to %s: %w", r.endpoint, err)
	}
	defer func() {
		err := session.Close()
		if err != nil {
			r.l.WithField("error", err).Debug("Could not close session")
		}
	}()

	return fn(session)
}
