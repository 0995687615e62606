// SPDX-License-Identifier: GPL-3.0-or-later
package downloader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CrawX/go-imap-downloader/domain"

	"github.com/sirupsen/logrus"
)

const (
	MaxRetries = 3
	RetryDelay = 2 * time.Second
)

// fetch downloads one mail on a fresh session per attempt. Only aborted
// connections are retried.
func (d *Downloader) fetch(ctx context.Context, r *run, id domain.MessageID) (domain.RawMessage, error) {
	var lastErr error
	for attempt := 1; attempt <= MaxRetries; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(d.configuration.RetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("fetch of mail %v cancelled: %w", id, ctx.Err())
			case <-timer.C:
			}
		}

		var raw domain.RawMessage
		err := d.withSession(ctx, r, func(session domain.Session) error {
			var err error
			raw, err = session.Fetch(id)
			return err
		})
		if err == nil {
			return raw, nil
		}
		if !errors.Is(err, domain.ErrConnectionAborted) {
			return nil, err
		}

		lastErr = err
		r.l.WithFields(logrus.Fields{"uid": id, "attempt": attempt, "error": err}).Warn("Connection aborted while fetching")
	}

	return nil, fmt.Errorf("giving up on mail %v after %d attempts: %w", id, MaxRetries, lastErr)
}
