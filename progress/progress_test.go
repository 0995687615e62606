// SPDX-License-Identifier: GPL-3.0-or-later
package progress

import (
	"testing"

	"github.com/CrawX/go-imap-downloader/domain"

	"github.com/stretchr/testify/assert"
)

func TestBarIsMonotonic(t *testing.T) {
	b := NewBar(false)

	b.Status(domain.StatusDownloading)
	b.Progress(40, domain.ProgressSnapshot{Total: 5, Downloaded: 2})
	b.Progress(20, domain.ProgressSnapshot{Total: 5, Downloaded: 1})
	assert.Equal(t, 40, b.Percent())
	assert.Equal(t, "downloading 1/5, 0 failed", b.title())

	b.Progress(100, domain.ProgressSnapshot{Total: 5, Downloaded: 4, Failed: 1})
	assert.Equal(t, 100, b.Percent())
	assert.Equal(t, "downloading 5/5, 1 failed", b.title())

	b.Stop()
}

func TestBarEmptyRun(t *testing.T) {
	b := NewBar(false)

	b.Status(domain.StatusNoUnread)
	b.Progress(100, domain.ProgressSnapshot{})
	assert.Equal(t, 100, b.Percent())
	assert.Equal(t, "no unread messages", b.title())
}
