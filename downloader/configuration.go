// SPDX-License-Identifier: GPL-3.0-or-later
package downloader

import (
	"fmt"
	"strings"
	"time"

	"github.com/CrawX/go-imap-downloader/domain"
)

const DefaultBaseDir = "downloads"

type ConfigFunc func(c *configuration) error

// DownloadHTML also stores text/html parts.
func DownloadHTML() ConfigFunc {
	return func(c *configuration) error {
		c.DownloadHTML = true
		return nil
	}
}

// MarkAsRead flags every downloaded mail as seen when the run ends.
func MarkAsRead() ConfigFunc {
	return func(c *configuration) error {
		c.MarkAsRead = true
		return nil
	}
}

// Resume skips mails a previous run already downloaded.
func Resume() ConfigFunc {
	return func(c *configuration) error {
		c.Resume = true
		return nil
	}
}

func WithProgress(sink domain.ProgressSink) ConfigFunc {
	return func(c *configuration) error {
		if sink == nil {
			return fmt.Errorf("progress sink cannot be nil")
		}
		c.Progress = sink
		return nil
	}
}

func OnComplete(fn domain.CompletionFunc) ConfigFunc {
	return func(c *configuration) error {
		if fn == nil {
			return fmt.Errorf("completion func cannot be nil")
		}
		c.OnComplete = fn
		return nil
	}
}

// BaseDir sets the directory holding one subdirectory per account.
func BaseDir(dir string) ConfigFunc {
	return func(c *configuration) error {
		if len(strings.TrimSpace(dir)) == 0 {
			return fmt.Errorf("BaseDir cannot be empty")
		}
		c.BaseDir = dir
		return nil
	}
}

type configuration struct {
	DownloadHTML bool
	MarkAsRead   bool
	Resume       bool

	Progress   domain.ProgressSink
	OnComplete domain.CompletionFunc

	BaseDir    string
	RetryDelay time.Duration
}

func defaultConfiguration() *configuration {
	return &configuration{
		Progress:   nopSink{},
		OnComplete: func(domain.Result) {},
		BaseDir:    DefaultBaseDir,
		RetryDelay: RetryDelay,
	}
}

type nopSink struct{}

func (nopSink) Status(domain.Status)                  {}
func (nopSink) Progress(int, domain.ProgressSnapshot) {}
