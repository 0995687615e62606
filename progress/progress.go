// SPDX-License-Identifier: GPL-3.0-or-later
package progress

import (
	"fmt"
	"sync"

	"github.com/CrawX/go-imap-downloader/domain"

	"github.com/pterm/pterm"
)

// Bar renders download progress on the terminal. A disabled bar only keeps
// track of the last update.
type Bar struct {
	mu       sync.Mutex
	pb       *pterm.ProgressbarPrinter
	enabled  bool
	status   domain.Status
	percent  int
	snapshot domain.ProgressSnapshot
}

func NewBar(enabled bool) *Bar {
	return &Bar{enabled: enabled}
}

func (b *Bar) Status(status domain.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.status = status
	if b.pb != nil {
		b.pb.UpdateTitle(b.title())
	}
}

func (b *Bar) Progress(percent int, snapshot domain.ProgressSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if percent < b.percent {
		// Updates arrive from several workers, keep the bar monotonic.
		percent = b.percent
	}
	delta := percent - b.percent
	b.percent = percent
	b.snapshot = snapshot

	if !b.enabled {
		return
	}

	if b.pb == nil {
		if snapshot.Total > snapshot.Resume {
			pterm.Info.Printf("Unread mails: %d\n", snapshot.Total)
			pterm.Info.Printf("Already downloaded: %d\n", snapshot.Total-snapshot.Resume)
			pterm.Println()
		}
		pb, err := pterm.DefaultProgressbar.
			WithTotal(100).
			WithTitle(b.title()).
			Start()
		if err != nil {
			b.enabled = false
			return
		}
		b.pb = pb
		delta = percent
	}

	b.pb.UpdateTitle(b.title())
	if delta > 0 {
		b.pb.Add(delta)
	}
}

func (b *Bar) title() string {
	if b.snapshot.Total == 0 {
		return string(b.status)
	}
	return fmt.Sprintf("%s %d/%d, %d failed", b.status, b.snapshot.Downloaded+b.snapshot.Failed, b.snapshot.Total, b.snapshot.Failed)
}

// Percent returns the last reported percentage.
func (b *Bar) Percent() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.percent
}

func (b *Bar) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb == nil {
		return
	}
	_, _ = b.pb.Stop()
	b.pb = nil
}

// PrintSummary prints the final counts of a run.
func PrintSummary(result domain.Result) {
	pterm.Println()
	pterm.DefaultSection.Println("Summary")
	pterm.Info.Printf("Run: %s\n", result.RunId)
	pterm.Info.Printf("Unread: %d\n", result.Stats.Total)
	pterm.Info.Printf("Downloaded: %d\n", result.Stats.Success)
	pterm.Info.Printf("Failed: %d\n", result.Stats.Failed)
	pterm.Info.Printf("Attachments: %d\n", result.Stats.Attachments)

	if result.Ok() {
		pterm.Success.Println(result.Message)
	} else {
		pterm.Error.Println(result.Message)
	}
}
