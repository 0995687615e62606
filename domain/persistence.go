// SPDX-License-Identifier: GPL-3.0-or-later
package domain

//go:generate mockgen -destination=mocks/persistence.go -package=mocks . History
import "time"

// Checkpoint lists the ids a previous run resolved. Ids are kept in their
// string form as written to resume.json.
type Checkpoint struct {
	Completed   []string `json:"completed"`
	Failed      []string `json:"failed"`
	UIDValidity uint32   `json:"uidvalidity,omitempty"`
}

func (c *Checkpoint) CompletedSet() map[string]bool {
	set := make(map[string]bool, len(c.Completed))
	for _, id := range c.Completed {
		set[id] = true
	}
	return set
}

type DownloadRecord struct {
	RunId        string
	Account      string
	Uid          uint32
	UidValidity  uint32
	Subject      string
	Directory    string
	Attachments  int
	Success      bool
	Error        string
	DownloadedAt time.Time
}

type SavedDownload struct {
	Id int64
	DownloadRecord
}

type History interface {
	Close() error
	SaveDownload(record DownloadRecord) error
	RecentDownloads(account string, limit int) ([]*SavedDownload, error)
}
