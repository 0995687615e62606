// SPDX-License-Identifier: GPL-3.0-or-later
package domain

type State string

const (
	Idle        = State("idle")
	Connecting  = State("connecting")
	Enumerating = State("enumerating")
	Downloading = State("downloading")
	Finalizing  = State("finalizing")
	Done        = State("done")
	Failed      = State("failed")
)

// Status is the user visible title of a run.
type Status string

const (
	StatusConnecting  = Status("connecting")
	StatusDownloading = Status("downloading")
	StatusNoUnread    = Status("no unread messages")
	StatusStopped     = Status("stopped")
	StatusDone        = Status("done")
	StatusError       = Status("error")
)

type DownloadStats struct {
	Total       int
	Success     int
	Failed      int
	Attachments int
}

// Percent is round((success+failed)/total*100), 100 for an empty run.
func (s DownloadStats) Percent() int {
	if s.Total <= 0 {
		return 100
	}
	done := s.Success + s.Failed
	return (done*200 + s.Total) / (2 * s.Total)
}

type ProgressSnapshot struct {
	Total      int
	Downloaded int
	Failed     int
	// Resume is the number of messages this run dispatches after checkpoint
	// filtering.
	Resume int
}

// ProgressSink must tolerate one call per completed message from any
// goroutine.
type ProgressSink interface {
	Status(status Status)
	Progress(percent int, snapshot ProgressSnapshot)
}

type Result struct {
	RunId   string
	State   State
	Status  Status
	Message string
	Stats   DownloadStats
	Err     error
}

func (r Result) Ok() bool {
	return r.State == Done
}

type CompletionFunc func(result Result)
