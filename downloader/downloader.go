// SPDX-License-Identifier: GPL-3.0-or-later
package downloader

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CrawX/go-imap-downloader/domain"
	"github.com/CrawX/go-imap-downloader/log"
	"github.com/CrawX/go-imap-downloader/mail"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const MaxWorkers = 4

var ErrRunning = errors.New("a download is already running")

type ServerResolver interface {
	Resolve(mailDomain string) domain.Endpoint
}

type MessageDecoder interface {
	Decode(id domain.MessageID, raw domain.RawMessage) (*domain.DecodedMessage, error)
}

type MessageWriter interface {
	Write(msg *domain.DecodedMessage, accountDir string, includeHTML bool) (domain.WrittenPaths, error)
}

type CheckpointStore interface {
	Load(address string) domain.Checkpoint
	Record(address string, id domain.MessageID, success bool) error
	SetUIDValidity(address string, uidValidity uint32) error
}

// Downloader fetches every unread INBOX mail of an account into
// <BaseDir>/<address>.
type Downloader struct {
	resolver    ServerResolver
	opener      domain.SessionOpener
	decoder     MessageDecoder
	writer      MessageWriter
	checkpoints CheckpointStore
	history     domain.History

	configuration *configuration

	running atomic.Bool
	stopped atomic.Bool
	stateMu sync.Mutex
	state   domain.State

	l *logrus.Logger
}

// NewDownloader wires the components of a download run. history may be nil.
func NewDownloader(resolver ServerResolver, opener domain.SessionOpener, writer MessageWriter, checkpoints CheckpointStore, history domain.History, configFunc ...ConfigFunc) (*Downloader, error) {
	config := defaultConfiguration()
	for _, f := range configFunc {
		err := f(config)
		if err != nil {
			return nil, fmt.Errorf("error applying configuration: %w", err)
		}
	}

	return &Downloader{
		resolver:      resolver,
		opener:        opener,
		decoder:       mail.NewDecoder(log.Logger(log.LOG_DECODER)),
		writer:        writer,
		checkpoints:   checkpoints,
		history:       history,
		configuration: config,
		state:         domain.Idle,
		l:             log.Logger(log.LOG_DOWNLOADER),
	}, nil
}

// Stop asks the running download to dispatch no further mails. Mails already
// being downloaded are finished.
func (d *Downloader) Stop() {
	if d.stopped.CompareAndSwap(false, true) {
		d.l.Info("Stop requested")
	}
}

func (d *Downloader) State() domain.State {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.state
}

func (d *Downloader) setState(r *run, state domain.State) {
	d.stateMu.Lock()
	d.state = state
	d.stateMu.Unlock()
	r.l.WithField("state", state).Debug("State changed")
}

type run struct {
	id         string
	account    domain.Account
	accountDir string
	endpoint   domain.Endpoint

	uidValidity uint32
	// dispatched is the number of mails left after checkpoint filtering.
	dispatched int

	mu         sync.Mutex
	stats      domain.DownloadStats
	downloaded []domain.MessageID

	l *logrus.Entry
}

func (r *run) snapshot() domain.ProgressSnapshot {
	return domain.ProgressSnapshot{
		Total:      r.stats.Total,
		Downloaded: r.stats.Success,
		Failed:     r.stats.Failed,
		Resume:     r.dispatched,
	}
}

// finished counts one mail and reports progress while holding the stats lock.
func (r *run) finished(id domain.MessageID, success bool, attachments int, sink domain.ProgressSink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if success {
		r.stats.Success++
		r.stats.Attachments += attachments
		r.downloaded = append(r.downloaded, id)
	} else {
		r.stats.Failed++
	}
	sink.Progress(r.stats.Percent(), r.snapshot())
}

// Run downloads all unread mails of account. It returns once every
// dispatched mail is finished and reports the result to the OnComplete func
// exactly once.
func (d *Downloader) Run(ctx context.Context, account domain.Account) domain.Result {
	if !d.running.CompareAndSwap(false, true) {
		return domain.Result{State: domain.Failed, Status: domain.StatusError, Message: ErrRunning.Error(), Err: ErrRunning}
	}
	defer d.running.Store(false)
	d.stopped.Store(false)

	r := &run{
		id:         uuid.New().String(),
		account:    account,
		accountDir: filepath.Join(d.configuration.BaseDir, account.Address),
	}
	r.l = d.l.WithFields(logrus.Fields{"run": r.id, "account": account.Address})

	start := time.Now()
	result := d.run(ctx, r)
	result.RunId = r.id

	d.setState(r, result.State)
	d.configuration.Progress.Status(result.Status)
	r.l.WithFields(logrus.Fields{
		"state":       result.State,
		"total":       result.Stats.Total,
		"success":     result.Stats.Success,
		"failed":      result.Stats.Failed,
		"attachments": result.Stats.Attachments,
		"duration":    time.Since(start),
	}).Info(result.Message)

	d.configuration.OnComplete(result)
	return result
}

func (d *Downloader) run(ctx context.Context, r *run) domain.Result {
	d.setState(r, domain.Connecting)
	d.configuration.Progress.Status(domain.StatusConnecting)

	err := r.account.Validate()
	if err != nil {
		return failed(r, "invalid account", err)
	}
	r.endpoint = d.resolver.Resolve(r.account.Domain())
	r.l = r.l.WithField("server", r.endpoint.String())

	var unread []domain.MessageID
	err = d.withSession(ctx, r, func(session domain.Session) error {
		d.setState(r, domain.Enumerating)
		r.uidValidity = session.UIDValidity()

		var err error
		unread, err = session.SearchUnseen()
		return err
	})
	if errors.Is(err, domain.ErrAuthentication) {
		return failed(r, "authentication failed", err)
	}
	if err != nil {
		return failed(r, "could not list unread mails", err)
	}

	r.stats.Total = len(unread)
	if len(unread) == 0 {
		d.configuration.Progress.Progress(r.stats.Percent(), r.snapshot())
		return domain.Result{State: domain.Done, Status: domain.StatusNoUnread, Message: "No unread mails"}
	}

	remaining := d.filterCompleted(r, unread)
	r.dispatched = len(remaining)

	d.setState(r, domain.Downloading)
	d.configuration.Progress.Status(domain.StatusDownloading)
	d.configuration.Progress.Progress(r.stats.Percent(), r.snapshot())
	r.l.WithFields(logrus.Fields{"unread": len(unread), "remaining": len(remaining)}).Info("Downloading mails")

	stopped := d.dispatch(ctx, r, remaining)

	d.setState(r, domain.Finalizing)
	d.markAsRead(ctx, r)

	r.mu.Lock()
	stats := r.stats
	r.mu.Unlock()

	if ctx.Err() != nil {
		return domain.Result{
			State:   domain.Failed,
			Status:  domain.StatusStopped,
			Message: fmt.Sprintf("Cancelled after %d of %d mails", stats.Success+stats.Failed, stats.Total),
			Stats:   stats,
			Err:     ctx.Err(),
		}
	}
	if stopped {
		return domain.Result{
			State:   domain.Done,
			Status:  domain.StatusStopped,
			Message: fmt.Sprintf("Stopped after %d of %d mails", stats.Success+stats.Failed, stats.Total),
			Stats:   stats,
		}
	}
	return domain.Result{
		State:   domain.Done,
		Status:  domain.StatusDone,
		Message: fmt.Sprintf("Downloaded %d of %d mails, %d failed, %d attachments", stats.Success, stats.Total, stats.Failed, stats.Attachments),
		Stats:   stats,
	}
}

func failed(r *run, message string, err error) domain.Result {
	return domain.Result{
		State:   domain.Failed,
		Status:  domain.StatusError,
		Message: fmt.Sprintf("%s: %v", message, err),
		Stats:   r.stats,
		Err:     err,
	}
}

// filterCompleted records the mailbox UIDVALIDITY and, when resuming, drops
// the mails a previous run completed. Those count as successes of this run.
func (d *Downloader) filterCompleted(r *run, unread []domain.MessageID) []domain.MessageID {
	err := d.checkpoints.SetUIDValidity(r.account.Address, r.uidValidity)
	if err != nil {
		r.l.WithField("error", err).Warn("Could not update checkpoint")
	}

	if !d.configuration.Resume {
		return unread
	}

	checkpoint := d.checkpoints.Load(r.account.Address)
	if checkpoint.UIDValidity != r.uidValidity && (checkpoint.UIDValidity != 0 || len(checkpoint.Completed) > 0) {
		r.l.WithFields(logrus.Fields{"checkpoint": checkpoint.UIDValidity, "mailbox": r.uidValidity}).Warn("Checkpoint belongs to another UIDVALIDITY, ignoring it")
		return unread
	}

	completed := checkpoint.CompletedSet()
	remaining := make([]domain.MessageID, 0, len(unread))
	for _, id := range unread {
		if completed[id.String()] {
			r.stats.Success++
			continue
		}
		remaining = append(remaining, id)
	}

	r.l.WithFields(logrus.Fields{"completed": r.stats.Success, "remaining": len(remaining)}).Info("Resuming from checkpoint")
	return remaining
}

// dispatch runs up to MaxWorkers downloads at a time. It reports whether a
// stop request or cancellation ended the dispatch early.
func (d *Downloader) dispatch(ctx context.Context, r *run, ids []domain.MessageID) bool {
	g := errgroup.Group{}
	g.SetLimit(MaxWorkers)

	stopped := false
	for _, id := range ids {
		if d.stopped.Load() || ctx.Err() != nil {
			stopped = true
			break
		}

		id := id
		g.Go(func() error {
			d.download(ctx, r, id)
			return nil
		})
	}
	_ = g.Wait()

	if stopped {
		r.l.Info("Dispatch stopped, waited for running downloads")
	}
	return stopped
}

func (d *Downloader) download(ctx context.Context, r *run, id domain.MessageID) {
	start := time.Now()
	record := domain.DownloadRecord{
		RunId:       r.id,
		Account:     r.account.Address,
		Uid:         uint32(id),
		UidValidity: r.uidValidity,
	}

	msg, written, err := d.downloadMessage(ctx, r, id)
	if msg != nil {
		record.Subject = msg.Subject
	}
	record.Directory = written.Dir
	record.Attachments = written.Attachments
	record.Success = err == nil
	record.DownloadedAt = time.Now()

	baseLogger := r.l.WithFields(logrus.Fields{"uid": id, "subject": mail.ShortSubject(record.Subject)})
	if err != nil {
		record.Error = err.Error()
		baseLogger.WithField("error", err).Error("Could not download mail")
	} else {
		baseLogger.WithFields(logrus.Fields{"files": len(written.Files), "attachments": written.Attachments, "duration": time.Since(start)}).Info("Downloaded mail")
	}

	err = d.checkpoints.Record(r.account.Address, id, record.Success)
	if err != nil {
		baseLogger.WithField("error", err).Warn("Could not update checkpoint")
	}

	if d.history != nil {
		err = d.history.SaveDownload(record)
		if err != nil {
			baseLogger.WithField("error", err).Warn("Could not save download history")
		}
	}

	r.finished(id, record.Success, written.Attachments, d.configuration.Progress)
}

func (d *Downloader) downloadMessage(ctx context.Context, r *run, id domain.MessageID) (*domain.DecodedMessage, domain.WrittenPaths, error) {
	raw, err := d.fetch(ctx, r, id)
	if err != nil {
		return nil, domain.WrittenPaths{}, err
	}

	msg, err := d.decoder.Decode(id, raw)
	if err != nil {
		return nil, domain.WrittenPaths{}, fmt.Errorf("could not decode mail %v: %w", id, err)
	}

	written, err := d.writer.Write(msg, r.accountDir, d.configuration.DownloadHTML)
	if err != nil {
		return msg, written, fmt.Errorf("could not store mail %v: %w", id, err)
	}
	return msg, written, nil
}

// markAsRead flags all mails downloaded in this run as seen in one session.
// Mails that failed stay unread so the next run picks them up again.
// Failures only affect the flags, not the result of the run.
func (d *Downloader) markAsRead(ctx context.Context, r *run) {
	if !d.configuration.MarkAsRead {
		return
	}

	r.mu.Lock()
	ids := append([]domain.MessageID(nil), r.downloaded...)
	r.mu.Unlock()
	if len(ids) == 0 {
		return
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	err := d.withSession(ctx, r, func(session domain.Session) error {
		return session.MarkSeen(ids)
	})
	if err != nil {
		r.l.WithFields(logrus.Fields{"count": len(ids), "error": err}).Error("Could not mark mails as read")
		return
	}
	r.l.WithField("count", len(ids)).Info("Marked mails as read")
}
