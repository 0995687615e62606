// SPDX-License-Identifier: GPL-3.0-or-later
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/CrawX/go-imap-downloader/domain"

	"github.com/sirupsen/logrus"
)

const Filename = "resume.json"

// Store keeps one resume.json per account below root. All reads and writes
// of a Store are serialized.
type Store struct {
	root string
	mu   sync.Mutex

	l *logrus.Logger
}

func NewStore(root string, l *logrus.Logger) *Store {
	return &Store{
		root: root,
		l:    l,
	}
}

func (s *Store) Path(address string) string {
	return filepath.Join(s.root, address, Filename)
}

// Load returns the checkpoint of address. A missing or unreadable file is an
// empty checkpoint.
func (s *Store) Load(address string) domain.Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.load(address)
}

func (s *Store) load(address string) domain.Checkpoint {
	empty := domain.Checkpoint{Completed: []string{}, Failed: []string{}}
	baseLogger := s.l.WithField("file", s.Path(address))

	content, err := os.ReadFile(s.Path(address))
	if errors.Is(err, os.ErrNotExist) {
		baseLogger.Debug("No checkpoint found")
		return empty
	}
	if err != nil {
		baseLogger.WithField("error", err).Warn("Could not read checkpoint, starting fresh")
		return empty
	}

	var cp domain.Checkpoint
	err = json.Unmarshal(content, &cp)
	if err != nil {
		baseLogger.WithField("error", err).Warn("Checkpoint is corrupt, starting fresh")
		return empty
	}
	if cp.Completed == nil {
		cp.Completed = []string{}
	}
	if cp.Failed == nil {
		cp.Failed = []string{}
	}

	baseLogger.WithFields(logrus.Fields{"completed": len(cp.Completed), "failed": len(cp.Failed)}).Debug("Loaded checkpoint")
	return cp
}

// Record moves id into the completed or failed list and rewrites the file.
// An id is never listed twice and never in both lists.
func (s *Store) Record(address string, id domain.MessageID, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := s.load(address)
	key := id.String()
	if success {
		cp.Failed = without(cp.Failed, key)
		cp.Completed = with(cp.Completed, key)
	} else {
		cp.Completed = without(cp.Completed, key)
		cp.Failed = with(cp.Failed, key)
	}

	err := s.save(address, cp)
	if err != nil {
		return fmt.Errorf("could not record mail %v: %w", id, err)
	}
	return nil
}

// SetUIDValidity stores the UIDVALIDITY of the mailbox the ids belong to. If
// a different value was stored before, the old ids are dropped. A file
// without a value holds message sequence numbers, its ids are dropped too.
func (s *Store) SetUIDValidity(address string, uidValidity uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := s.load(address)
	if cp.UIDValidity == uidValidity {
		return nil
	}
	switch {
	case cp.UIDValidity != 0:
		s.l.WithFields(logrus.Fields{"account": address, "old": cp.UIDValidity, "new": uidValidity}).Warn("UIDVALIDITY changed, discarding checkpoint")
	case len(cp.Completed) > 0 || len(cp.Failed) > 0:
		s.l.WithFields(logrus.Fields{"account": address, "completed": len(cp.Completed), "failed": len(cp.Failed)}).Warn("Checkpoint has no UIDVALIDITY, discarding it")
	}
	cp.Completed = []string{}
	cp.Failed = []string{}
	cp.UIDValidity = uidValidity

	err := s.save(address, cp)
	if err != nil {
		return fmt.Errorf("could not store uidvalidity: %w", err)
	}
	return nil
}

// save writes to a temporary file in the same directory and renames it over
// the checkpoint, readers never see a partial file.
func (s *Store) save(address string, cp domain.Checkpoint) error {
	dir := filepath.Dir(s.Path(address))
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return fmt.Errorf("could not create checkpoint directory: %w", err)
	}

	content, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("could not encode checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(dir, Filename+".*.tmp")
	if err != nil {
		return fmt.Errorf("could not create temporary checkpoint: %w", err)
	}
	_, err = tmp.Write(content)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("could not write temporary checkpoint: %w", err)
	}
	err = tmp.Close()
	if err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("could not close temporary checkpoint: %w", err)
	}

	err = os.Rename(tmp.Name(), s.Path(address))
	if err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("could not replace checkpoint: %w", err)
	}
	return nil
}

func with(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func without(ids []string, id string) []string {
	kept := ids[:0]
	for _, existing := range ids {
		if existing != id {
			kept = append(kept, existing)
		}
	}
	return kept
}
