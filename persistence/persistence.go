// SPDX-License-Identifier: GPL-3.0-or-later
package persistence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/CrawX/go-imap-downloader/domain"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rubenv/sql-migrate"
	"github.com/sirupsen/logrus"
)

// Persistence is the sqlite backed download history.
type Persistence struct {
	db *sqlx.DB
	l  *logrus.Logger
}

func NewPersistence(datasource string, l *logrus.Logger) (*Persistence, error) {
	err := os.MkdirAll(filepath.Dir(datasource), 0o755)
	if err != nil {
		return nil, fmt.Errorf("could not create db directory: %w", err)
	}

	db, err := sqlx.Connect("sqlite3", datasource)
	if err != nil {
		return nil, fmt.Errorf("could not open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	l.WithField("file", datasource).Info("Connected")

	_, err = db.Exec(`PRAGMA journal_mode=WAL`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("could not set journal mode: %w", err)
	}
	_, err = db.Exec(`PRAGMA synchronous=normal`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("could not set synchronous mode: %w", err)
	}

	appliedMigrations, err := migrate.Exec(db.DB, "sqlite3", migrations, migrate.Up)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("could not migrate to newest version: %w", err)
	}

	l.WithField("migrations", appliedMigrations).Debug("Executed migrations")

	return &Persistence{
		db: db,
		l:  l,
	}, nil
}

func (p *Persistence) Close() error {
	err := p.db.Close()
	if err != nil {
		return fmt.Errorf("could not close db: %w", err)
	}
	p.l.Debug("Disconnected")
	return nil
}

func (p *Persistence) SaveDownload(record domain.DownloadRecord) error {
	if record.DownloadedAt.IsZero() {
		record.DownloadedAt = time.Now()
	}

	tx, err := p.db.BeginTxx(context.TODO(), nil)
	if err != nil {
		return fmt.Errorf("could not start transaction: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO downloads(runid, account, uid, uidvalidity, subject, directory, attachments, success, error, downloadedat)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.RunId,
		record.Account,
		record.Uid,
		record.UidValidity,
		record.Subject,
		record.Directory,
		record.Attachments,
		record.Success,
		record.Error,
		record.DownloadedAt.UTC(),
	)
	if err != nil {
		return txEnd(tx, fmt.Errorf("could not save download: %w", err))
	}

	p.l.WithFields(logrus.Fields{"account": record.Account, "uid": record.Uid, "success": record.Success}).Debug("Persisted download")
	return txEnd(tx, nil)
}

// RecentDownloads returns the latest downloads of account, newest first.
func (p *Persistence) RecentDownloads(account string, limit int) ([]*domain.SavedDownload, error) {
	dbDownloads := []struct {
		Id           int64
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
	}{}

	err := p.db.Select(
		&dbDownloads,
		`SELECT id, runid, account, uid, uidvalidity, subject, directory, attachments, success, error, downloadedat
		FROM downloads WHERE account = ? ORDER BY id DESC LIMIT ?`,
		account,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("could not query db: %w", err)
	}

	downloads := []*domain.SavedDownload{}
	for _, d := range dbDownloads {
		downloads = append(
			downloads,
			&domain.SavedDownload{
				Id: d.Id,
				DownloadRecord: domain.DownloadRecord{
					RunId:        d.RunId,
					Account:      d.Account,
					Uid:          d.Uid,
					UidValidity:  d.UidValidity,
					Subject:      d.Subject,
					Directory:    d.Directory,
					Attachments:  d.Attachments,
					Success:      d.Success,
					Error:        d.Error,
					DownloadedAt: d.DownloadedAt,
				},
			},
		)
	}

	p.l.WithFields(logrus.Fields{"account": account, "count": len(downloads)}).Debug("Found downloads")

	return downloads, nil
}

func txEnd(tx *sqlx.Tx, err error) error {
	if err == nil {
		err = tx.Commit()
		if err != nil {
			return fmt.Errorf("could not commit tx: %w", err)
		}
	} else {
		rollbackErr := tx.Rollback()
		if rollbackErr != nil {
			errStr := err.Error()
			return fmt.Errorf("%s, could not rollback tx: %w", errStr, rollbackErr)
		} else {
			return err
		}
	}

	return nil
}
