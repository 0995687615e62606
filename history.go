// SPDX-License-Identifier: GPL-3.0-or-later
package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/CrawX/go-imap-downloader/log"
	"github.com/CrawX/go-imap-downloader/mail"
	"github.com/CrawX/go-imap-downloader/persistence"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

const defaultHistoryLimit = 20

func newHistoryCommand(f *flags) *cobra.Command {
	limit := defaultHistoryLimit
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the latest downloads of an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showHistory(cmd, f, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", defaultHistoryLimit, "number of downloads to show")
	return cmd
}

func showHistory(cmd *cobra.Command, f *flags, limit int) error {
	conf, err := loadConfig(cmd, f)
	if err != nil {
		return err
	}
	conf.Derive()
	if len(strings.TrimSpace(conf.Address)) == 0 {
		return errors.New("Address must not be empty, set to the mail address to show")
	}
	if limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d", limit)
	}

	err = initLogging(conf)
	if err != nil {
		return err
	}
	defer log.Close()

	p, err := persistence.NewPersistence(conf.HistoryDatabase, log.Logger(log.LOG_PERSISTENCE))
	if err != nil {
		return fmt.Errorf("could not open download history: %w", err)
	}
	defer p.Close()

	downloads, err := p.RecentDownloads(conf.Address, limit)
	if err != nil {
		return fmt.Errorf("could not read download history: %w", err)
	}
	if len(downloads) == 0 {
		pterm.Info.Printf("No downloads recorded for %s\n", conf.Address)
		return nil
	}

	data := pterm.TableData{{"Time", "UID", "Subject", "Attachments", "Result"}}
	for _, d := range downloads {
		outcome := "ok"
		if !d.Success {
			outcome = d.Error
		}
		data = append(data, []string{
			d.DownloadedAt.Local().Format("2006-01-02 15:04:05"),
			strconv.FormatUint(uint64(d.Uid), 10),
			mail.ShortSubject(d.Subject),
			strconv.Itoa(d.Attachments),
			outcome,
		})
	}

	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
