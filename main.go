// SPDX-License-Identifier: GPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/CrawX/go-imap-downloader/checkpoint"
	"github.com/CrawX/go-imap-downloader/config"
	"github.com/CrawX/go-imap-downloader/domain"
	"github.com/CrawX/go-imap-downloader/downloader"
	"github.com/CrawX/go-imap-downloader/filewriter"
	"github.com/CrawX/go-imap-downloader/imapconnection"
	"github.com/CrawX/go-imap-downloader/log"
	"github.com/CrawX/go-imap-downloader/persistence"
	"github.com/CrawX/go-imap-downloader/progress"
	"github.com/CrawX/go-imap-downloader/resolver"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const defaultConfigFile = "config.toml"

type flags struct {
	configFile string

	address     string
	password    string
	downloadDir string
	serverFile  string
	logFile     string
	logLevel    string

	html       bool
	markRead   bool
	resume     bool
	insecure   bool
	noCompress bool
}

func main() {
	f := &flags{}
	rootCmd := &cobra.Command{
		Use:           "go-imap-downloader",
		Short:         "Download all unread mails of an IMAP inbox to disk",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDownload(cmd, f)
		},
	}
	registerFlags(rootCmd, f)
	rootCmd.AddCommand(newHistoryCommand(f))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func registerFlags(cmd *cobra.Command, f *flags) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&f.configFile, "config", defaultConfigFile, "TOML config file")
	pf.StringVar(&f.address, "address", "", "mail address to download")
	pf.StringVar(&f.downloadDir, "download-dir", "", "directory mails are saved to")
	pf.StringVar(&f.logFile, "log-file", "", "file the log is appended to")
	pf.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")

	fl := cmd.Flags()
	fl.StringVar(&f.password, "password", "", "password, MAIL_PASSWORD is used when empty")
	fl.StringVar(&f.serverFile, "server-file", "", "JSON file mapping mail domains to IMAP servers")
	fl.BoolVar(&f.html, "html", false, "also save HTML parts")
	fl.BoolVar(&f.markRead, "mark-read", false, "flag downloaded mails as read")
	fl.BoolVar(&f.resume, "resume", true, "skip mails a previous run downloaded")
	fl.BoolVar(&f.insecure, "insecure", false, "do not verify the server certificate")
	fl.BoolVar(&f.noCompress, "no-compress", false, "do not enable COMPRESS=DEFLATE")
}

// loadConfig reads the config file and applies the flags the user set.
func loadConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	conf, err := config.ReadConfig(f.configFile, cmd.Flags().Changed("config"))
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("address") {
		conf.Address = f.address
	}
	if changed("password") {
		conf.Password = f.password
	}
	if changed("download-dir") {
		conf.DownloadDir = f.downloadDir
	}
	if changed("server-file") {
		conf.ServerFile = f.serverFile
	}
	if changed("log-file") {
		conf.LogFile = f.logFile
	}
	if changed("log-level") {
		conf.Loglevel = &f.logLevel
	}
	if changed("html") {
		conf.DownloadHTML = f.html
	}
	if changed("mark-read") {
		conf.MarkAsRead = f.markRead
	}
	if changed("resume") {
		conf.Resume = f.resume
	}
	if changed("insecure") {
		conf.InsecureSkipVerify = f.insecure
	}
	if changed("no-compress") {
		conf.DisableCompression = f.noCompress
	}

	return conf, nil
}

func initLogging(conf *config.Config) error {
	err := log.InitLogging("info", conf.LogFile)
	if err != nil {
		return err
	}
	if conf.Loglevel != nil {
		log.SetLogLevel(*conf.Loglevel)
	}
	return nil
}

func runDownload(cmd *cobra.Command, f *flags) error {
	conf, err := loadConfig(cmd, f)
	if err != nil {
		return err
	}
	err = conf.Finish()
	if err != nil {
		return err
	}

	err = initLogging(conf)
	if err != nil {
		return err
	}
	defer log.Close()
	logger := log.Logger(log.LOG_MAIN)

	var history domain.History
	p, err := persistence.NewPersistence(conf.HistoryDatabase, log.Logger(log.LOG_PERSISTENCE))
	if err != nil {
		logger.WithField("error", err).Warn("Could not open download history, continuing without")
	} else {
		history = p
		defer p.Close()
	}

	dialerOptions := []imapconnection.DialerOption{}
	if conf.InsecureSkipVerify {
		dialerOptions = append(dialerOptions, imapconnection.InsecureSkipVerify())
	}
	if conf.DisableCompression {
		dialerOptions = append(dialerOptions, imapconnection.NoCompression())
	}

	bar := progress.NewBar(true)
	configs := []downloader.ConfigFunc{
		downloader.BaseDir(conf.DownloadDir),
		downloader.WithProgress(bar),
	}
	if conf.DownloadHTML {
		configs = append(configs, downloader.DownloadHTML())
	}
	if conf.MarkAsRead {
		configs = append(configs, downloader.MarkAsRead())
	}
	if conf.Resume {
		configs = append(configs, downloader.Resume())
	}

	d, err := downloader.NewDownloader(
		resolver.NewResolver(conf.ServerFile, conf.Servers, log.Logger(log.LOG_RESOLVER)),
		imapconnection.NewDialer(log.Logger(log.LOG_IMAP), dialerOptions...),
		filewriter.NewWriter(log.Logger(log.LOG_FILEWRITER)),
		checkpoint.NewStore(conf.DownloadDir, log.Logger(log.LOG_CHECKPOINT)),
		history,
		configs...,
	)
	if err != nil {
		return fmt.Errorf("could not start downloader: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	stopOnSignal(ctx, d, cancel, logger)

	logger.WithFields(logrus.Fields{
		"account":  conf.Address,
		"dir":      conf.DownloadDir,
		"html":     conf.DownloadHTML,
		"markread": conf.MarkAsRead,
		"resume":   conf.Resume,
	}).Info("Starting download")

	result := d.Run(ctx, domain.Account{Address: conf.Address, Password: conf.Password})
	bar.Stop()
	progress.PrintSummary(result)

	if !result.Ok() {
		return result.Err
	}
	return nil
}

// stopOnSignal stops dispatching on the first interrupt and cancels running
// downloads on the second.
func stopOnSignal(ctx context.Context, d *downloader.Downloader, cancel context.CancelFunc, logger *logrus.Logger) {
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-ctx.Done():
			return
		case <-signals:
			logger.Warn("Stopping after running downloads, interrupt again to cancel them")
			d.Stop()
		}

		select {
		case <-ctx.Done():
		case <-signals:
			logger.Warn("Cancelling running downloads")
			cancel()
		}
	}()
}
