// SPDX-License-Identifier: GPL-3.0-or-later
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	DefaultDownloadDir = "downloads"
	DefaultServerFile  = "imap_servers.json"
	DefaultLogFile     = "email_downloader.log"
	HistoryFilename    = "downloads.db"
)

type Config struct {
	Address  string
	Password string

	DownloadDir string
	ServerFile  string
	// Servers overrides the server file, keyed by mail domain.
	Servers map[string]string

	DownloadHTML bool
	MarkAsRead   bool
	Resume       bool

	InsecureSkipVerify bool
	DisableCompression bool

	HistoryDatabase string

	LogFile  string
	Loglevel *string
}

func Default() *Config {
	return &Config{
		DownloadDir: DefaultDownloadDir,
		ServerFile:  DefaultServerFile,
		LogFile:     DefaultLogFile,
		Resume:      true,
	}
}

// ReadConfig decodes filename on top of the defaults. A missing file is only
// an error when required is set.
func ReadConfig(filename string, required bool) (*Config, error) {
	config := Default()

	_, err := toml.DecodeFile(filename, config)
	if errors.Is(err, os.ErrNotExist) && !required {
		return config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}

	return config, nil
}

// Derive fills the values that default to other settings or the
// environment. Call it after flag overrides are applied.
func (c *Config) Derive() {
	if len(strings.TrimSpace(c.Password)) == 0 {
		c.Password = os.Getenv("MAIL_PASSWORD")
	}
	if len(strings.TrimSpace(c.HistoryDatabase)) == 0 && len(strings.TrimSpace(c.DownloadDir)) > 0 {
		c.HistoryDatabase = filepath.Join(c.DownloadDir, HistoryFilename)
	}
}

// Finish derives and validates the configuration of a download run.
func (c *Config) Finish() error {
	c.Derive()
	return c.validate()
}

func (c *Config) validate() error {
	if err := validateNonEmptyStringField(c.Address, "Address must not be empty, set to the mail address to download"); err != nil {
		return err
	}

	if strings.Count(c.Address, "@") != 1 {
		return fmt.Errorf("Address %q must contain exactly one @", c.Address)
	}

	if err := validateNonEmptyStringField(c.Password, "Password must not be empty, set it in the config, via --password or MAIL_PASSWORD"); err != nil {
		return err
	}

	if err := validateNonEmptyStringField(c.DownloadDir, "DownloadDir must not be empty, set to the directory messages are saved to"); err != nil {
		return err
	}

	return nil
}

func validateNonEmptyStringField(field string, err string) error {
	if len(strings.TrimSpace(field)) == 0 {
		return errors.New(err)
	}

	return nil
}
