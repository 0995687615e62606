// SPDX-License-Identifier: GPL-3.0-or-later
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func writeConfig(t *testing.T, content string) string {
	filename := filepath.Join(t.TempDir(), "config.toml")
	assert.NoError(t, os.WriteFile(filename, []byte(content), 0o644))
	return filename
}

func TestReadConfig(t *testing.T) {
	filename := writeConfig(t, `
Address = "me@example.com"
Password = "secret"
DownloadHTML = true
MarkAsRead = true
Resume = false
Loglevel = "debug"

[Servers]
"example.com" = "mail.example.com"
`)

	conf, err := ReadConfig(filename, true)
	assert.NoError(t, err)
	assert.NoError(t, conf.Finish())

	assert.Equal(t, "me@example.com", conf.Address)
	assert.Equal(t, "secret", conf.Password)
	assert.True(t, conf.DownloadHTML)
	assert.True(t, conf.MarkAsRead)
	assert.False(t, conf.Resume)
	assert.Equal(t, DefaultDownloadDir, conf.DownloadDir)
	assert.Equal(t, filepath.Join(DefaultDownloadDir, HistoryFilename), conf.HistoryDatabase)
	assert.Equal(t, map[string]string{"example.com": "mail.example.com"}, conf.Servers)
	if assert.NotNil(t, conf.Loglevel) {
		assert.Equal(t, "debug", *conf.Loglevel)
	}
}

func TestReadConfigMissing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.toml")

	conf, err := ReadConfig(missing, false)
	assert.NoError(t, err)
	assert.Equal(t, Default(), conf)

	conf, err = ReadConfig(missing, true)
	assert.Nil(t, conf)
	assert.Error(t, err)
}

func TestReadConfigMalformed(t *testing.T) {
	conf, err := ReadConfig(writeConfig(t, "Address = "), false)
	assert.Nil(t, conf)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		err  string
	}{
		{"ok", Config{Address: "a@b.c", Password: "x", DownloadDir: "d"}, ""},
		{"noaddress", Config{Password: "x", DownloadDir: "d"}, "Address must not be empty, set to the mail address to download"},
		{"twoats", Config{Address: "a@b@c", Password: "x", DownloadDir: "d"}, `Address "a@b@c" must contain exactly one @`},
		{"nopassword", Config{Address: "a@b.c", DownloadDir: "d"}, "Password must not be empty, set it in the config, via --password or MAIL_PASSWORD"},
		{"nodir", Config{Address: "a@b.c", Password: "x"}, "DownloadDir must not be empty, set to the directory messages are saved to"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.validate()
			if len(tc.err) == 0 {
				assert.NoError(t, err)
			} else {
				assert.EqualError(t, err, tc.err)
			}
		})
	}
}

func TestFinishPasswordFromEnv(t *testing.T) {
	t.Setenv("MAIL_PASSWORD", "fromenv")
	conf := &Config{Address: "a@b.c", DownloadDir: "d"}
	assert.NoError(t, conf.Finish())
	assert.Equal(t, "fromenv", conf.Password)
}
