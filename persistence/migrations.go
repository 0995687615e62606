// SPDX-License-Identifier: GPL-3.0-or-later
package persistence

import migrate "github.com/rubenv/sql-migrate"

var migrations = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id: "1_downloads",
			Up: []string{
				`CREATE TABLE downloads (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					runid TEXT NOT NULL,
					account TEXT NOT NULL,
					uid INTEGER NOT NULL,
					uidvalidity INTEGER NOT NULL,
					subject TEXT NOT NULL,
					directory TEXT NOT NULL,
					attachments INTEGER NOT NULL DEFAULT 0,
					success BOOLEAN NOT NULL,
					error TEXT NOT NULL DEFAULT '',
					downloadedat DATETIME NOT NULL
				)`,
				`CREATE INDEX downloads_account ON downloads (account, id)`,
			},
			Down: []string{
				`DROP INDEX downloads_account`,
				`DROP TABLE downloads`,
			},
		},
	},
}
