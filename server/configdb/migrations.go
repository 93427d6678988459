package configdb

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE channel(
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			host TEXT,
			port INT,
			username TEXT,
			password TEXT,
			path TEXT,
			mode TEXT NOT NULL,
			sensitivity TEXT NOT NULL,
			created_at INT NOT NULL,
			updated_at INT NOT NULL
		);

	`))

	return migs
}
