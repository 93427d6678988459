package configdb

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
)

// ConfigDB is the process-wide configuration database (SQLite).
// Channel configuration lives here; the channel registry treats it as the
// source of truth, and live worker state is reconciled against it.
type ConfigDB struct {
	Log logs.Log
	DB  *gorm.DB
}

func NewConfigDB(logger logs.Log, dbFilename string) (*ConfigDB, error) {
	os.MkdirAll(filepath.Dir(dbFilename), 0777)
	configDB, err := dbh.OpenDB(logger, dbh.MakeSqliteConfig(dbFilename), Migrations(logger), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open database %v: %w", dbFilename, err)
	}
	return &ConfigDB{
		Log: logger,
		DB:  configDB,
	}, nil
}

func (c *ConfigDB) GetChannelFromID(id int64) (*Channel, error) {
	channel := Channel{}
	if err := c.DB.First(&channel, id).Error; err != nil {
		return nil, err
	}
	return &channel, nil
}

func (c *ConfigDB) ListChannels() ([]*Channel, error) {
	channels := []*Channel{}
	if err := c.DB.Find(&channels).Error; err != nil {
		return nil, err
	}
	return channels, nil
}
