package datastore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/rion/birdsong-go/internal/conf"
	"github.com/rion/birdsong-go/internal/errors"
)

// SQLiteStore is the gorm/sqlite implementation of Interface.
type SQLiteStore struct {
	DataStore
	Settings *conf.Settings
}

// New creates the store selected by the configuration.
func New(settings *conf.Settings) (Interface, error) {
	switch {
	case settings.Database.SQLite.Enabled:
		return &SQLiteStore{Settings: settings}, nil
	default:
		return nil, errors.Newf("no database enabled in configuration").
			Category(errors.CategoryConfiguration).
			Component("datastore").
			Build()
	}
}

// Open connects to the database, runs migrations and seeds the
// data-source rows used by citations.
func (store *SQLiteStore) Open() error {
	path := store.Settings.Database.SQLite.Path
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Newf("failed to create database directory: %v", err).
				Category(errors.CategoryFileIO).
				Component("datastore").
				Context("path", dir).
				Build()
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return errors.Newf("failed to open sqlite database: %v", err).
			Category(errors.CategoryDatabase).
			Component("datastore").
			Context("path", path).
			Build()
	}

	// Single writer keeps sqlite happy under concurrent ingestion.
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to access underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	store.DB = db
	if err := store.migrate(); err != nil {
		return err
	}
	logger.Info("sqlite database opened", "path", path)
	return nil
}

func (store *SQLiteStore) migrate() error {
	err := store.DB.AutoMigrate(
		&Species{}, &DataSource{}, &Citation{},
		&Recording{}, &Day{}, &Detection{},
	)
	if err != nil {
		return errors.Newf("database migration failed: %v", err).
			Category(errors.CategoryDatabase).
			Component("datastore").
			Build()
	}
	return store.seedDataSources()
}

func (store *SQLiteStore) seedDataSources() error {
	seeds := []DataSource{
		{Name: SourceGBIF, URL: "https://www.gbif.org"},
		{Name: SourceWikimedia, URL: "https://commons.wikimedia.org"},
		{Name: SourceEBird, URL: "https://ebird.org"},
	}
	for i := range seeds {
		var existing DataSource
		err := store.DB.Where("name = ?", seeds[i].Name).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.New(err).
				Category(errors.CategoryDatabase).
				Component("datastore").
				Build()
		}
		if err := store.DB.Create(&seeds[i]).Error; err != nil {
			return errors.New(err).
				Category(errors.CategoryDatabase).
				Component("datastore").
				Context("source", seeds[i].Name).
				Build()
		}
	}
	return nil
}

// Close releases the database connection.
func (store *SQLiteStore) Close() error {
	if store.DB == nil {
		return nil
	}
	sqlDB, err := store.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to access underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}
