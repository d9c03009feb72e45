package tracker

import (
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewSQLiteTracker returns a new instance of the SQLiteTracker storing the batches in the file at
// path. ":memory:" keeps the database in memory.
func NewSQLiteTracker(path string, cfg GORMTrackerConfig) *SQLiteTracker {
	return &SQLiteTracker{
		GORMTracker: GORMTracker{Cfg: cfg},
		Path:        path,
	}
}

// SQLiteTracker represents a tracker that stores the import batches inside a SQLite database. It
// suits local runs which don't share their tracking with other processes.
type SQLiteTracker struct {
	GORMTracker
	Path string `validate:"required"`
}

// Setup opens the database file and migrates the tracker models.
func (t *SQLiteTracker) Setup() error {
	db, err := gorm.Open(sqlite.Open(t.Path), &gorm.Config{DisableForeignKeyConstraintWhenMigrating: true})
	if err != nil {
		return err
	}
	// a single connection keeps ":memory:" databases alive and serializes the writers
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(1)
	return t.migrate(db)
}
