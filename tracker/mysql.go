package tracker

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// MySQLConfig represents the MySQL connection parameters.
type MySQLConfig struct {
	Host     string `validate:"required"`
	Database string `validate:"required"`
	User     string `validate:"required"`
	Password string `validate:"required"`
	Port     string `validate:"required"`
}

// dsn returns the connection string of the database. An empty database name connects to the
// server only.
func (c MySQLConfig) dsn(database string) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?%s", c.User, c.Password, c.Host, c.Port, database, "parseTime=true")
}

// NewMySQLTracker returns a new instance of the MySQLTracker.
func NewMySQLTracker(conn MySQLConfig, cfg GORMTrackerConfig) *MySQLTracker {
	return &MySQLTracker{
		GORMTracker: GORMTracker{Cfg: cfg},
		Conn:        conn,
	}
}

// MySQLTracker represents a tracker that stores the import batches inside a MySQL database.
type MySQLTracker struct {
	GORMTracker
	Conn MySQLConfig
}

// Setup contains the storage preparations like connection etc. Is called only once at the very
// beginning of the work with the storage. As for the MySQLTracker, it creates the database if it
// doesn't exist yet, connects to it and migrates the tracker models.
func (t *MySQLTracker) Setup() error {
	db, err := gorm.Open(mysql.Open(t.Conn.dsn("")), &gorm.Config{DisableForeignKeyConstraintWhenMigrating: true})
	if err != nil {
		return err
	}
	err = db.Exec(fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`  DEFAULT CHARACTER SET = `utf8mb4` DEFAULT COLLATE = `utf8mb4_unicode_ci`;", t.Conn.Database)).Error
	if err != nil {
		return err
	}
	mdb, err := db.DB()
	if err != nil {
		return err
	}
	mdb.Close()
	db, err = gorm.Open(mysql.Open(t.Conn.dsn(t.Conn.Database)), &gorm.Config{DisableForeignKeyConstraintWhenMigrating: true})
	if err != nil {
		return err
	}
	return t.migrate(db.Set("gorm:table_options", "CHARSET=utf8mb4 ENGINE=InnoDB COLLATE=utf8mb4_unicode_ci"))
}
