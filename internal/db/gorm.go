package db

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bookiehq/bookie-back/internal/config"
)

type (
	GormForkedModel struct {
		ID        uint64 `gorm:"primarykey"`
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	User struct {
		GormForkedModel
		Username string `gorm:"unique;not null"`
		Email    string `gorm:"unique;not null"`
		Password string `gorm:"not null"`
		Token    string `gorm:"not null"`
	}

	// Hashed is the canonical URL record. Several bookmarks from
	// different users may point at the same hash.
	Hashed struct {
		HashID    string `gorm:"primarykey;size:22"`
		URL       string `gorm:"not null"`
		Clicks    uint64
		CreatedAt time.Time
	}

	Bookmark struct {
		GormForkedModel
		Username    string `gorm:"not null;index"`
		HashID      string `gorm:"not null;index"`
		Hashed      Hashed `gorm:"foreignKey:HashID;references:HashID"`
		Description string
		Extended    string
		Clicks      uint64
		Tags        []Tag `gorm:"many2many:bookmark_tags;"`
	}

	Tag struct {
		GormForkedModel
		Name      string     `gorm:"unique;not null"`
		Bookmarks []Bookmark `gorm:"many2many:bookmark_tags;"`
	}

	// ImportQueue is a pending bulk-import job. Status moves
	// NEW -> RUNNING -> DONE or ERROR; a user may have at most one
	// NEW row at a time (checked, not enforced by constraint).
	ImportQueue struct {
		GormForkedModel
		Username  string `gorm:"not null;index:idx_import_user_status"`
		FilePath  string `gorm:"not null"`
		Status    int    `gorm:"not null;index:idx_import_user_status"`
		Completed *time.Time
		Error     string
	}

	ActivityLog struct {
		GormForkedModel
		Username   string `gorm:"not null;index"`
		ActingUser string
		Activity   string `gorm:"not null"`
	}
)

// DSN builds the connection string for the configured backend: a
// postgres keyword DSN, or the database file path for sqlite.
func DSN(cfg *config.Config) string {
	if cfg.DBDriver == config.DriverSqlite {
		return cfg.DBPath
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort, cfg.DBSSLMode)
}

func NewGormClient(cfg *config.Config) (*gorm.DB, error) {
	newLogger := logger.New(log.New(os.Stdout, "\r\n", log.LstdFlags), logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Info,
		Colorful:                  true,
		IgnoreRecordNotFoundError: false,
	})

	var dial gorm.Dialector
	if cfg.DBDriver == config.DriverSqlite {
		dial = sqlite.Open(DSN(cfg))
	} else {
		dial = postgres.Open(DSN(cfg))
	}
	gdb, err := gorm.Open(dial, &gorm.Config{
		Logger: newLogger,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect database")
	}

	if err := Migrate(gdb); err != nil {
		return nil, err
	}

	return gdb, nil
}

func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(&User{}); err != nil {
		return errors.Wrap(err, "migrate user")
	}
	if err := gdb.AutoMigrate(&Hashed{}); err != nil {
		return errors.Wrap(err, "migrate hashed")
	}
	if err := gdb.AutoMigrate(&Bookmark{}); err != nil {
		return errors.Wrap(err, "migrate bookmark")
	}
	if err := gdb.AutoMigrate(&Tag{}); err != nil {
		return errors.Wrap(err, "migrate tag")
	}
	if err := gdb.AutoMigrate(&ImportQueue{}); err != nil {
		return errors.Wrap(err, "migrate import queue")
	}
	if err := gdb.AutoMigrate(&ActivityLog{}); err != nil {
		return errors.Wrap(err, "migrate activity log")
	}
	return nil
}
