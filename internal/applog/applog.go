package applog

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bookiehq/bookie-back/internal/db"
)

const ActivityExport = "export"

// Log records user-facing activity events in the database.
type Log struct {
	db     *gorm.DB
	logger *zap.SugaredLogger
}

func NewLog(gdb *gorm.DB, logger *zap.SugaredLogger) *Log {
	return &Log{
		db:     gdb,
		logger: logger,
	}
}

// Export records that actingUser downloaded username's bookmarks.
// actingUser is empty for anonymous requests; anyone may export, the
// log keeps whose data apart from who pulled it.
func (l *Log) Export(username, actingUser string) error {
	entry := db.ActivityLog{
		Username:   username,
		ActingUser: actingUser,
		Activity:   ActivityExport,
	}
	res := l.db.Create(&entry)
	if res.Error != nil {
		return errors.Wrap(res.Error, "record export event")
	}
	l.logger.Infow("bookmarks exported", "user", username, "acting_user", actingUser)
	return nil
}
