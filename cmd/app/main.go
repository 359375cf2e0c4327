package main

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bookiehq/bookie-back/internal/applog"
	"github.com/bookiehq/bookie-back/internal/config"
	"github.com/bookiehq/bookie-back/internal/db"
	"github.com/bookiehq/bookie-back/internal/fulltext"
	"github.com/bookiehq/bookie-back/internal/queue"
	"github.com/bookiehq/bookie-back/internal/transport"
)

func main() {
	app := fx.New(
		fx.Provide(
			config.NewConfig,
			db.NewGormClient,
			newLogger,
			newSearcher,
			queue.NewManager,
			queue.NewImporter,
			queue.NewRunner,
			func(r *queue.Runner) queue.Enqueuer { return r },
			applog.NewLog,
			transport.NewHTTPServer,
		),
		fx.Invoke(func(*transport.HTTPServer) {}),
	)

	app.Run()
}

func newLogger() (*zap.SugaredLogger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

func newSearcher(cfg *config.Config, gdb *gorm.DB, logger *zap.SugaredLogger) fulltext.Handler {
	return fulltext.ForConnection(db.DSN(cfg), gdb, logger)
}
