package queue

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bookiehq/bookie-back/internal/db"
)

// Import job statuses.
const (
	StatusNew = iota
	StatusRunning
	StatusDone
	StatusError
)

const jobBuffer = 64

var ErrJobNotFound = errors.New("import job not found")

type (
	// Enqueuer hands a stored import job off for asynchronous
	// processing. A false return means the job was not accepted and
	// stays NEW until the next startup sweep.
	Enqueuer interface {
		Enqueue(jobID uint64) bool
	}

	// Manager owns ImportQueue rows.
	Manager struct {
		db     *gorm.DB
		logger *zap.SugaredLogger
	}

	// Runner processes queued import jobs on a single background
	// goroutine tied to the application lifecycle.
	Runner struct {
		jobs     chan uint64
		done     chan struct{}
		mgr      *Manager
		importer *Importer
		logger   *zap.SugaredLogger
	}
)

func NewManager(gdb *gorm.DB, logger *zap.SugaredLogger) *Manager {
	return &Manager{
		db:     gdb,
		logger: logger,
	}
}

// HasPending reports whether the user already has a NEW import
// outstanding. This is the check behind the one-at-a-time rule; it is
// a plain pre-read, not a transactional guard.
func (m *Manager) HasPending(username string) (bool, error) {
	var n int64
	res := m.db.Model(&db.ImportQueue{}).
		Where("username = ? AND status = ?", username, StatusNew).
		Count(&n)
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "count pending imports")
	}
	return n > 0, nil
}

// Details returns the most recent import row for the user.
func (m *Manager) Details(username string) (*db.ImportQueue, error) {
	q := db.ImportQueue{}
	res := m.db.Where("username = ?", username).Order("id DESC").First(&q)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, res.Error
	}
	return &q, nil
}

func (m *Manager) Add(username, filePath string) (*db.ImportQueue, error) {
	q := db.ImportQueue{
		Username: username,
		FilePath: filePath,
		Status:   StatusNew,
	}
	res := m.db.Create(&q)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "create import job")
	}
	return &q, nil
}

func (m *Manager) Get(id uint64) (*db.ImportQueue, error) {
	q := db.ImportQueue{}
	res := m.db.First(&q, id)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, res.Error
	}
	return &q, nil
}

func (m *Manager) MarkRunning(id uint64) error {
	return m.setStatus(id, StatusRunning, "")
}

func (m *Manager) MarkDone(id uint64) error {
	now := time.Now()
	res := m.db.Model(&db.ImportQueue{GormForkedModel: db.GormForkedModel{ID: id}}).
		Updates(map[string]interface{}{"status": StatusDone, "completed": &now, "error": ""})
	return errors.Wrap(res.Error, "mark done")
}

func (m *Manager) MarkError(id uint64, msg string) error {
	return m.setStatus(id, StatusError, msg)
}

func (m *Manager) setStatus(id uint64, status int, msg string) error {
	res := m.db.Model(&db.ImportQueue{GormForkedModel: db.GormForkedModel{ID: id}}).
		Updates(map[string]interface{}{"status": status, "error": msg})
	return errors.Wrap(res.Error, "update job status")
}

// Stale lists NEW job ids left over from a previous run so the runner
// can pick them back up on startup.
func (m *Manager) Stale() ([]uint64, error) {
	var ids []uint64
	res := m.db.Model(&db.ImportQueue{}).
		Where("status = ?", StatusNew).
		Order("id").
		Pluck("id", &ids)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "list stale jobs")
	}
	return ids, nil
}

func NewRunner(lc fx.Lifecycle, mgr *Manager, importer *Importer, logger *zap.SugaredLogger) *Runner {
	r := &Runner{
		jobs:     make(chan uint64, jobBuffer),
		done:     make(chan struct{}),
		mgr:      mgr,
		importer: importer,
		logger:   logger,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			stale, err := mgr.Stale()
			if err != nil {
				return err
			}
			go r.loop()
			for _, id := range stale {
				r.Enqueue(id)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Stopping import runner.")
			close(r.jobs)
			select {
			case <-r.done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})

	return r
}

func (r *Runner) Enqueue(jobID uint64) bool {
	select {
	case r.jobs <- jobID:
		return true
	default:
		r.logger.Warnw("import queue full, leaving job NEW", "job_id", jobID)
		return false
	}
}

func (r *Runner) loop() {
	defer close(r.done)
	for id := range r.jobs {
		r.process(id)
	}
}

func (r *Runner) process(id uint64) {
	job, err := r.mgr.Get(id)
	if err != nil {
		r.logger.Errorw("load import job", "job_id", id, "err", err)
		return
	}
	if job.Status != StatusNew {
		return
	}
	if err := r.mgr.MarkRunning(id); err != nil {
		r.logger.Errorw("mark job running", "job_id", id, "err", err)
		return
	}
	if err := r.importer.Run(context.Background(), job); err != nil {
		r.logger.Errorw("import job failed", "job_id", id, "user", job.Username, "err", err)
		if merr := r.mgr.MarkError(id, err.Error()); merr != nil {
			r.logger.Errorw("mark job error", "job_id", id, "err", merr)
		}
		return
	}
	if err := r.mgr.MarkDone(id); err != nil {
		r.logger.Errorw("mark job done", "job_id", id, "err", err)
		return
	}
	r.logger.Infow("import job finished", "job_id", id, "user", job.Username)
}
