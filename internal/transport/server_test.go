package transport

import (
	"testing"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bookiehq/bookie-back/internal/applog"
	"github.com/bookiehq/bookie-back/internal/config"
	"github.com/bookiehq/bookie-back/internal/db"
	"github.com/bookiehq/bookie-back/internal/fulltext"
	"github.com/bookiehq/bookie-back/internal/queue"
	"github.com/bookiehq/bookie-back/internal/testutil"
)

type stubEnqueuer struct {
	ids []uint64
}

func (s *stubEnqueuer) Enqueue(jobID uint64) bool {
	s.ids = append(s.ids, jobID)
	return true
}

func newTestServer(t *testing.T) (*HTTPServer, *echo.Echo, *stubEnqueuer) {
	t.Helper()

	gdb := testutil.NewDB(t)
	logger := zap.NewNop().Sugar()
	enq := &stubEnqueuer{}

	s := &HTTPServer{
		db: gdb,
		cfg: &config.Config{
			DBDriver:    config.DriverSqlite,
			ImportFiles: t.TempDir(),
		},
		logger:   logger,
		searcher: fulltext.ForConnection("test.db", gdb, logger),
		queue:    queue.NewManager(gdb, logger),
		enqueuer: enq,
		activity: applog.NewLog(gdb, logger),
	}
	return s, s.routes(), enq
}

func seedUser(t *testing.T, gdb *gorm.DB, username, token string) {
	t.Helper()
	res := gdb.Create(&db.User{
		Username: username,
		Email:    username + "@example.com",
		Password: "not-a-real-hash",
		Token:    token,
	})
	if res.Error != nil {
		t.Fatalf("seed user %s: %v", username, res.Error)
	}
}

func seedBookmark(t *testing.T, gdb *gorm.DB, username, rawURL, title, extended string, tagNames ...string) db.Bookmark {
	t.Helper()

	hashed := db.Hashed{HashID: queue.ShortHash(rawURL), URL: rawURL}
	if res := gdb.FirstOrCreate(&hashed, db.Hashed{HashID: hashed.HashID}); res.Error != nil {
		t.Fatalf("seed hashed %s: %v", rawURL, res.Error)
	}

	tags := make([]db.Tag, 0, len(tagNames))
	for _, name := range tagNames {
		tag := db.Tag{Name: name}
		if res := gdb.FirstOrCreate(&tag, db.Tag{Name: name}); res.Error != nil {
			t.Fatalf("seed tag %s: %v", name, res.Error)
		}
		tags = append(tags, tag)
	}

	mark := db.Bookmark{
		Username:    username,
		HashID:      hashed.HashID,
		Description: title,
		Extended:    extended,
		Tags:        tags,
	}
	if res := gdb.Create(&mark); res.Error != nil {
		t.Fatalf("seed bookmark %s: %v", rawURL, res.Error)
	}
	return mark
}
