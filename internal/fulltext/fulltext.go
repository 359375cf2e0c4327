package fulltext

import (
	"context"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultCount is the page size used when the caller does not ask for
// a specific one.
const DefaultCount = 50

type (
	// Result is one full-text match, shaped for output.
	Result struct {
		HashID   string `json:"hash_id"`
		URL      string `json:"url"`
		Title    string `json:"title"`
		Snippet  string `json:"snippet"`
		Tags     string `json:"tags"`
		Username string `json:"username"`
	}

	// Handler searches bookmark content. withContent widens the match
	// to the extended text, username scopes results to one owner.
	Handler interface {
		Search(ctx context.Context, phrase string, withContent bool, username string, count, page int) ([]Result, error)
	}

	sqlSearcher struct {
		db     *gorm.DB
		logger *zap.SugaredLogger
		ilike  bool
		tagAgg string
	}
)

// ForConnection picks the search backend for the given connection
// string: a postgres DSN gets ILIKE matching and string_agg, anything
// else is treated as sqlite.
func ForConnection(conn string, gdb *gorm.DB, logger *zap.SugaredLogger) Handler {
	if strings.Contains(conn, "host=") || strings.HasPrefix(conn, "postgres://") {
		return &sqlSearcher{
			db:     gdb,
			logger: logger,
			ilike:  true,
			tagAgg: "string_agg(t.name, ' ')",
		}
	}
	return &sqlSearcher{
		db:     gdb,
		logger: logger,
		tagAgg: "group_concat(t.name, ' ')",
	}
}

func (s *sqlSearcher) Search(ctx context.Context, phrase string, withContent bool, username string, count, page int) ([]Result, error) {
	if count <= 0 {
		count = DefaultCount
	}
	if page < 0 {
		page = 0
	}

	q := squirrel.
		Select(
			"b.hash_id AS hash_id",
			"h.url AS url",
			"b.description AS title",
			"b.extended AS snippet",
			"b.username AS username",
			"COALESCE("+s.tagAgg+", '') AS tags",
		).
		From("bookmarks b").
		Join("hasheds h ON h.hash_id = b.hash_id").
		LeftJoin("bookmark_tags bt ON bt.bookmark_id = b.id").
		LeftJoin("tags t ON t.id = bt.tag_id").
		GroupBy("b.id", "h.hash_id").
		OrderBy("b.created_at DESC", "b.id DESC").
		Limit(uint64(count)).
		Offset(uint64(page * count))

	if username != "" {
		q = q.Where(squirrel.Eq{"b.username": username})
	}
	for _, term := range strings.Fields(phrase) {
		q = q.Where(s.termMatch(term, withContent))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build sql")
	}

	results := make([]Result, 0)
	res := s.db.WithContext(ctx).Raw(sql, args...).Scan(&results)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "scan")
	}

	s.logger.Debugw("fulltext search", "phrase", phrase, "username", username, "hits", len(results))
	return results, nil
}

func (s *sqlSearcher) termMatch(term string, withContent bool) squirrel.Sqlizer {
	pattern := "%" + term + "%"
	if s.ilike {
		match := squirrel.Or{
			squirrel.ILike{"b.description": pattern},
			squirrel.ILike{"h.url": pattern},
		}
		if withContent {
			match = append(match, squirrel.ILike{"b.extended": pattern})
		}
		return match
	}
	match := squirrel.Or{
		squirrel.Like{"b.description": pattern},
		squirrel.Like{"h.url": pattern},
	}
	if withContent {
		match = append(match, squirrel.Like{"b.extended": pattern})
	}
	return match
}
