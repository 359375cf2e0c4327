package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"gorm.io/gorm"

	"github.com/bookiehq/bookie-back/internal/db"
)

const hashIDLength = 14

type (
	// ParsedBookmark is one entry pulled out of an uploaded export
	// document.
	ParsedBookmark struct {
		URL   string
		Title string
		Tags  []string
	}

	// Importer turns a saved export file into bookmark rows for the
	// job's owner.
	Importer struct {
		db     *gorm.DB
		logger *zap.SugaredLogger
	}
)

func NewImporter(gdb *gorm.DB, logger *zap.SugaredLogger) *Importer {
	return &Importer{
		db:     gdb,
		logger: logger,
	}
}

func (i *Importer) Run(ctx context.Context, job *db.ImportQueue) error {
	f, err := os.Open(job.FilePath)
	if err != nil {
		return errors.Wrap(err, "open import file")
	}
	defer f.Close()

	parsed, err := ParseExport(f)
	if err != nil {
		return errors.Wrap(err, "parse import file")
	}
	if len(parsed) == 0 {
		return errors.New("no bookmarks found in import file")
	}

	for _, p := range parsed {
		if err := i.store(ctx, job.Username, p); err != nil {
			return errors.Wrapf(err, "store bookmark %s", p.URL)
		}
	}

	i.logger.Infow("imported bookmarks", "user", job.Username, "count", len(parsed))
	return nil
}

func (i *Importer) store(ctx context.Context, username string, p ParsedBookmark) error {
	gdb := i.db.WithContext(ctx)

	hashed := db.Hashed{HashID: ShortHash(p.URL), URL: p.URL}
	res := gdb.FirstOrCreate(&hashed, db.Hashed{HashID: hashed.HashID})
	if res.Error != nil {
		return errors.Wrap(res.Error, "upsert hashed")
	}

	var existing int64
	res = gdb.Model(&db.Bookmark{}).
		Where("username = ? AND hash_id = ?", username, hashed.HashID).
		Count(&existing)
	if res.Error != nil {
		return res.Error
	}
	if existing > 0 {
		return nil
	}

	tags := make([]db.Tag, 0, len(p.Tags))
	for _, name := range p.Tags {
		tag := db.Tag{Name: name}
		if res := gdb.FirstOrCreate(&tag, db.Tag{Name: name}); res.Error != nil {
			return errors.Wrap(res.Error, "upsert tag")
		}
		tags = append(tags, tag)
	}

	mark := db.Bookmark{
		Username:    username,
		HashID:      hashed.HashID,
		Description: p.Title,
		Tags:        tags,
	}
	if res := gdb.Create(&mark); res.Error != nil {
		return errors.Wrap(res.Error, "create bookmark")
	}
	return nil
}

// ParseExport reads a netscape-style bookmark document: every anchor
// with an href becomes an entry, and a tags attribute (comma or space
// separated) carries the tag names.
func ParseExport(r io.Reader) ([]ParsedBookmark, error) {
	z := html.NewTokenizer(r)

	parsed := make([]ParsedBookmark, 0)
	var current *ParsedBookmark
	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return parsed, nil
			}
			return nil, errors.Wrap(z.Err(), "tokenize")
		case html.StartTagToken:
			tok := z.Token()
			if tok.Data != "a" {
				continue
			}
			current = &ParsedBookmark{}
			for _, attr := range tok.Attr {
				switch attr.Key {
				case "href":
					current.URL = attr.Val
				case "tags":
					current.Tags = splitTags(attr.Val)
				}
			}
		case html.TextToken:
			if current != nil {
				current.Title += strings.TrimSpace(string(z.Text()))
			}
		case html.EndTagToken:
			tok := z.Token()
			if tok.Data != "a" || current == nil {
				continue
			}
			if current.URL != "" {
				parsed = append(parsed, *current)
			}
			current = nil
		}
	}
}

// ShortHash derives the canonical short identifier for a URL.
func ShortHash(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])[:hashIDLength]
}

func splitTags(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' '
	})
	tags := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			tags = append(tags, strings.ToLower(f))
		}
	}
	return tags
}
