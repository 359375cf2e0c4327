package transport

import (
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/bookiehq/bookie-back/internal/db"
	"github.com/bookiehq/bookie-back/internal/fulltext"
)

const letters = "abcdefghijklmnopqrstuvwxyz"

func init() {
	rand.Seed(time.Now().UnixNano())
}

type (
	ImportStats struct {
		Status    int        `json:"status"`
		File      string     `json:"file"`
		Created   time.Time  `json:"created"`
		Completed *time.Time `json:"completed,omitempty"`
		Error     string     `json:"error,omitempty"`
	}

	ImportStatusResp struct {
		Existing    bool         `json:"existing"`
		ImportStats *ImportStats `json:"import_stats,omitempty"`
	}

	ImportErrorResp struct {
		Error *string `json:"error"`
	}

	SearchFormResp struct {
		Username *string `json:"username"`
	}

	SearchPageResp struct {
		SearchResults []fulltext.Result `json:"search_results"`
		Count         int               `json:"count"`
		Phrase        string            `json:"phrase"`
		Page          int               `json:"page"`
		Username      *string           `json:"username"`
		MaxCount      int               `json:"max_count"`
	}

	SearchPayload struct {
		SearchResults []fulltext.Result `json:"search_results"`
		ResultCount   int               `json:"result_count"`
		Phrase        string            `json:"phrase"`
		Page          int               `json:"page"`
		Username      *string           `json:"username"`
	}

	SearchEnvelope struct {
		Success bool          `json:"success"`
		Message string        `json:"message"`
		Payload SearchPayload `json:"payload"`
	}
)

// ImportBookmarks lets a user upload a bookmark export file. The
// upload is saved off and queued; parsing happens asynchronously.
func (s *HTTPServer) ImportBookmarks(c echo.Context) error {
	username, err := GetParam(c, "username")
	if err != nil {
		return err
	}

	// a user may only have one import in flight
	pending, err := s.queue.HasPending(username)
	if err != nil {
		return err
	}
	if pending {
		job, err := s.queue.Details(username)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, &ImportStatusResp{
			Existing: true,
			ImportStats: &ImportStats{
				Status:    job.Status,
				File:      filepath.Base(job.FilePath),
				Created:   job.CreatedAt,
				Completed: job.Completed,
				Error:     job.Error,
			},
		})
	}

	if c.Request().Method == http.MethodPost {
		file, ferr := c.FormFile("import_file")
		if ferr != nil {
			return c.JSON(http.StatusOK, &ImportErrorResp{Error: s.popFlash(c)})
		}

		outDir := filepath.Join(s.cfg.ImportFiles, string(letters[rand.Intn(len(letters))]))
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return errors.Wrap(err, "create import dir")
		}

		outName := filepath.Join(outDir, username+"."+filepath.Base(file.Filename))
		src, err := file.Open()
		if err != nil {
			return errors.Wrap(err, "open upload")
		}
		defer src.Close()
		dst, err := os.Create(outName)
		if err != nil {
			return errors.Wrap(err, "create import file")
		}
		defer dst.Close()
		if _, err := io.Copy(dst, src); err != nil {
			return errors.Wrap(err, "write import file")
		}

		job, err := s.queue.Add(username, outName)
		if err != nil {
			return err
		}
		s.enqueuer.Enqueue(job.ID)

		// reload shows the pending-import state, not a fresh form
		return c.Redirect(http.StatusFound, "/"+username+"/import")
	}

	return c.JSON(http.StatusOK, &ImportStatusResp{Existing: false})
}

// SearchForm only carries the username so the form can target the
// user-scoped results route. No search runs here.
func (s *HTTPServer) SearchForm(c echo.Context) error {
	return c.JSON(http.StatusOK, &SearchFormResp{
		Username: optional(c.Param("username")),
	})
}

func (s *HTTPServer) SearchResults(c echo.Context) error {
	username, phrase, page, count := s.resolveSearch(c)
	results, err := s.searcher.Search(c.Request().Context(), phrase, true, username, count, page)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, &SearchPageResp{
		SearchResults: results,
		Count:         len(results),
		Phrase:        phrase,
		Page:          page,
		Username:      optional(username),
		MaxCount:      fulltext.DefaultCount,
	})
}

func (s *HTTPServer) SearchResultsJSON(c echo.Context) error {
	username, phrase, page, count := s.resolveSearch(c)
	results, err := s.searcher.Search(c.Request().Context(), phrase, true, username, count, page)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, &SearchEnvelope{
		Success: true,
		Message: "",
		Payload: SearchPayload{
			SearchResults: results,
			ResultCount:   len(results),
			Phrase:        phrase,
			Page:          page,
			Username:      optional(username),
		},
	})
}

// resolveSearch pulls the query out of the request. Path terms win
// over the search query parameter when both are present.
func (s *HTTPServer) resolveSearch(c echo.Context) (username, phrase string, page, count int) {
	username = c.Param("username")

	if terms := strings.Trim(c.Param("*"), "/"); terms != "" {
		parts := strings.Split(terms, "/")
		for i, p := range parts {
			if unescaped, err := url.PathUnescape(p); err == nil {
				parts[i] = unescaped
			}
		}
		phrase = strings.Join(parts, " ")
	} else {
		phrase = c.QueryParam("search")
	}

	page = intParamDefault(c, "page", 0)
	count = intParamDefault(c, "count", fulltext.DefaultCount)
	return username, phrase, page, count
}

// Redirect resolves a short hash to its URL, counting the click. A
// username in the path attributes the click to that user's bookmark
// as well.
func (s *HTTPServer) Redirect(c echo.Context) error {
	hashID, err := GetParam(c, "hash")
	if err != nil {
		return err
	}
	username := c.Param("username")

	hashed := db.Hashed{}
	res := s.db.First(&hashed, "hash_id = ?", hashID)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return c.NoContent(http.StatusNotFound)
		}
		return res.Error
	}

	res = s.db.Model(&hashed).Update("clicks", hashed.Clicks+1)
	if res.Error != nil {
		return res.Error
	}

	if username != "" {
		marks := make([]db.Bookmark, 0, 1)
		res := s.db.Where("hash_id = ? AND username = ?", hashID, username).Find(&marks)
		if res.Error != nil {
			return res.Error
		}
		if len(marks) != 1 {
			return errors.Errorf("expected one bookmark for hash %s and user %s, got %d", hashID, username, len(marks))
		}
		res = s.db.Model(&marks[0]).Update("clicks", marks[0].Clicks+1)
		if res.Error != nil {
			return res.Error
		}
	}

	return c.Redirect(http.StatusFound, hashed.URL)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// popFlash returns and clears the one-shot flash message cookie.
func (s *HTTPServer) popFlash(c echo.Context) *string {
	cookie, err := c.Cookie("flash")
	if err != nil || cookie.Value == "" {
		return nil
	}
	c.SetCookie(&http.Cookie{
		Name:    "flash",
		Value:   "",
		Path:    "/",
		Expires: time.Unix(0, 0),
	})
	msg, err := url.QueryUnescape(cookie.Value)
	if err != nil {
		msg = cookie.Value
	}
	return &msg
}
