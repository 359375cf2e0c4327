package transport

import (
	"bytes"
	"html/template"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/bookiehq/bookie-back/internal/db"
)

const exportFilename = `attachment; filename="bookie_export.html"`

var exportTmpl = template.Must(template.New("export").Parse(`<!DOCTYPE NETSCAPE-Bookmark-file-1>
<META HTTP-EQUIV="Content-Type" CONTENT="text/html; charset=UTF-8">
<TITLE>Bookmarks</TITLE>
<H1>Bookmarks for {{.Username}}</H1>
<DL><p>
{{- range .Bmarks}}
    <DT><A HREF="{{.URL}}" TAGS="{{.Tags}}">{{.Title}}</A>
{{- end}}
</DL><p>
`))

type exportRow struct {
	URL   string
	Title string
	Tags  string
}

// Export renders the user's full bookmark list as a downloadable
// document. Anyone can export anyone: the activity log records both
// the subject and the acting user.
func (s *HTTPServer) Export(c echo.Context) error {
	username, err := GetParam(c, "username")
	if err != nil {
		return err
	}

	bmarks := make([]db.Bookmark, 0)
	res := s.db.
		Preload("Tags").
		Preload("Hashed").
		Where("username = ?", username).
		Order("id").
		Find(&bmarks)
	if res.Error != nil {
		return res.Error
	}

	if err := s.activity.Export(username, s.currentUsername(c)); err != nil {
		s.logger.Errorw("log export event", "user", username, "err", err)
	}

	rows := make([]exportRow, len(bmarks))
	for i := range bmarks {
		names := make([]string, len(bmarks[i].Tags))
		for j, tag := range bmarks[i].Tags {
			names[j] = tag.Name
		}
		rows[i] = exportRow{
			URL:   bmarks[i].Hashed.URL,
			Title: bmarks[i].Description,
			Tags:  strings.Join(names, ","),
		}
	}

	var buf bytes.Buffer
	if err := exportTmpl.Execute(&buf, map[string]interface{}{
		"Username": username,
		"Bmarks":   rows,
	}); err != nil {
		return err
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, exportFilename)
	return c.Blob(http.StatusOK, echo.MIMETextHTMLCharsetUTF8, buf.Bytes())
}
