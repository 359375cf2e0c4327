package transport

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bookiehq/bookie-back/internal/applog"
	"github.com/bookiehq/bookie-back/internal/config"
	"github.com/bookiehq/bookie-back/internal/db"
	"github.com/bookiehq/bookie-back/internal/fulltext"
	"github.com/bookiehq/bookie-back/internal/queue"
)

type (
	CustomValidator struct {
		validator *validator.Validate
	}

	HTTPServer struct {
		db       *gorm.DB
		cfg      *config.Config
		logger   *zap.SugaredLogger
		searcher fulltext.Handler
		queue    *queue.Manager
		enqueuer queue.Enqueuer
		activity *applog.Log
	}
)

func NewHTTPServer(
	lc fx.Lifecycle,
	cfg *config.Config,
	gdb *gorm.DB,
	logger *zap.SugaredLogger,
	searcher fulltext.Handler,
	mgr *queue.Manager,
	enqueuer queue.Enqueuer,
	activity *applog.Log,
) *HTTPServer {
	instance := HTTPServer{
		db:       gdb,
		cfg:      cfg,
		logger:   logger,
		searcher: searcher,
		queue:    mgr,
		enqueuer: enqueuer,
		activity: activity,
	}

	e := instance.routes()

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				listen := cfg.Host + ":" + cfg.Port
				if err := e.Start(listen); err != nil && err != http.ErrServerClosed {
					e.Logger.Fatal("shutting down the server")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Stopping HTTP server.")
			return e.Shutdown(ctx)
		},
	})

	return &instance
}

func (s *HTTPServer) routes() *echo.Echo {
	e := echo.New()

	e.POST("/api/v1/register", s.Register)
	e.POST("/api/v1/login", s.Login)

	e.GET("/search", s.SearchForm)
	e.GET("/results", s.SearchResults)
	e.GET("/results/*", s.SearchResults)
	e.GET("/api/v1/results", s.SearchResultsJSON)
	e.GET("/api/v1/results/*", s.SearchResultsJSON)
	e.GET("/api/v1/:username/results", s.SearchResultsJSON)
	e.GET("/api/v1/:username/results/*", s.SearchResultsJSON)

	e.GET("/redirect/:hash", s.Redirect)

	e.GET("/:username/import", s.ImportBookmarks, s.RequireUser)
	e.POST("/:username/import", s.ImportBookmarks, s.RequireUser)
	e.GET("/:username/search", s.SearchForm)
	e.GET("/:username/results", s.SearchResults)
	e.GET("/:username/results/*", s.SearchResults)
	e.GET("/:username/export", s.Export)
	e.GET("/:username/redirect/:hash", s.Redirect)

	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })

	e.Use(middleware.CORS())
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.Validator = &CustomValidator{validator: validator.New()}

	echo.NotFoundHandler = func(c echo.Context) error {
		return c.NoContent(http.StatusNotFound)
	}

	return e
}

// RequireUser is the access gate for user-scoped pages: the token in
// X-Api-Key must resolve to the same username as the path.
func (s *HTTPServer) RequireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		username := c.Param("username")

		token := tokenFromHeader(c)
		if token == "" {
			return c.NoContent(http.StatusForbidden)
		}
		user := db.User{}
		res := s.db.Where("token = ?", token).First(&user)
		if res.Error != nil {
			c.Logger().Error(errors.Wrap(res.Error, "find user in db"))
			return c.NoContent(http.StatusForbidden)
		}
		if user.Username != username {
			return c.NoContent(http.StatusForbidden)
		}

		c.Set("user", &user)
		return next(c)
	}
}

// currentUsername resolves the acting user from the request token, if
// any. Unlike RequireUser it never rejects the request.
func (s *HTTPServer) currentUsername(c echo.Context) string {
	token := tokenFromHeader(c)
	if token == "" {
		return ""
	}
	user := db.User{}
	res := s.db.Where("token = ?", token).First(&user)
	if res.Error != nil {
		return ""
	}
	return user.Username
}

func tokenFromHeader(c echo.Context) string {
	for key, values := range c.Request().Header {
		if strings.ToLower(key) == "x-api-key" {
			return values[0]
		}
	}
	return ""
}

////////

func (cv *CustomValidator) Validate(i interface{}) error {
	if err := cv.validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return nil
}

func BindAndValidate(c echo.Context, v interface{}) error {
	var err error
	if err = c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err = c.Validate(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func GetParam(c echo.Context, name string) (string, error) {
	value := c.Param(name)
	if value == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid path param '"+name+"'")
	}
	return value, nil
}

// intParamDefault parses a query parameter leniently: anything that
// does not parse falls back to the default, it is never an error.
func intParamDefault(c echo.Context, name string, def int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
