package transport

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/bookiehq/bookie-back/internal/db"
)

const bcryptCost = 14

type (
	RegisterReq struct {
		Username string `json:"username" validate:"required"`
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required,min=8"`
	}

	LoginReq struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	TokenResp struct {
		Token string `json:"token"`
	}
)

func (s *HTTPServer) Register(c echo.Context) error {
	req := RegisterReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		return errors.Wrap(err, "generate password hash")
	}

	token := uuid.New().String()
	res := s.db.Create(&db.User{
		Username: req.Username,
		Email:    req.Email,
		Password: string(hash),
		Token:    token,
	})
	if res.Error != nil {
		return res.Error
	}
	return c.JSON(http.StatusOK, &TokenResp{Token: token})
}

func (s *HTTPServer) Login(c echo.Context) error {
	req := LoginReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	user := db.User{}
	res := s.db.Where("username = ?", req.Username).First(&user)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return c.NoContent(http.StatusUnauthorized)
		}
		return res.Error
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return c.NoContent(http.StatusUnauthorized)
	}

	token := uuid.New().String()
	res = s.db.Model(&user).Update("token", token)
	if res.Error != nil {
		return errors.Wrap(res.Error, "update token")
	}

	return c.JSON(http.StatusOK, &TokenResp{Token: token})
}
