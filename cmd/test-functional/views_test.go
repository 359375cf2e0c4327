package test_functional

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
)

func TestRegister(t *testing.T) {
	defer FlushDB()

	u := AppBaseURL
	u.Path = "/api/v1/register"

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	type Resp struct {
		Token string `json:"token"`
	}

	resp, err := resty.New().
		R().
		SetHeader("Content-Type", "application/json").
		SetContext(ctx).
		SetResult(&Resp{}).
		SetBody(`
			{"username": "alice", "email": "alice@example.com", "password": "111111111111"}
		`).
		Post(u.String())
	assert.Nil(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode())

	got, ok := resp.Result().(*Resp)
	assert.True(t, ok)
	assert.NotEmpty(t, got.Token)

	var (
		id    uint64
		token string
	)
	err = DBConn.QueryRow(ctx, "SELECT id, token FROM users WHERE token=$1", got.Token).Scan(&id, &token)
	assert.Nil(t, err)

	assert.Equal(t, token, got.Token)
}

func TestSearchAndRedirect(t *testing.T) {
	defer FlushDB()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	_, err := DBConn.Exec(ctx,
		"INSERT INTO hasheds (hash_id, url, clicks, created_at) VALUES ('functest0hash', 'http://example.com/functest', 0, NOW())")
	assert.Nil(t, err)
	_, err = DBConn.Exec(ctx,
		"INSERT INTO bookmarks (username, hash_id, description, extended, clicks, created_at, updated_at) "+
			"VALUES ('alice', 'functest0hash', 'Functional test page', 'searchable text', 0, NOW(), NOW())")
	assert.Nil(t, err)

	//////

	searchURL := AppBaseURL
	searchURL.Path = "/api/v1/alice/results"

	type Envelope struct {
		Success bool `json:"success"`
		Payload struct {
			ResultCount int    `json:"result_count"`
			Phrase      string `json:"phrase"`
		} `json:"payload"`
	}

	resp, err := resty.New().
		R().
		SetContext(ctx).
		SetQueryParam("search", "searchable").
		SetResult(&Envelope{}).
		Get(searchURL.String())
	assert.Nil(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())

	got, ok := resp.Result().(*Envelope)
	assert.True(t, ok)
	assert.True(t, got.Success)
	assert.Equal(t, 1, got.Payload.ResultCount)

	//////

	redirectURL := AppBaseURL
	redirectURL.Path = "/alice/redirect/functest0hash"

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	rresp, err := client.Get(redirectURL.String())
	assert.Nil(t, err)
	defer rresp.Body.Close()

	assert.Equal(t, http.StatusFound, rresp.StatusCode)
	assert.Equal(t, "http://example.com/functest", rresp.Header.Get("Location"))

	var hashClicks, bmarkClicks int64
	err = DBConn.QueryRow(ctx, "SELECT clicks FROM hasheds WHERE hash_id=$1", "functest0hash").Scan(&hashClicks)
	assert.Nil(t, err)
	err = DBConn.QueryRow(ctx, "SELECT clicks FROM bookmarks WHERE username='alice' AND hash_id=$1", "functest0hash").Scan(&bmarkClicks)
	assert.Nil(t, err)

	assert.EqualValues(t, 1, hashClicks)
	assert.EqualValues(t, 1, bmarkClicks)
}
