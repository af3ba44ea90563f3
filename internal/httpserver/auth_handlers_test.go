package httpserver_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"securechat/internal/config"
	"securechat/internal/httpserver"
	"securechat/internal/store/sqlite"
)

func startAPI(t *testing.T) *httptest.Server {
	t.Helper()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqlite.Migrate(db))

	cfg := &config.Config{
		AppName:            "securechat-test",
		JWTSecret:          "test-secret",
		AccessTokenMinutes: 60,
		CORSOrigins:        []string{"http://localhost:3000"},
	}
	srv := httptest.NewServer(httpserver.NewRouter(cfg, db, zap.NewNop()))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	srv := startAPI(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSignupAndLogin(t *testing.T) {
	srv := startAPI(t)
	creds := map[string]string{"username": "alice", "password": "s3cret"}

	t.Run("signup", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/signup", creds)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
	})

	t.Run("duplicate username", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/signup", creds)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("missing fields", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/signup", map[string]string{"username": "x"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	var token string
	t.Run("login", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/login", creds)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			AccessToken string `json:"access_token"`
			TokenType   string `json:"token_type"`
			User        struct {
				Username string `json:"username"`
			} `json:"user"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "bearer", body.TokenType)
		assert.Equal(t, "alice", body.User.Username)
		require.NotEmpty(t, body.AccessToken)
		token = body.AccessToken
	})

	t.Run("wrong password", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/login", map[string]string{"username": "alice", "password": "nope"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("me with token", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/me", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var user struct {
			Username string `json:"username"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&user))
		assert.Equal(t, "alice", user.Username)
	})

	t.Run("me without token", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/me")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}
