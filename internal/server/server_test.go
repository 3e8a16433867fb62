package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kibitzhq/kibitz/internal/auth"
	"github.com/kibitzhq/kibitz/internal/chat"
	"github.com/kibitzhq/kibitz/internal/dispatch"
	"github.com/kibitzhq/kibitz/internal/model"
	"github.com/kibitzhq/kibitz/internal/ratelimit"
)

type echoModule struct{}

func (echoModule) Name() string { return "echo" }
func (echoModule) ProcessMessage(_ context.Context, msg *model.Message) (model.Response, error) {
	return model.Response{Confidence: 5, Text: "echo: " + msg.Query}, nil
}

type quietModule struct{}

func (quietModule) Name() string { return "quiet" }
func (quietModule) ProcessMessage(context.Context, *model.Message) (model.Response, error) {
	return model.Response{}, nil
}

func testServer(t *testing.T) (*Server, *auth.JWTManager) {
	t.Helper()

	hash, err := auth.HashKey("secret")
	require.NoError(t, err)

	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	front := chat.NewHTTPFront("kibitz")
	registry := chat.NewRegistry(front)
	d := dispatch.New(dispatch.Config{}, registry,
		[]dispatch.Module{echoModule{}, quietModule{}},
		nil, ratelimit.NewTimers(), slog.Default())

	srv := New(Config{
		Front:       front,
		Dispatcher:  d,
		JWTMgr:      jwtMgr,
		Logger:      slog.Default(),
		Keys:        map[string]string{"cli": hash},
		ModuleNames: []string{"echo", "quiet"},
	})
	return srv, jwtMgr
}

func postChat(t *testing.T, srv *Server, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestChatWithKey(t *testing.T) {
	srv, _ := testServer(t)

	rec := postChat(t, srv, `{"content":"hello there","key":"secret"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Equal(t, "echo: hello there", string(body))
}

func TestChatRejectsMissingCredentials(t *testing.T) {
	srv, _ := testServer(t)

	rec := postChat(t, srv, `{"content":"hello"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postChat(t, srv, `{"content":"hello","key":"wrong"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatRejectsMalformedRequests(t *testing.T) {
	srv, _ := testServer(t)

	rec := postChat(t, srv, `{not json`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postChat(t, srv, `{"key":"secret"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatWithBearerToken(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/token",
		strings.NewReader(`{"name":"cli","key":"secret"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var env struct {
		Data tokenResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NotEmpty(t, env.Data.Token)

	rec = postChat(t, srv, `{"content":"hi"}`, map[string]string{
		"Authorization": "Bearer " + env.Data.Token,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "echo: hi", rec.Body.String())
}

func TestAuthTokenRejectsWrongKey(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/token",
		strings.NewReader(`{"name":"cli","key":"wrong"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListModulesCommand(t *testing.T) {
	srv, _ := testServer(t)

	rec := postChat(t, srv, `{"content":":list_modules","key":"secret"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "echo\nquiet", rec.Body.String())
}

func TestSelectModulesCommand(t *testing.T) {
	srv, _ := testServer(t)

	rec := postChat(t, srv, `{"content":":select_modules quiet","key":"secret"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "selected modules: quiet")

	// With only the silent module selected there is no reply.
	rec = postChat(t, srv, `{"content":"hello","key":"secret"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())

	// Clearing the selection restores the echo module.
	rec = postChat(t, srv, `{"content":":select_modules","key":"secret"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postChat(t, srv, `{"content":"hello","key":"secret"}`, nil)
	assert.Equal(t, "echo: hello", rec.Body.String())
}

func TestSelectModulesRejectsUnknown(t *testing.T) {
	srv, _ := testServer(t)

	rec := postChat(t, srv, `{"content":":select_modules nonsense","key":"secret"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "unknown module: nonsense", rec.Body.String())
}

func TestPerRequestModuleOverride(t *testing.T) {
	srv, _ := testServer(t)

	rec := postChat(t, srv, `{"content":"hello","key":"secret","modules":["quiet"]}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}
