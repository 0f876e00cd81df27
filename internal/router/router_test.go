package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ovaphlow/pitchfork/service-identity/internal/user"
	"github.com/ovaphlow/pitchfork/service-identity/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/database"
)

func newTestRouter(t *testing.T) (http.Handler, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core).Sugar()
	r, err := repo.NewMemoryRepo(database.NewGate(1), logger)
	require.NoError(t, err)
	h := user.NewHandler(user.NewUserService(r, user.BcryptHasher{Cost: 4}, logger), logger)
	return RegisterRoutes(logger, h), logs
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/identity/v1/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
}

func TestCommandRouteAndRequestLog(t *testing.T) {
	router, logs := newTestRouter(t)
	body := `{"user_name":"alice","email":"a@x.com","password":"pw","country":"US","region":"CA","city":"SF","post_code":"94105"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/identity/v1/commands/CREATE_USER", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"Inactive"`)

	entries := logs.FilterMessage("http request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "CREATE_USER", fields["command"])
	assert.EqualValues(t, http.StatusOK, fields["status"])
}

func TestCommandRouteRejectsGet(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/identity/v1/commands/GET_USER", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
