package user

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity/pkg/apperr"
)

func newTestHandler(t *testing.T) (*Handler, http.Handler) {
	t.Helper()
	svc, _ := newTestService(t)
	h := NewHandler(svc, zap.NewNop().Sugar())
	mux := http.NewServeMux()
	mux.Handle("POST /identity/v1/commands/{command}", h)
	return h, mux
}

func post(t *testing.T, mux http.Handler, command, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/identity/v1/commands/"+command, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

const aliceJSON = `{"user_name":"alice","email":"a@x.com","password":"pw","country":"US","region":"CA","city":"SF","post_code":"94105"}`

func TestHTTPCreateUser(t *testing.T) {
	_, mux := newTestHandler(t)

	rec := post(t, mux, CommandCreateUser, aliceJSON)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Inactive", body["status"])
	assert.Equal(t, "Guest", body["role"])
	assert.NotContains(t, body, "password")
	assert.NotContains(t, body, "email_verify_code")
	assert.NotContains(t, body, "password_recovery_code")

	rec = post(t, mux, CommandCreateUser, aliceJSON)
	assert.Equal(t, http.StatusConflict, rec.Code)
	var errBody ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errBody))
	assert.Equal(t, apperr.CodeEmailExisted, errBody.Code)
}

func TestHTTPErrors(t *testing.T) {
	_, mux := newTestHandler(t)

	tests := []struct {
		name    string
		command string
		body    string
		status  int
		code    apperr.Code
	}{
		{"unknown command", "DROP_USERS", `{}`, http.StatusBadRequest, apperr.CodeBadRequest},
		{"malformed json", CommandCreateUser, `{"user_name":`, http.StatusBadRequest, apperr.CodeBadRequest},
		{"validation", CommandGetUsers, `{"country":"US"}`, http.StatusBadRequest, apperr.CodeBadRequest},
		{"unknown reason", CommandUpdateUserStatus, `{"status":"Active:Bored","country":"US","region":"CA","city":"SF","user_id":"0190a5e2-7d1c-7b3a-9c4e-1f2a3b4c5d6e"}`, http.StatusBadRequest, apperr.CodeUnknownReason},
		{"not found", CommandGetUser, `{"user_name":"nobody"}`, http.StatusNotFound, apperr.CodeUserNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, mux, tt.command, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Code)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestDispatchStatusPush(t *testing.T) {
	h, _ := newTestHandler(t)
	ctx := context.Background()

	out, err := h.Dispatch(ctx, CommandCreateUser, []byte(aliceJSON))
	require.NoError(t, err)
	var created PublicUser
	require.NoError(t, json.Unmarshal(out, &created))

	push := `{"status":"Disable:Spammer","country":"US","region":"CA","city":"SF","user_id":"` + created.UserID.String() + `"}`
	out, err = h.Dispatch(ctx, CommandUpdateUserStatus, []byte(push))
	require.NoError(t, err)
	assert.JSONEq(t, `{"applied":true}`, string(out))

	out, err = h.Dispatch(ctx, CommandGetUsers, []byte(`{"country":"US","region":"CA","city":"SF"}`))
	require.NoError(t, err)
	var users []PublicUser
	require.NoError(t, json.Unmarshal(out, &users))
	require.Len(t, users, 1)
	assert.Equal(t, "Disable", users[0].Status)
}

func TestDispatchHidesInternalDetails(t *testing.T) {
	r := new(MockRepository)
	r.On("FindAllInPartition", mock.Anything, mock.Anything).Return(nil, apperr.Internal(assert.AnError))
	h := NewHandler(NewUserService(r, fakeHasher{}, nil), zap.NewNop().Sugar())

	_, err := h.Dispatch(context.Background(), CommandGetUsers, []byte(`{"country":"US","region":"CA","city":"SF"}`))
	e := apperr.As(err)
	require.NotNil(t, e)
	assert.Equal(t, apperr.CodeInternal, e.Code)
	assert.NotContains(t, e.Public(), assert.AnError.Error())
}

func TestNewHandlerNilLogger(t *testing.T) {
	svc, _ := newTestService(t)
	h := NewHandler(svc, nil)
	_, err := h.Dispatch(context.Background(), "NO_SUCH_COMMAND", nil)
	assert.ErrorIs(t, err, apperr.ErrBadRequest)

	out, err := h.Dispatch(context.Background(), CommandCreateUser, []byte(aliceJSON))
	require.NoError(t, err)
	assert.Contains(t, string(out), `"user_name":"alice"`)
}
