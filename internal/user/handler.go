package user

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity/pkg/apperr"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/utilities"
)

// Command names accepted by Dispatch.
const (
	CommandCreateUser       = "CREATE_USER"
	CommandGetUser          = "GET_USER"
	CommandGetUserByID      = "GET_USER_BY_ID"
	CommandGetUsers         = "GET_USERS"
	CommandUpdateUser       = "UPDATE_USER"
	CommandUpdateUserStatus = "UPDATE_USER_STATUS"
)

// maxPayload caps a command body.
const maxPayload = 1 << 20

type commandFunc func(ctx context.Context, payload []byte) (any, error)

// Handler routes named commands to the user service. It backs both the
// HTTP and the gRPC transport.
type Handler struct {
	svc      *UserService
	logger   *zap.SugaredLogger
	commands map[string]commandFunc
}

func NewHandler(svc *UserService, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	h := &Handler{svc: svc, logger: logger}
	h.commands = map[string]commandFunc{
		CommandCreateUser: func(ctx context.Context, p []byte) (any, error) {
			var req CreateUserRequest
			if err := decode(p, &req); err != nil {
				return nil, err
			}
			return svc.CreateUser(ctx, req)
		},
		CommandGetUser: func(ctx context.Context, p []byte) (any, error) {
			var req GetUserRequest
			if err := decode(p, &req); err != nil {
				return nil, err
			}
			return svc.GetUser(ctx, req)
		},
		CommandGetUserByID: func(ctx context.Context, p []byte) (any, error) {
			var req GetUserByPrimaryKeyRequest
			if err := decode(p, &req); err != nil {
				return nil, err
			}
			return svc.GetUserByID(ctx, req)
		},
		CommandGetUsers: func(ctx context.Context, p []byte) (any, error) {
			var req GetUsersRequest
			if err := decode(p, &req); err != nil {
				return nil, err
			}
			return svc.GetUsers(ctx, req)
		},
		CommandUpdateUser: func(ctx context.Context, p []byte) (any, error) {
			var req UpdateUserRequest
			if err := decode(p, &req); err != nil {
				return nil, err
			}
			return svc.UpdateUser(ctx, req)
		},
		CommandUpdateUserStatus: func(ctx context.Context, p []byte) (any, error) {
			var req UpdateUserStatusRequest
			if err := decode(p, &req); err != nil {
				return nil, err
			}
			applied, err := svc.UpdateUserStatus(ctx, req)
			if err != nil {
				return nil, err
			}
			return StatusPushResponse{Applied: applied}, nil
		},
	}
	return h
}

// StatusPushResponse is the body returned by UPDATE_USER_STATUS.
type StatusPushResponse struct {
	Applied bool `json:"applied"`
}

// ErrorResponse is the body returned for a failed command.
type ErrorResponse struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
}

func decode(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return apperr.BadRequest("invalid payload: " + err.Error())
	}
	return nil
}

// Dispatch runs command with a JSON payload and returns the JSON result.
// Returned errors are always *apperr.Error.
func (h *Handler) Dispatch(ctx context.Context, command string, payload []byte) ([]byte, error) {
	requestID := utilities.NewSnowflakeID()
	start := time.Now()

	out, err := h.dispatch(ctx, command, payload)
	if err != nil {
		e := apperr.As(err)
		if e.Code == apperr.CodeInternal {
			h.logger.Errorw("command failed", "request_id", requestID, "command", command, "err", err)
		}
		h.logger.Debugw("command dispatched", "request_id", requestID, "command", command,
			"duration_ms", float64(time.Since(start).Microseconds())/1000.0, "code", e.Code)
		return nil, e
	}
	h.logger.Debugw("command dispatched", "request_id", requestID, "command", command,
		"duration_ms", float64(time.Since(start).Microseconds())/1000.0, "code", "OK")
	return out, nil
}

func (h *Handler) dispatch(ctx context.Context, command string, payload []byte) ([]byte, error) {
	fn, ok := h.commands[command]
	if !ok {
		return nil, apperr.BadRequest("unknown command " + command)
	}
	res, err := fn(ctx, payload)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(res)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return out, nil
}

// ServeHTTP handles POST /identity/v1/commands/{command}.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayload))
	if err != nil {
		h.logger.Debugw("invalid command payload", "err", err)
		h.writeError(w, apperr.BadRequest("invalid payload"))
		return
	}
	out, err := h.Dispatch(r.Context(), r.PathValue("command"), body)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	e := apperr.As(err)
	h.writeJSON(w, e.Code.HTTPStatus(), ErrorResponse{Code: e.Code, Message: e.Public()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
