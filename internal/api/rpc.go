package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/RyotaroOda/TuringChatD11-sub000/internal/battle"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/matching"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/msgcat"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/obslog"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/profile"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/result"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/store"
	"github.com/RyotaroOda/TuringChatD11-sub000/pkg/turingdto"
)

const maxBodyBytes = 64 << 10

var errBadRequest = errors.New("api: malformed request body")

// callFunc handles one callable. data is the raw "data" member of the
// request envelope; the returned value becomes "result".
type callFunc func(ctx context.Context, caller *Claims, data json.RawMessage) (any, error)

// callable wraps fn with bearer auth and the {"data"} / {"result"} envelope.
// An unauthenticated request is rejected before fn runs.
func (s *Server) callable(name string, fn callFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		caller, err := s.auth.fromRequest(r)
		if err != nil {
			s.writeError(w, name, err)
			return
		}
		var req turingdto.CallRequest
		body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			s.writeError(w, name, errBadRequest)
			return
		}
		ctx := withCaller(r.Context(), caller)
		out, err := fn(ctx, caller, req.Data)
		if err != nil {
			s.writeError(w, name, err)
			return
		}
		raw, err := json.Marshal(out)
		if err != nil {
			s.writeError(w, name, err)
			return
		}
		writeJSON(w, http.StatusOK, turingdto.CallResponse{Result: raw})
	}
}

func decodeData(data json.RawMessage, dst any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return errBadRequest
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	status, de := s.domainError(err)
	if status >= 500 {
		obslog.L().Error("api_call_error", zap.String("op", op), zap.Error(err))
	} else {
		obslog.L().Info("api_call_rejected", zap.String("op", op), zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, turingdto.CallResponse{Error: &de})
}

// domainError maps package sentinels to an HTTP status and a client-facing
// error body.
func (s *Server) domainError(err error) (int, turingdto.DomainError) {
	text := func(key string) string { return s.cat.Text(key) }
	switch {
	case errors.Is(err, errUnauthenticated):
		return http.StatusUnauthorized, turingdto.DomainError{Code: turingdto.CodeUnauthenticated, Message: text(msgcat.KeyUnauthenticated)}
	case errors.Is(err, errForbidden), errors.Is(err, battle.ErrNotMember):
		return http.StatusForbidden, turingdto.DomainError{Code: turingdto.CodePermissionDenied, Message: err.Error()}
	case errors.Is(err, errBadRequest),
		errors.Is(err, battle.ErrInvalidArgs),
		errors.Is(err, matching.ErrInvalidArgs),
		errors.Is(err, profile.ErrInvalidArgs):
		return http.StatusBadRequest, turingdto.DomainError{Code: turingdto.CodeInvalidArgument, Message: text(msgcat.KeyInvalidArguments)}
	case errors.Is(err, result.ErrResultNotFound), errors.Is(err, result.ErrAnswersIncomplete):
		return http.StatusNotFound, turingdto.DomainError{Code: turingdto.CodeNotFound, Message: text(msgcat.KeyResultNotFound)}
	case errors.Is(err, battle.ErrRoomNotFound):
		return http.StatusNotFound, turingdto.DomainError{Code: turingdto.CodeNotFound, Message: text(msgcat.KeyRoomNotFound)}
	case errors.Is(err, battle.ErrAlreadyJoined), errors.Is(err, battle.ErrAlreadyAnswered):
		return http.StatusConflict, turingdto.DomainError{Code: turingdto.CodeAlreadyExists, Message: err.Error()}
	case errors.Is(err, battle.ErrRoomFull),
		errors.Is(err, battle.ErrNotWaiting),
		errors.Is(err, battle.ErrNotPlaying),
		errors.Is(err, battle.ErrIllegalTransition),
		errors.Is(err, battle.ErrAnswersClosed),
		errors.Is(err, battle.ErrAnswersFull):
		return http.StatusPreconditionFailed, turingdto.DomainError{Code: turingdto.CodeFailedPrecondition, Message: err.Error()}
	case errors.Is(err, store.ErrContention):
		return http.StatusConflict, turingdto.DomainError{Code: turingdto.CodeContention, Message: text(msgcat.KeyContention), Retryable: true}
	default:
		return http.StatusInternalServerError, turingdto.DomainError{Code: turingdto.CodeInternal, Message: text(msgcat.KeyInternal), Retryable: true}
	}
}
