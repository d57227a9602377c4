package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/RyotaroOda/TuringChatD11-sub000/internal/battle"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/obslog"
	"github.com/RyotaroOda/TuringChatD11-sub000/pkg/turingdto"
)

func (s *Server) requestMatch(ctx context.Context, caller *Claims, data json.RawMessage) (any, error) {
	var req turingdto.RequestMatchRequest
	if err := decodeData(data, &req); err != nil {
		return nil, err
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		return nil, battle.ErrInvalidArgs
	}
	if req.ID != caller.UserID {
		return nil, errForbidden
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = caller.Name
	}
	rating := req.Rating
	if !caller.Guest && s.prof != nil {
		if _, err := s.prof.EnsureProfile(ctx, caller.UserID, name); err != nil {
			return nil, err
		}
		r, err := s.prof.Rating(ctx, caller.UserID)
		if err != nil {
			return nil, err
		}
		rating = r.Value
	}

	out, err := s.mm.RequestMatch(ctx, battle.PlayerRef{ID: caller.UserID, DisplayName: name, Rating: rating})
	if err != nil {
		return nil, err
	}
	return turingdto.RequestMatchResponse{RoomID: out.RoomID, StartBattle: out.StartBattle, Message: out.Message}, nil
}

func (s *Server) cancelMatch(ctx context.Context, caller *Claims, _ json.RawMessage) (any, error) {
	msg, err := s.mm.CancelMatch(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	return turingdto.CancelMatchResponse{Message: msg}, nil
}

func (s *Server) calculateResult(ctx context.Context, caller *Claims, data json.RawMessage) (any, error) {
	var req turingdto.RoomRequest
	if err := decodeData(data, &req); err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, req.RoomID, caller.UserID, true); err != nil {
		return nil, err
	}
	res, err := s.results.ComputeResult(ctx, req.RoomID)
	if err != nil {
		return nil, err
	}
	return turingdto.CalculateResultResponse{Result: resultView(res)}, nil
}

func (s *Server) postMessage(ctx context.Context, caller *Claims, data json.RawMessage) (any, error) {
	var req turingdto.PostMessageRequest
	if err := decodeData(data, &req); err != nil {
		return nil, err
	}
	msg, err := s.rooms.PostMessage(ctx, req.RoomID, caller.UserID, req.Text, req.NextTurn, req.NextActivePlayerID)
	if err != nil {
		return nil, err
	}
	return turingdto.PostMessageResponse{Key: msg.Key, Timestamp: msg.Timestamp}, nil
}

// submitAnswer finalises the room in the same call when this answer was the
// second one. A failed finalisation is left for the sweeper.
func (s *Server) submitAnswer(ctx context.Context, caller *Claims, data json.RawMessage) (any, error) {
	var req turingdto.SubmitAnswerRequest
	if err := decodeData(data, &req); err != nil {
		return nil, err
	}
	complete, err := s.rooms.SubmitAnswer(ctx, req.RoomID, battle.SubmitAnswer{
		PlayerID:        caller.UserID,
		ClaimedIdentity: req.ClaimedIdentity,
		Guess:           req.Guess,
		Rationale:       req.Rationale,
	})
	if err != nil {
		return nil, err
	}
	out := turingdto.SubmitAnswerResponse{Complete: complete}
	if !complete {
		return out, nil
	}
	res, err := s.results.ComputeResult(ctx, req.RoomID)
	if err != nil {
		obslog.L().Warn("api_finalise_deferred", zap.String("room_id", req.RoomID), zap.Error(err))
		return out, nil
	}
	out.Result = resultView(res)
	return out, nil
}

func (s *Server) getRoom(ctx context.Context, caller *Claims, data json.RawMessage) (any, error) {
	var req turingdto.RoomRequest
	if err := decodeData(data, &req); err != nil {
		return nil, err
	}
	return s.loadView(ctx, req.RoomID, caller.UserID)
}

func (s *Server) serveRoom(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	caller, err := s.auth.fromRequest(r)
	if err != nil {
		s.writeError(w, "room", err)
		return
	}
	view, err := s.loadView(r.Context(), ps.ByName("id"), caller.UserID)
	if err != nil {
		s.writeError(w, "room", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// loadView returns the live room, or its archived snapshot once finalised.
func (s *Server) loadView(ctx context.Context, roomID, userID string) (*turingdto.RoomView, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, battle.ErrInvalidArgs
	}
	room, err := s.rooms.LoadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	archived := false
	if room == nil && s.arch != nil {
		if room, err = s.arch.Load(ctx, roomID); err != nil {
			return nil, err
		}
		archived = room != nil
	}
	if room == nil {
		return nil, battle.ErrRoomNotFound
	}
	if room.Player(userID) == nil {
		return nil, battle.ErrNotMember
	}
	v := roomView(room)
	v.Archived = archived
	return v, nil
}

// requireMember checks userID against the live room. With allowGone a room
// that no longer exists is checked against its archived snapshot instead; a
// room with neither passes so the caller reports the not-found itself.
func (s *Server) requireMember(ctx context.Context, roomID, userID string, allowGone bool) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return battle.ErrInvalidArgs
	}
	players, err := s.rooms.LoadPlayers(ctx, roomID)
	if err != nil {
		return err
	}
	if players == nil {
		if !allowGone {
			return battle.ErrRoomNotFound
		}
		if s.arch == nil {
			return nil
		}
		snap, err := s.arch.Load(ctx, roomID)
		if err != nil {
			return err
		}
		if snap != nil && snap.Player(userID) == nil {
			return battle.ErrNotMember
		}
		return nil
	}
	for _, p := range players {
		if p.ID == userID {
			return nil
		}
	}
	return battle.ErrNotMember
}
