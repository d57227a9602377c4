package battle

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/RyotaroOda/TuringChatD11-sub000/internal/paths"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/store"
)

// repo reads and writes the documents of one room subtree.
type repo struct{ st store.Store }

func (r repo) loadMeta(ctx context.Context, roomID string) (*RoomMeta, error) {
	var m RoomMeta
	ok, err := store.GetJSON(ctx, r.st, paths.Room(roomID), &m)
	if err != nil || !ok {
		return nil, err
	}
	return &m, nil
}

func (r repo) loadPlayers(ctx context.Context, roomID string) ([]PlayerRef, error) {
	var ps []PlayerRef
	if _, err := store.GetJSON(ctx, r.st, paths.RoomPlayers(roomID), &ps); err != nil {
		return nil, err
	}
	return ps, nil
}

func (r repo) loadAnswers(ctx context.Context, roomID string) (map[string]SubmitAnswer, error) {
	raw, err := r.st.Get(ctx, paths.RoomAnswers(roomID))
	if err != nil {
		return nil, err
	}
	return decodeAnswers(raw)
}

func (r repo) loadResult(ctx context.Context, roomID string) (*BattleResult, error) {
	var res BattleResult
	ok, err := store.GetJSON(ctx, r.st, paths.RoomResult(roomID), &res)
	if err != nil || !ok {
		return nil, err
	}
	return &res, nil
}

func (r repo) loadMessages(ctx context.Context, roomID string) ([]Message, error) {
	entries, err := r.st.Children(ctx, paths.RoomMessages(roomID))
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(entries))
	for _, e := range entries {
		var m Message
		if err := json.Unmarshal(e.Value, &m); err != nil {
			return nil, err
		}
		m.Key = e.Key
		out = append(out, m)
	}
	return out, nil
}

func decodePlayers(raw []byte) ([]PlayerRef, error) {
	if raw == nil {
		return nil, nil
	}
	var ps []PlayerRef
	if err := json.Unmarshal(raw, &ps); err != nil {
		return nil, err
	}
	return ps, nil
}

func decodeAnswers(raw []byte) (map[string]SubmitAnswer, error) {
	out := make(map[string]SubmitAnswer)
	if raw == nil {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SortedAnswers returns answers ordered by player id for stable output.
func SortedAnswers(m map[string]SubmitAnswer) []SubmitAnswer {
	out := make([]SubmitAnswer, 0, len(m))
	for _, a := range m {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out
}

func hasPlayer(ps []PlayerRef, id string) bool {
	for _, p := range ps {
		if p.ID == id {
			return true
		}
	}
	return false
}
