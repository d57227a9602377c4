package matching

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/RyotaroOda/TuringChatD11-sub000/internal/obslog"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/paths"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/store"
)

// WaitingEntry is one player's pending match request.
type WaitingEntry struct {
	PlayerID   string `json:"playerId"`
	RoomID     string `json:"roomId"`
	EnqueuedAt int64  `json:"enqueuedAt"` // unix ms
}

var errNothingToClaim = errors.New("waiting list empty")

// WaitingList keeps every entry inside the single waitingList node so that a
// claim is one transaction over the whole decision.
type WaitingList struct {
	st  store.Store
	now func() time.Time
}

func NewWaitingList(st store.Store, now func() time.Time) *WaitingList {
	if now == nil {
		now = time.Now
	}
	return &WaitingList{st: st, now: now}
}

func decodeEntries(raw []byte) (map[string]WaitingEntry, error) {
	out := make(map[string]WaitingEntry)
	if raw == nil {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Enqueue writes the entry for playerID. A second call overwrites the first.
func (w *WaitingList) Enqueue(ctx context.Context, playerID, roomID string) error {
	playerID, roomID = strings.TrimSpace(playerID), strings.TrimSpace(roomID)
	if playerID == "" || roomID == "" {
		return ErrInvalidArgs
	}
	e := WaitingEntry{PlayerID: playerID, RoomID: roomID, EnqueuedAt: w.now().UnixMilli()}
	return w.st.Update(ctx, paths.WaitingList(), map[string]any{playerID: e})
}

// Dequeue removes the entry for playerID; absent entries are ignored.
func (w *WaitingList) Dequeue(ctx context.Context, playerID string) error {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return ErrInvalidArgs
	}
	return w.st.Update(ctx, paths.WaitingList(), map[string]any{playerID: nil})
}

// Lookup returns the entry for playerID or nil.
func (w *WaitingList) Lookup(ctx context.Context, playerID string) (*WaitingEntry, error) {
	all, err := w.load(ctx)
	if err != nil {
		return nil, err
	}
	e, ok := all[strings.TrimSpace(playerID)]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// Entries lists all entries oldest first.
func (w *WaitingList) Entries(ctx context.Context) ([]WaitingEntry, error) {
	all, err := w.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]WaitingEntry, 0, len(all))
	for _, e := range all {
		out = append(out, e)
	}
	sortFIFO(out)
	return out, nil
}

// DequeueRoom removes playerID only while it still points at roomID.
func (w *WaitingList) DequeueRoom(ctx context.Context, playerID, roomID string) error {
	err := w.st.Transaction(ctx, paths.WaitingList(), func(cur []byte) ([]byte, error) {
		all, err := decodeEntries(cur)
		if err != nil {
			return nil, err
		}
		e, ok := all[playerID]
		if !ok || e.RoomID != roomID {
			return nil, errNothingToClaim
		}
		delete(all, playerID)
		return encodeEntries(all)
	})
	if errors.Is(err, errNothingToClaim) {
		return nil
	}
	return err
}

// ClaimNext removes the oldest entry not owned by exclude and returns its
// room id. An empty list or a transaction that never commits yields "".
func (w *WaitingList) ClaimNext(ctx context.Context, exclude string) (string, error) {
	exclude = strings.TrimSpace(exclude)
	var claimed WaitingEntry
	err := w.st.Transaction(ctx, paths.WaitingList(), func(cur []byte) ([]byte, error) {
		claimed = WaitingEntry{}
		all, err := decodeEntries(cur)
		if err != nil {
			return nil, err
		}
		cands := make([]WaitingEntry, 0, len(all))
		for _, e := range all {
			if e.PlayerID != exclude {
				cands = append(cands, e)
			}
		}
		if len(cands) == 0 {
			return nil, errNothingToClaim
		}
		sortFIFO(cands)
		claimed = cands[0]
		delete(all, claimed.PlayerID)
		return encodeEntries(all)
	})
	switch {
	case errors.Is(err, errNothingToClaim):
		return "", nil
	case errors.Is(err, store.ErrContention):
		obslog.L().Warn("waiting_claim_contention", zap.String("claimer", exclude))
		return "", nil
	case err != nil:
		return "", err
	}
	obslog.L().Info("waiting_claim", zap.String("claimer", exclude), zap.String("player_id", claimed.PlayerID), zap.String("room_id", claimed.RoomID))
	return claimed.RoomID, nil
}

func (w *WaitingList) load(ctx context.Context) (map[string]WaitingEntry, error) {
	raw, err := w.st.Get(ctx, paths.WaitingList())
	if err != nil {
		return nil, err
	}
	return decodeEntries(raw)
}

func encodeEntries(all map[string]WaitingEntry) ([]byte, error) {
	if len(all) == 0 {
		return nil, nil
	}
	return json.Marshal(all)
}

func sortFIFO(es []WaitingEntry) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].EnqueuedAt != es[j].EnqueuedAt {
			return es[i].EnqueuedAt < es[j].EnqueuedAt
		}
		return es[i].PlayerID < es[j].PlayerID
	})
}
