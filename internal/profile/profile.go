// Package profile stores player profiles and applies rating changes. Rating
// increments carry a ledger of recently rated rooms so replays of the same
// result are ignored.
package profile

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/RyotaroOda/TuringChatD11-sub000/internal/obslog"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/paths"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/store"
)

const ledgerSize = 32

type Profile struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	CreatedAt   int64  `json:"createdAt"`
}

// Rating is the document at profiles/{uid}/rating.
type Rating struct {
	Value      int      `json:"value"`
	RatedRooms []string `json:"ratedRooms,omitempty"`
}

type Service struct {
	st  store.Store
	now func() time.Time
}

func NewService(st store.Store) *Service { return &Service{st: st, now: time.Now} }

// EnsureProfile creates the profile document once; later calls keep the
// stored one.
func (s *Service) EnsureProfile(ctx context.Context, userID, displayName string) (*Profile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidArgs
	}
	var out Profile
	err := s.st.Transaction(ctx, paths.Profile(userID), func(cur []byte) ([]byte, error) {
		if cur != nil {
			if err := json.Unmarshal(cur, &out); err != nil {
				return nil, err
			}
			return cur, nil
		}
		out = Profile{UserID: userID, DisplayName: strings.TrimSpace(displayName), CreatedAt: s.now().UnixMilli()}
		return json.Marshal(out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Get returns the profile or nil when absent.
func (s *Service) Get(ctx context.Context, userID string) (*Profile, error) {
	var p Profile
	ok, err := store.GetJSON(ctx, s.st, paths.Profile(userID), &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

// Rating returns the current rating; a missing rating is a zero baseline.
func (s *Service) Rating(ctx context.Context, userID string) (Rating, error) {
	var r Rating
	_, err := store.GetJSON(ctx, s.st, paths.ProfileRating(userID), &r)
	return r, err
}

// Apply adds delta to userID's rating once per roomID. Users without a
// profile (guests) are skipped. applied reports whether the rating changed.
func (s *Service) Apply(ctx context.Context, userID, roomID string, delta int) (applied bool, err error) {
	userID, roomID = strings.TrimSpace(userID), strings.TrimSpace(roomID)
	if userID == "" || roomID == "" {
		return false, ErrInvalidArgs
	}
	p, err := s.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	if p == nil {
		obslog.L().Debug("rating_skip_guest", zap.String("user_id", userID), zap.String("room_id", roomID))
		return false, nil
	}
	err = s.st.Transaction(ctx, paths.ProfileRating(userID), func(cur []byte) ([]byte, error) {
		applied = false
		var r Rating
		if cur != nil {
			if err := json.Unmarshal(cur, &r); err != nil {
				return nil, err
			}
		}
		for _, id := range r.RatedRooms {
			if id == roomID {
				return nil, errAlreadyRated
			}
		}
		r.Value += delta
		r.RatedRooms = append(r.RatedRooms, roomID)
		if n := len(r.RatedRooms); n > ledgerSize {
			r.RatedRooms = append([]string(nil), r.RatedRooms[n-ledgerSize:]...)
		}
		applied = true
		return json.Marshal(r)
	})
	if err == errAlreadyRated {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	obslog.L().Info("rating_apply", zap.String("user_id", userID), zap.String("room_id", roomID), zap.Int("delta", delta))
	return true, nil
}

var (
	ErrInvalidArgs  = errf("profile: invalid arguments")
	errAlreadyRated = errf("profile: room already rated")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error { return staticErr(s) }
