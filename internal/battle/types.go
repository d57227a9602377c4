package battle

import "time"

// Status is the room lifecycle state.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusAnswer   Status = "answer"
	StatusFinished Status = "finished"
)

// Chat phases stored on the room meta.
const (
	PhaseLobby  = "lobby"
	PhaseChat   = "chat"
	PhaseAnswer = "answer"
	PhaseDone   = "done"
)

// Rules are fixed when the room is created.
type Rules struct {
	MaxTurn     int    `json:"maxTurn"`
	BattleType  string `json:"battleType"`
	OneTurnTime int    `json:"oneTurnTime"` // seconds
}

// DefaultRules is used when the Manager is built without WithRules.
func DefaultRules() Rules {
	return Rules{MaxTurn: 6, BattleType: "Single", OneTurnTime: 60}
}

type PlayerRef struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	IsReady     bool   `json:"isReady"`
	Rating      int    `json:"rating"`
}

type Message struct {
	Key       string `json:"key,omitempty"`
	SenderID  string `json:"senderId"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"` // unix ms
}

// SubmitAnswer is one player's end-of-chat declaration. ClaimedIdentity is
// "I am human"; Guess is "my opponent is human" and may be unset.
type SubmitAnswer struct {
	PlayerID        string `json:"playerId"`
	ClaimedIdentity bool   `json:"claimedIdentity"`
	Guess           *bool  `json:"guess"`
	Rationale       string `json:"rationale,omitempty"`
	SubmittedAt     int64  `json:"submittedAt,omitempty"`
}

// BattleResult is ordered host first.
type BattleResult struct {
	CorrectFlags [2]bool         `json:"correctFlags"`
	Scores       [2]int          `json:"scores"`
	Answers      [2]SubmitAnswer `json:"answers"`
	ElapsedMs    int64           `json:"elapsedMs"`
	ComputedAt   int64           `json:"computedAt"`
}

type Timestamps struct {
	Start int64 `json:"start,omitempty"`
	End   int64 `json:"end,omitempty"`
}

type ChatState struct {
	Phase          string `json:"phase"`
	CurrentTurn    int    `json:"currentTurn"`
	ActivePlayerID string `json:"activePlayerId,omitempty"`
}

// RoomMeta is the document at rooms/{id}. Players, messages, answers and the
// result live on child paths so each can be transacted alone.
type RoomMeta struct {
	ID         string     `json:"id"`
	Status     Status     `json:"status"`
	HostID     string     `json:"hostId"`
	Topic      string     `json:"topic,omitempty"`
	Rules      Rules      `json:"rules"`
	Chat       ChatState  `json:"chat"`
	Timestamps Timestamps `json:"timestamps"`
	CreatedAt  int64      `json:"createdAt"`
}

// Room is a full snapshot, used for reads and archival.
type Room struct {
	RoomMeta
	Players  []PlayerRef             `json:"players"`
	Messages []Message               `json:"messages"`
	Answers  map[string]SubmitAnswer `json:"answers"`
	Result   *BattleResult           `json:"result,omitempty"`
}

// Player returns the member with id, or nil.
func (r *Room) Player(id string) *PlayerRef {
	for i := range r.Players {
		if r.Players[i].ID == id {
			return &r.Players[i]
		}
	}
	return nil
}

func millis(t time.Time) int64 { return t.UnixMilli() }

var (
	ErrInvalidArgs       = errf("invalid arguments")
	ErrRoomNotFound      = errf("room not found")
	ErrRoomFull          = errf("room already has two players")
	ErrAlreadyJoined     = errf("player already in room")
	ErrNotWaiting        = errf("room is not waiting for players")
	ErrNotMember         = errf("player is not a member of the room")
	ErrNotPlaying        = errf("room is not in chat")
	ErrIllegalTransition = errf("illegal status transition")
	ErrAnswersClosed     = errf("room does not accept answers")
	ErrAlreadyAnswered   = errf("player already answered")
	ErrAnswersFull       = errf("room already has two answers")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error { return staticErr(s) }
