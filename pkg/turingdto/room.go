package turingdto

import "time"

type PlayerView struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	IsReady     bool   `json:"isReady"`
	Rating      int    `json:"rating"`
}

type MessageView struct {
	Key       string `json:"key"`
	SenderID  string `json:"senderId"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

type AnswerView struct {
	PlayerID        string `json:"playerId"`
	ClaimedIdentity bool   `json:"claimedIdentity"`
	Guess           *bool  `json:"guess"`
	Rationale       string `json:"rationale,omitempty"`
}

type ResultView struct {
	CorrectFlags [2]bool       `json:"correctFlags"`
	Scores       [2]int        `json:"scores"`
	Answers      [2]AnswerView `json:"answers"`
	ElapsedMs    int64         `json:"elapsedMs"`
}

// RoomView is what members see. Answer contents stay hidden until the
// result exists; Answered lists who has submitted.
type RoomView struct {
	ID             string        `json:"id"`
	Status         string        `json:"status"`
	HostID         string        `json:"hostId"`
	Topic          string        `json:"topic,omitempty"`
	MaxTurn        int           `json:"maxTurn"`
	BattleType     string        `json:"battleType"`
	OneTurnTime    int           `json:"oneTurnTime"`
	Phase          string        `json:"phase"`
	CurrentTurn    int           `json:"currentTurn"`
	ActivePlayerID string        `json:"activePlayerId,omitempty"`
	Players        []PlayerView  `json:"players"`
	Messages       []MessageView `json:"messages"`
	Answered       []string      `json:"answered"`
	Result         *ResultView   `json:"result,omitempty"`
	StartedAt      int64         `json:"startedAt,omitempty"`
	EndedAt        int64         `json:"endedAt,omitempty"`
	Archived       bool          `json:"archived,omitempty"`
}

// RoomEvent is one frame on the room event stream.
type RoomEvent struct {
	Type     string    `json:"type"`
	RoomID   string    `json:"roomId"`
	Status   string    `json:"status,omitempty"`
	PlayerID string    `json:"playerId,omitempty"`
	At       time.Time `json:"at"`
}
