package turingdto

import "encoding/json"

// CallRequest is the callable envelope: the payload sits under "data".
type CallRequest struct {
	Data json.RawMessage `json:"data"`
}

// CallResponse carries either result or error.
type CallResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *DomainError    `json:"error,omitempty"`
}

type RequestMatchRequest struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Rating int    `json:"rating"`
}

type RequestMatchResponse struct {
	RoomID      string `json:"roomId"`
	StartBattle bool   `json:"startBattle"`
	Message     string `json:"message"`
}

type CancelMatchResponse struct {
	Message string `json:"message"`
}

type RoomRequest struct {
	RoomID string `json:"roomId"`
}

// CalculateResultResponse is empty for callers that fire and forget; Result
// is filled when finalisation completed in this call.
type CalculateResultResponse struct {
	Result *ResultView `json:"result,omitempty"`
}

type PostMessageRequest struct {
	RoomID             string `json:"roomId"`
	Text               string `json:"text"`
	NextTurn           int    `json:"nextTurn"`
	NextActivePlayerID string `json:"nextActivePlayerId"`
}

type PostMessageResponse struct {
	Key       string `json:"key"`
	Timestamp int64  `json:"timestamp"`
}

type SubmitAnswerRequest struct {
	RoomID          string `json:"roomId"`
	ClaimedIdentity bool   `json:"claimedIdentity"`
	Guess           *bool  `json:"guess"`
	Rationale       string `json:"rationale,omitempty"`
}

type SubmitAnswerResponse struct {
	Complete bool        `json:"complete"`
	Result   *ResultView `json:"result,omitempty"`
}
