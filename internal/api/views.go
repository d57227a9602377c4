package api

import (
	"sort"

	"github.com/RyotaroOda/TuringChatD11-sub000/internal/battle"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/notify"
	"github.com/RyotaroOda/TuringChatD11-sub000/pkg/turingdto"
)

func roomView(r *battle.Room) *turingdto.RoomView {
	v := &turingdto.RoomView{
		ID:             r.ID,
		Status:         string(r.Status),
		HostID:         r.HostID,
		Topic:          r.Topic,
		MaxTurn:        r.Rules.MaxTurn,
		BattleType:     r.Rules.BattleType,
		OneTurnTime:    r.Rules.OneTurnTime,
		Phase:          r.Chat.Phase,
		CurrentTurn:    r.Chat.CurrentTurn,
		ActivePlayerID: r.Chat.ActivePlayerID,
		Players:        make([]turingdto.PlayerView, 0, len(r.Players)),
		Messages:       make([]turingdto.MessageView, 0, len(r.Messages)),
		Answered:       make([]string, 0, len(r.Answers)),
		Result:         resultView(r.Result),
		StartedAt:      r.Timestamps.Start,
		EndedAt:        r.Timestamps.End,
	}
	for _, p := range r.Players {
		v.Players = append(v.Players, turingdto.PlayerView{ID: p.ID, DisplayName: p.DisplayName, IsReady: p.IsReady, Rating: p.Rating})
	}
	for _, m := range r.Messages {
		v.Messages = append(v.Messages, turingdto.MessageView{Key: m.Key, SenderID: m.SenderID, Text: m.Text, Timestamp: m.Timestamp})
	}
	for id := range r.Answers {
		v.Answered = append(v.Answered, id)
	}
	sort.Strings(v.Answered)
	return v
}

func resultView(res *battle.BattleResult) *turingdto.ResultView {
	if res == nil {
		return nil
	}
	out := &turingdto.ResultView{CorrectFlags: res.CorrectFlags, Scores: res.Scores, ElapsedMs: res.ElapsedMs}
	for i, a := range res.Answers {
		out.Answers[i] = turingdto.AnswerView{PlayerID: a.PlayerID, ClaimedIdentity: a.ClaimedIdentity, Guess: a.Guess, Rationale: a.Rationale}
	}
	return out
}

func eventView(ev notify.Event) turingdto.RoomEvent {
	return turingdto.RoomEvent{Type: ev.Type, RoomID: ev.RoomID, Status: ev.Status, PlayerID: ev.PlayerID, At: ev.At}
}
