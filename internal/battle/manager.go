// Package battle owns the room lifecycle: creating and joining rooms, phase
// transitions, chat turns and answer collection. Every decision that needs
// atomicity is a single-path store transaction on the node that holds the
// whole decision (players for capacity, answers for completion).
package battle

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/RyotaroOda/TuringChatD11-sub000/internal/notify"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/obslog"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/paths"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/store"
)

const defaultTopicTimeout = 8 * time.Second

var errNoChange = errors.New("no change")

// TopicSource produces the conversation topic when a room starts.
type TopicSource interface {
	Generate(ctx context.Context, rules Rules) (string, error)
}

type Option func(*Manager)

func WithRules(r Rules) Option { return func(m *Manager) { m.rules = r } }

func WithPublisher(p notify.Publisher) Option {
	return func(m *Manager) {
		if p != nil {
			m.pub = p
		}
	}
}

func WithTopicSource(t TopicSource) Option { return func(m *Manager) { m.topics = t } }

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithIDGenerator replaces uuid room ids.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) {
		if fn != nil {
			m.newID = fn
		}
	}
}

func WithTopicTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.topicTimeout = d
		}
	}
}

type Manager struct {
	st           store.Store
	repo         repo
	rules        Rules
	pub          notify.Publisher
	topics       TopicSource
	now          func() time.Time
	newID        func() string
	topicTimeout time.Duration
}

func NewManager(st store.Store, opts ...Option) *Manager {
	m := &Manager{
		st:           st,
		repo:         repo{st: st},
		rules:        DefaultRules(),
		pub:          notify.Nop{},
		now:          time.Now,
		newID:        uuid.NewString,
		topicTimeout: defaultTopicTimeout,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) Store() store.Store { return m.st }
func (m *Manager) Rules() Rules { return m.rules }
func (m *Manager) Now() time.Time { return m.now() }

// CreateRoom writes a waiting room hosted by p and returns its id.
func (m *Manager) CreateRoom(ctx context.Context, p PlayerRef) (string, error) {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		return "", ErrInvalidArgs
	}
	id := m.newID()
	now := m.now()

	players, err := json.Marshal([]PlayerRef{p})
	if err != nil {
		return "", err
	}
	if err := m.st.Set(ctx, paths.RoomPlayers(id), players); err != nil {
		return "", err
	}
	if err := m.st.Set(ctx, paths.RoomAnswers(id), []byte("{}")); err != nil {
		_ = m.st.Remove(ctx, paths.RoomSubtree(id)...)
		return "", err
	}
	meta := RoomMeta{
		ID:        id,
		Status:    StatusWaiting,
		HostID:    p.ID,
		Rules:     m.rules,
		Chat:      ChatState{Phase: PhaseLobby},
		CreatedAt: millis(now),
	}
	if err := store.SetJSON(ctx, m.st, paths.Room(id), meta); err != nil {
		_ = m.st.Remove(ctx, paths.RoomSubtree(id)...)
		return "", err
	}
	obslog.L().Info("room_create", zap.String("room_id", id), zap.String("host_id", p.ID))
	m.publish(ctx, notify.EventCreated, id, StatusWaiting, p.ID)
	return id, nil
}

// JoinRoom adds p as the second player and starts the chat. Any failure,
// including a full, vanished or already started room, reports false.
func (m *Manager) JoinRoom(ctx context.Context, roomID string, p PlayerRef) bool {
	meta, err := m.join(ctx, roomID, p)
	if err != nil {
		obslog.L().Info("room_join_rejected", zap.String("room_id", roomID), zap.String("player_id", p.ID), zap.Error(err))
		return false
	}
	obslog.L().Info("room_join", zap.String("room_id", roomID), zap.String("player_id", p.ID), zap.String("host_id", meta.HostID))
	m.publish(ctx, notify.EventJoined, roomID, StatusPlaying, p.ID)
	m.assignTopic(ctx, roomID, meta.Rules)
	return true
}

func (m *Manager) join(ctx context.Context, roomID string, p PlayerRef) (*RoomMeta, error) {
	roomID = strings.TrimSpace(roomID)
	p.ID = strings.TrimSpace(p.ID)
	if roomID == "" || p.ID == "" {
		return nil, ErrInvalidArgs
	}
	meta, err := m.repo.loadMeta(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, ErrRoomNotFound
	}
	if meta.Status != StatusWaiting {
		return nil, ErrNotWaiting
	}

	var count int
	err = m.st.Transaction(ctx, paths.RoomPlayers(roomID), func(cur []byte) ([]byte, error) {
		if cur == nil {
			return nil, ErrRoomNotFound
		}
		ps, err := decodePlayers(cur)
		if err != nil {
			return nil, err
		}
		if hasPlayer(ps, p.ID) {
			return nil, ErrAlreadyJoined
		}
		if len(ps) >= 2 {
			return nil, ErrRoomFull
		}
		ps = append(ps, p)
		count = len(ps)
		return json.Marshal(ps)
	})
	if err != nil {
		return nil, err
	}
	if count < 2 {
		return meta, nil
	}

	start := millis(m.now())
	return m.updateMeta(ctx, roomID, func(rm *RoomMeta) error {
		if rm.Status != StatusWaiting {
			return ErrNotWaiting
		}
		rm.Status = StatusPlaying
		rm.Chat = ChatState{Phase: PhaseChat, CurrentTurn: 1, ActivePlayerID: rm.HostID}
		rm.Timestamps.Start = start
		return nil
	})
}

func (m *Manager) assignTopic(ctx context.Context, roomID string, rules Rules) {
	if m.topics == nil {
		return
	}
	tctx, cancel := context.WithTimeout(ctx, m.topicTimeout)
	defer cancel()
	topic, err := m.topics.Generate(tctx, rules)
	topic = strings.TrimSpace(topic)
	if err != nil || topic == "" {
		obslog.L().Warn("room_topic_error", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	if _, err := m.updateMeta(ctx, roomID, func(rm *RoomMeta) error {
		if rm.Topic != "" {
			return errNoChange
		}
		rm.Topic = topic
		return nil
	}); err != nil {
		obslog.L().Warn("room_topic_persist_error", zap.String("room_id", roomID), zap.Error(err))
	}
}

// RemoveRoom deletes the whole room subtree.
func (m *Manager) RemoveRoom(ctx context.Context, roomID string) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return ErrInvalidArgs
	}
	if err := m.st.Remove(ctx, paths.RoomSubtree(roomID)...); err != nil {
		return err
	}
	obslog.L().Info("room_remove", zap.String("room_id", roomID))
	m.publish(ctx, notify.EventRemoved, roomID, "", "")
	return nil
}

// RemoveIfAlone deletes a room nobody joined. The decision commits as a
// transaction on the players node, which JoinRoom also transacts: either the
// join lands first and the room stays, or the players node is gone and the
// join fails with ErrRoomNotFound. A room whose players node already vanished
// is cleaned up while its meta still says waiting.
func (m *Manager) RemoveIfAlone(ctx context.Context, roomID string) (bool, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return false, ErrInvalidArgs
	}
	err := m.st.Transaction(ctx, paths.RoomPlayers(roomID), func(cur []byte) ([]byte, error) {
		if cur == nil {
			return nil, ErrRoomNotFound
		}
		ps, err := decodePlayers(cur)
		if err != nil {
			return nil, err
		}
		if len(ps) >= 2 {
			return nil, errNoChange
		}
		return nil, nil
	})
	switch {
	case errors.Is(err, errNoChange):
		return false, nil
	case errors.Is(err, ErrRoomNotFound):
		meta, merr := m.repo.loadMeta(ctx, roomID)
		if merr != nil {
			return false, merr
		}
		if meta == nil || meta.Status != StatusWaiting {
			return false, nil
		}
	case err != nil:
		return false, err
	}
	if err := m.RemoveRoom(ctx, roomID); err != nil {
		return false, err
	}
	return true, nil
}

var nextStatus = map[Status]Status{
	StatusWaiting: StatusPlaying,
	StatusPlaying: StatusAnswer,
	StatusAnswer:  StatusFinished,
}

// Advance moves the room one step forward. Advancing to the current status
// is a no-op; any other skip or backward move is ErrIllegalTransition.
func (m *Manager) Advance(ctx context.Context, roomID string, to Status) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return ErrInvalidArgs
	}
	if to == StatusPlaying {
		ps, err := m.repo.loadPlayers(ctx, roomID)
		if err != nil {
			return err
		}
		if len(ps) < 2 {
			return ErrIllegalTransition
		}
	}
	now := millis(m.now())
	changed := false
	_, err := m.updateMeta(ctx, roomID, func(rm *RoomMeta) error {
		changed = false
		if rm.Status == to {
			return errNoChange
		}
		if nextStatus[rm.Status] != to {
			return ErrIllegalTransition
		}
		applyStatus(rm, to, now)
		changed = true
		return nil
	})
	if err != nil {
		return err
	}
	if changed {
		obslog.L().Info("room_advance", zap.String("room_id", roomID), zap.String("to", string(to)))
		m.publish(ctx, notify.EventStatus, roomID, to, "")
	}
	return nil
}

func applyStatus(rm *RoomMeta, to Status, now int64) {
	rm.Status = to
	switch to {
	case StatusPlaying:
		rm.Chat.Phase = PhaseChat
		if rm.Chat.CurrentTurn == 0 {
			rm.Chat.CurrentTurn = 1
			rm.Chat.ActivePlayerID = rm.HostID
		}
		if rm.Timestamps.Start == 0 {
			rm.Timestamps.Start = now
		}
	case StatusAnswer:
		rm.Chat.Phase = PhaseAnswer
	case StatusFinished:
		rm.Chat.Phase = PhaseDone
		if rm.Timestamps.End == 0 {
			rm.Timestamps.End = now
		}
	}
}

// Finish walks an answering room to finished. A room still in chat passes
// through answer first.
func (m *Manager) Finish(ctx context.Context, roomID string) error {
	if err := m.Advance(ctx, roomID, StatusAnswer); err != nil && !errors.Is(err, ErrIllegalTransition) {
		return err
	}
	return m.Advance(ctx, roomID, StatusFinished)
}

// PostMessage appends a chat message from a member and moves the turn
// counter. A turn past rules.MaxTurn ends the chat.
func (m *Manager) PostMessage(ctx context.Context, roomID, senderID, text string, nextTurn int, nextActiveID string) (*Message, error) {
	roomID = strings.TrimSpace(roomID)
	senderID = strings.TrimSpace(senderID)
	nextActiveID = strings.TrimSpace(nextActiveID)
	if roomID == "" || senderID == "" || nextTurn < 1 {
		return nil, ErrInvalidArgs
	}
	meta, err := m.repo.loadMeta(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, ErrRoomNotFound
	}
	if meta.Status != StatusPlaying {
		return nil, ErrNotPlaying
	}
	ps, err := m.repo.loadPlayers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !hasPlayer(ps, senderID) {
		return nil, ErrNotMember
	}
	if nextActiveID != "" && !hasPlayer(ps, nextActiveID) {
		return nil, ErrInvalidArgs
	}

	msg := Message{SenderID: senderID, Text: text, Timestamp: millis(m.now())}
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	key, err := m.st.Push(ctx, paths.RoomMessages(roomID), raw)
	if err != nil {
		return nil, err
	}
	msg.Key = key
	// a room removed between the status check and the push must not leave a
	// message stream behind
	after, err := m.repo.loadMeta(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if after == nil {
		if rerr := m.st.Remove(ctx, paths.RoomMessages(roomID)); rerr != nil {
			obslog.L().Warn("room_message_orphan_error", zap.String("room_id", roomID), zap.Error(rerr))
		}
		return nil, ErrRoomNotFound
	}
	m.publish(ctx, notify.EventMessage, roomID, StatusPlaying, senderID)

	ended := false
	_, err = m.updateMeta(ctx, roomID, func(rm *RoomMeta) error {
		ended = false
		if rm.Status != StatusPlaying || nextTurn <= rm.Chat.CurrentTurn {
			return errNoChange
		}
		rm.Chat.CurrentTurn = nextTurn
		rm.Chat.ActivePlayerID = nextActiveID
		if nextTurn > rm.Rules.MaxTurn {
			rm.Status = StatusAnswer
			rm.Chat.Phase = PhaseAnswer
			ended = true
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrRoomNotFound) {
		return nil, err
	}
	if ended {
		obslog.L().Info("room_chat_end", zap.String("room_id", roomID), zap.Int("turn", nextTurn))
		m.publish(ctx, notify.EventStatus, roomID, StatusAnswer, "")
	}
	return &msg, nil
}

// SubmitAnswer records a member's answer. complete is true for exactly the
// call that stores the second distinct answer.
func (m *Manager) SubmitAnswer(ctx context.Context, roomID string, a SubmitAnswer) (complete bool, err error) {
	roomID = strings.TrimSpace(roomID)
	a.PlayerID = strings.TrimSpace(a.PlayerID)
	if roomID == "" || a.PlayerID == "" {
		return false, ErrInvalidArgs
	}
	meta, err := m.repo.loadMeta(ctx, roomID)
	if err != nil {
		return false, err
	}
	if meta == nil {
		return false, ErrRoomNotFound
	}
	if meta.Status != StatusPlaying && meta.Status != StatusAnswer {
		return false, ErrAnswersClosed
	}
	ps, err := m.repo.loadPlayers(ctx, roomID)
	if err != nil {
		return false, err
	}
	if !hasPlayer(ps, a.PlayerID) {
		return false, ErrNotMember
	}

	a.SubmittedAt = millis(m.now())
	err = m.st.Transaction(ctx, paths.RoomAnswers(roomID), func(cur []byte) ([]byte, error) {
		complete = false
		if cur == nil {
			return nil, ErrRoomNotFound
		}
		answers, err := decodeAnswers(cur)
		if err != nil {
			return nil, err
		}
		if _, dup := answers[a.PlayerID]; dup {
			return nil, ErrAlreadyAnswered
		}
		if len(answers) >= 2 {
			return nil, ErrAnswersFull
		}
		answers[a.PlayerID] = a
		complete = len(answers) == 2
		return json.Marshal(answers)
	})
	if err != nil {
		return false, err
	}
	obslog.L().Info("room_answer", zap.String("room_id", roomID), zap.String("player_id", a.PlayerID), zap.Bool("complete", complete))
	m.publish(ctx, notify.EventAnswer, roomID, "", a.PlayerID)

	if err := m.Advance(ctx, roomID, StatusAnswer); err != nil && !errors.Is(err, ErrIllegalTransition) {
		obslog.L().Warn("room_answer_advance_error", zap.String("room_id", roomID), zap.Error(err))
	}
	return complete, nil
}

func (m *Manager) LoadMeta(ctx context.Context, roomID string) (*RoomMeta, error) {
	return m.repo.loadMeta(ctx, strings.TrimSpace(roomID))
}

func (m *Manager) LoadPlayers(ctx context.Context, roomID string) ([]PlayerRef, error) {
	return m.repo.loadPlayers(ctx, strings.TrimSpace(roomID))
}

func (m *Manager) LoadAnswers(ctx context.Context, roomID string) (map[string]SubmitAnswer, error) {
	return m.repo.loadAnswers(ctx, strings.TrimSpace(roomID))
}

func (m *Manager) LoadResult(ctx context.Context, roomID string) (*BattleResult, error) {
	return m.repo.loadResult(ctx, strings.TrimSpace(roomID))
}

// LoadRoom assembles the full snapshot; nil, nil when the room is gone.
func (m *Manager) LoadRoom(ctx context.Context, roomID string) (*Room, error) {
	roomID = strings.TrimSpace(roomID)
	meta, err := m.repo.loadMeta(ctx, roomID)
	if err != nil || meta == nil {
		return nil, err
	}
	r := &Room{RoomMeta: *meta}
	if r.Players, err = m.repo.loadPlayers(ctx, roomID); err != nil {
		return nil, err
	}
	if r.Messages, err = m.repo.loadMessages(ctx, roomID); err != nil {
		return nil, err
	}
	if r.Answers, err = m.repo.loadAnswers(ctx, roomID); err != nil {
		return nil, err
	}
	if r.Result, err = m.repo.loadResult(ctx, roomID); err != nil {
		return nil, err
	}
	return r, nil
}

// updateMeta runs fn against the meta document inside a transaction. A
// missing meta is ErrRoomNotFound; fn returning errNoChange skips the write
// and is not an error.
func (m *Manager) updateMeta(ctx context.Context, roomID string, fn func(*RoomMeta) error) (*RoomMeta, error) {
	var out RoomMeta
	err := m.st.Transaction(ctx, paths.Room(roomID), func(cur []byte) ([]byte, error) {
		if cur == nil {
			return nil, ErrRoomNotFound
		}
		out = RoomMeta{}
		if err := json.Unmarshal(cur, &out); err != nil {
			return nil, err
		}
		if err := fn(&out); err != nil {
			return nil, err
		}
		return json.Marshal(out)
	})
	if errors.Is(err, errNoChange) {
		return &out, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *Manager) publish(ctx context.Context, typ, roomID string, status Status, playerID string) {
	ev := notify.Event{Type: typ, RoomID: roomID, Status: string(status), PlayerID: playerID, At: m.now()}
	if err := m.pub.Publish(ctx, ev); err != nil {
		obslog.L().Warn("room_event_publish_error", zap.String("room_id", roomID), zap.String("type", typ), zap.Error(err))
	}
}
