// Package archive keeps durable copies of finished rooms. A room is deleted
// from the live store only after Save returned nil.
package archive

import (
	"context"
	"strings"

	"github.com/RyotaroOda/TuringChatD11-sub000/internal/battle"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/paths"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/store"
)

// Archiver persists room snapshots. Save must be idempotent; Load returns
// nil, nil when nothing was archived under id.
type Archiver interface {
	Save(ctx context.Context, room *battle.Room) error
	Load(ctx context.Context, roomID string) (*battle.Room, error)
}

// StoreArchiver writes snapshots to backup/rooms/{id} in the same store.
type StoreArchiver struct{ st store.Store }

func NewStoreArchiver(st store.Store) *StoreArchiver { return &StoreArchiver{st: st} }

func (a *StoreArchiver) Save(ctx context.Context, room *battle.Room) error {
	if room == nil || strings.TrimSpace(room.ID) == "" {
		return ErrInvalidRoom
	}
	return store.SetJSON(ctx, a.st, paths.BackupRoom(room.ID), room)
}

func (a *StoreArchiver) Load(ctx context.Context, roomID string) (*battle.Room, error) {
	var r battle.Room
	ok, err := store.GetJSON(ctx, a.st, paths.BackupRoom(roomID), &r)
	if err != nil || !ok {
		return nil, err
	}
	return &r, nil
}

type staticErr string

func (e staticErr) Error() string { return string(e) }

const ErrInvalidRoom = staticErr("archive: room snapshot without id")
