package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/RyotaroOda/TuringChatD11-sub000/internal/battle"
)

const schemaSQL = `CREATE TABLE IF NOT EXISTS battle_archives (
    room_id     TEXT PRIMARY KEY,
    host_id     TEXT NOT NULL,
    status      TEXT NOT NULL,
    topic       TEXT NOT NULL DEFAULT '',
    elapsed_ms  BIGINT NOT NULL DEFAULT 0,
    snapshot    JSONB NOT NULL,
    started_at  TIMESTAMPTZ,
    ended_at    TIMESTAMPTZ,
    archived_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresArchiver stores snapshots in battle_archives, one row per room.
type PostgresArchiver struct {
	db *sql.DB
}

func NewPostgresArchiver(databaseURL string) (*PostgresArchiver, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for postgres archive")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresArchiver{db: db}, nil
}

func (a *PostgresArchiver) EnsureSchema(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, schemaSQL)
	return err
}

func (a *PostgresArchiver) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *PostgresArchiver) Save(ctx context.Context, room *battle.Room) error {
	if room == nil || strings.TrimSpace(room.ID) == "" {
		return ErrInvalidRoom
	}
	raw, err := json.Marshal(room)
	if err != nil {
		return err
	}
	var elapsed int64
	if room.Result != nil {
		elapsed = room.Result.ElapsedMs
	}
	q := `INSERT INTO battle_archives (
        room_id, host_id, status, topic, elapsed_ms, snapshot, started_at, ended_at
      ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
      ON CONFLICT (room_id) DO UPDATE SET
        host_id=EXCLUDED.host_id,
        status=EXCLUDED.status,
        topic=EXCLUDED.topic,
        elapsed_ms=EXCLUDED.elapsed_ms,
        snapshot=EXCLUDED.snapshot,
        started_at=EXCLUDED.started_at,
        ended_at=EXCLUDED.ended_at,
        archived_at=now()`
	_, err = a.db.ExecContext(ctx, q,
		room.ID, room.HostID, string(room.Status), room.Topic, elapsed, string(raw),
		nullMillis(room.Timestamps.Start), nullMillis(room.Timestamps.End),
	)
	return err
}

func (a *PostgresArchiver) Load(ctx context.Context, roomID string) (*battle.Room, error) {
	var raw []byte
	err := a.db.QueryRowContext(ctx, `SELECT snapshot FROM battle_archives WHERE room_id = $1`, strings.TrimSpace(roomID)).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var r battle.Room
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func nullMillis(ms int64) sql.NullTime {
	if ms <= 0 {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: time.UnixMilli(ms).UTC(), Valid: true}
}
