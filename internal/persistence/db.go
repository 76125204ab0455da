// Package persistence provides SQLite-based snapshot and event storage.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/paradox-protocol/internal/engine"
	apperrors "github.com/talgya/paradox-protocol/internal/errors"
	"github.com/talgya/paradox-protocol/internal/events"
	"github.com/talgya/paradox-protocol/internal/snapshot"
)

// ErrNotFound is returned when no row matches.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "not found")

// Meta keys written on every save.
const (
	MetaLastTick  = "last_tick"
	MetaLastSaved = "last_saved"
	MetaSessionID = "session_id"
)

// DB wraps a SQLite connection for game state persistence.
type DB struct {
	conn *sqlx.DB
}

// Record is one stored snapshot.
type Record struct {
	ID        string `db:"id"`
	SessionID string `db:"session_id"`
	Version   int    `db:"version"`
	Tick      uint64 `db:"tick"`
	SavedAtNS int64  `db:"saved_at"`
	Data      []byte `db:"data"`
}

// SavedAt returns when the snapshot was written.
func (r Record) SavedAt() time.Time { return time.Unix(0, r.SavedAtNS) }

// StoredEvent is a notification read back from the event log.
type StoredEvent struct {
	Seq  uint64          `db:"seq" json:"seq"`
	Tick uint64          `db:"tick" json:"tick"`
	Type events.Type     `db:"type" json:"type"`
	Data json.RawMessage `db:"data" json:"data"`
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		tick INTEGER NOT NULL,
		saved_at INTEGER NOT NULL,
		data BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		seq INTEGER NOT NULL,
		tick INTEGER NOT NULL,
		type TEXT NOT NULL,
		data TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS game_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_saved ON snapshots(saved_at);
	CREATE INDEX IF NOT EXISTS idx_events_tick ON events(tick);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SaveSnapshot stores an encoded snapshot and returns its record.
func (db *DB) SaveSnapshot(ctx context.Context, sessionID string, tick uint64, data []byte) (Record, error) {
	rec := Record{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Version:   snapshot.SchemaVersion,
		Tick:      tick,
		SavedAtNS: time.Now().UnixNano(),
		Data:      data,
	}
	if err := insertSnapshot(ctx, db.conn, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func insertSnapshot(ctx context.Context, ex sqlx.ExtContext, rec Record) error {
	_, err := sqlx.NamedExecContext(ctx, ex, `INSERT INTO snapshots
		(id, session_id, version, tick, saved_at, data)
		VALUES (:id, :session_id, :version, :tick, :saved_at, :data)`, rec)
	if err != nil {
		return fmt.Errorf("insert snapshot %s: %w", rec.ID, err)
	}
	return nil
}

// LatestSnapshot returns the most recently saved snapshot.
func (db *DB) LatestSnapshot(ctx context.Context) (Record, error) {
	var rec Record
	err := db.conn.GetContext(ctx, &rec,
		"SELECT id, session_id, version, tick, saved_at, data FROM snapshots ORDER BY saved_at DESC, rowid DESC LIMIT 1")
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// PruneSnapshots deletes all but the newest keep snapshots.
func (db *DB) PruneSnapshots(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := db.conn.ExecContext(ctx, `DELETE FROM snapshots WHERE id NOT IN
		(SELECT id FROM snapshots ORDER BY saved_at DESC, rowid DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return res.RowsAffected()
}

// SaveEvents appends events to the log.
func (db *DB) SaveEvents(ctx context.Context, evs []events.Event) error {
	if len(evs) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertEvents(ctx, tx, evs); err != nil {
		return err
	}
	return tx.Commit()
}

func insertEvents(ctx context.Context, ex sqlx.ExecerContext, evs []events.Event) error {
	for _, e := range evs {
		data, err := json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("encode event %d: %w", e.Seq, err)
		}
		_, err = ex.ExecContext(ctx,
			"INSERT INTO events (seq, tick, type, data) VALUES (?, ?, ?, ?)",
			e.Seq, e.Tick, string(e.Type), string(data),
		)
		if err != nil {
			return fmt.Errorf("insert event %d: %w", e.Seq, err)
		}
	}
	return nil
}

// RecentEvents returns the most recent events, newest first.
func (db *DB) RecentEvents(ctx context.Context, limit int) ([]StoredEvent, error) {
	var evs []StoredEvent
	err := db.conn.SelectContext(ctx, &evs,
		"SELECT seq, tick, type, data FROM events ORDER BY id DESC LIMIT ?",
		limit,
	)
	return evs, err
}

// SetMeta stores a key-value pair in game metadata.
func (db *DB) SetMeta(ctx context.Context, key, value string) error {
	return setMeta(ctx, db.conn, key, value)
}

func setMeta(ctx context.Context, ex sqlx.ExecerContext, key, value string) error {
	_, err := ex.ExecContext(ctx,
		"INSERT OR REPLACE INTO game_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := db.conn.GetContext(ctx, &value, "SELECT value FROM game_meta WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperrors.WithMetadata(ErrNotFound.Code, "meta key not found", map[string]string{"key": key})
	}
	return value, err
}

// SaveState writes a snapshot of sim and the pending events in one
// transaction.
func (db *DB) SaveState(ctx context.Context, sim *engine.Simulation, pending []events.Event) (Record, error) {
	data, err := sim.Snapshot()
	if err != nil {
		return Record{}, fmt.Errorf("encode snapshot: %w", err)
	}
	st := sim.State()
	rec := Record{
		ID:        uuid.NewString(),
		SessionID: st.SessionID,
		Version:   snapshot.SchemaVersion,
		Tick:      st.Timeline.Tick,
		SavedAtNS: time.Now().UnixNano(),
		Data:      data,
	}

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return Record{}, err
	}
	defer tx.Rollback()

	if err := insertSnapshot(ctx, tx, rec); err != nil {
		return Record{}, err
	}
	if err := insertEvents(ctx, tx, pending); err != nil {
		return Record{}, fmt.Errorf("save events: %w", err)
	}
	for key, value := range map[string]string{
		MetaLastTick:  strconv.FormatUint(rec.Tick, 10),
		MetaLastSaved: rec.SavedAt().UTC().Format(time.RFC3339Nano),
		MetaSessionID: rec.SessionID,
	} {
		if err := setMeta(ctx, tx, key, value); err != nil {
			return Record{}, fmt.Errorf("save meta: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Record{}, err
	}

	slog.Info("game state saved", "tick", rec.Tick, "events", len(pending), "size", humanize.Bytes(uint64(len(data))))
	return rec, nil
}
