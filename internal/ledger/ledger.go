// Package ledger keeps an append-only history of effect lifecycle events.
// It is an audit trail only; nothing is restored from it on startup.
package ledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huefx/internal/eventbus"
)

// DefaultLimit is used by Recent when limit is not positive.
const DefaultLimit = 100

// Entry represents a single event in the ledger
type Entry struct {
	ID        int64              `json:"id"`
	EventType eventbus.EventType `json:"type"`
	Timestamp time.Time          `json:"time"`
	EffectID  string             `json:"effectId,omitempty"`
	LightID   string             `json:"lightId"`
	Instance  string             `json:"instance,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// Ledger provides append-only event logging
type Ledger struct {
	db *sql.DB
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Append adds an event to the ledger
func (l *Ledger) Append(ctx context.Context, e eventbus.Event) error {
	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO effect_ledger (event_type, timestamp, effect_id, light_id, instance, error)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(e.Type), ts.UTC().UnixMilli(), e.EffectID, e.LightID, e.Instance, e.Error)
	return err
}

// Record is an eventbus.Handler that appends every event it receives.
func (l *Ledger) Record(e eventbus.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := l.Append(ctx, e); err != nil {
		log.Error().Err(err).Str("event_type", string(e.Type)).Msg("Failed to append ledger entry")
	}
}

// Recent returns the newest entries first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, event_type, timestamp, effect_id, light_id, instance, error
		FROM effect_ledger
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// ForLight returns the newest entries for one light first.
func (l *Ledger) ForLight(ctx context.Context, lightID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, event_type, timestamp, effect_id, light_id, instance, error
		FROM effect_ledger
		WHERE light_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, lightID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC().UnixMilli()
	result, err := l.db.ExecContext(ctx, `DELETE FROM effect_ledger WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// RunCleanup applies the retention policy every interval until ctx is done.
func (l *Ledger) RunCleanup(ctx context.Context, retention, interval time.Duration) {
	if retention <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := l.DeleteOlderThan(ctx, retention)
			if err != nil {
				log.Error().Err(err).Msg("Ledger cleanup failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("deleted", n).Msg("Ledger cleanup")
			}
		}
	}
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	entries := []*Entry{}
	for rows.Next() {
		var entry Entry
		var effectID, instance, errMsg sql.NullString
		var timestamp int64

		err := rows.Scan(&entry.ID, &entry.EventType, &timestamp, &effectID, &entry.LightID, &instance, &errMsg)
		if err != nil {
			return nil, err
		}

		entry.Timestamp = time.UnixMilli(timestamp).UTC()
		entry.EffectID = effectID.String
		entry.Instance = instance.String
		entry.Error = errMsg.String

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
