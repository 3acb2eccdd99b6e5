package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
	"github.com/google/uuid"

	"stablevault/core/types"
)

// Storage persists oracle history and the committed engine event log.
type Storage struct {
	db  *sql.DB
	now func() time.Time
}

var (
	// ErrPathRequired is returned when the backing store path is missing.
	ErrPathRequired = errors.New("cdpd storage path must be configured")
	// ErrNotFound is returned when a lookup matches no rows.
	ErrNotFound = errors.New("cdpd storage: not found")
)

// Open initialises the backing store using sqlite-compatible DSN.
func Open(dsn string) (*Storage, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Storage{db: db, now: time.Now}, nil
}

// Close releases database resources.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage not configured")
	}
	return s.db.PingContext(ctx)
}

// RecordSample persists a raw quote reported by one source.
func (s *Storage) RecordSample(ctx context.Context, asset, source string, price *big.Rat, observed, recorded time.Time) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	if price == nil {
		return fmt.Errorf("quote missing price")
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO oracle_samples(asset, source, price, observed_at, recorded_at)
        VALUES(?, ?, ?, ?, ?)
    `, assetKey(asset), strings.ToLower(strings.TrimSpace(source)), price.FloatString(8), observed.UTC().Unix(), recorded.UTC())
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

// Snapshot captures an aggregated price round.
type Snapshot struct {
	Asset          string
	RoundID        uint64
	Median         string
	Feeders        []string
	ProofID        string
	ObservedAtUnix int64
	RecordedAt     time.Time
}

// RecordSnapshot stores the aggregated median pushed as a round.
func (s *Storage) RecordSnapshot(ctx context.Context, snap Snapshot) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	recorded := snap.RecordedAt
	if recorded.IsZero() {
		recorded = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO oracle_snapshots(asset, round_id, median, feeders, proof_id, observed_at, recorded_at)
        VALUES(?, ?, ?, ?, ?, ?, ?)
    `, assetKey(snap.Asset), int64(snap.RoundID), strings.TrimSpace(snap.Median), strings.Join(snap.Feeders, ","), snap.ProofID, snap.ObservedAtUnix, recorded.UTC())
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recent aggregated round for the asset.
func (s *Storage) LatestSnapshot(ctx context.Context, asset string) (Snapshot, error) {
	result := Snapshot{Asset: assetKey(asset)}
	if s == nil {
		return result, fmt.Errorf("storage not configured")
	}
	row := s.db.QueryRowContext(ctx, `
        SELECT round_id, median, feeders, proof_id, observed_at, recorded_at
        FROM oracle_snapshots
        WHERE asset = ?
        ORDER BY id DESC
        LIMIT 1
    `, assetKey(asset))
	var (
		feeders string
		roundID int64
	)
	if err := row.Scan(&roundID, &result.Median, &feeders, &result.ProofID, &result.ObservedAtUnix, &result.RecordedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return result, fmt.Errorf("%w: snapshot for %s", ErrNotFound, result.Asset)
		}
		return result, fmt.Errorf("query snapshot: %w", err)
	}
	result.RoundID = uint64(roundID)
	if feeders != "" {
		result.Feeders = strings.Split(feeders, ",")
	}
	return result, nil
}

// EventRecord is a persisted engine event.
type EventRecord struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	RecordedAt time.Time         `json:"recordedAt"`
}

// EventFilter narrows ListEvents. Zero values match everything.
type EventFilter struct {
	Type string
	// Address matches any attribute equal to it, e.g. user or liquidator.
	Address string
	Limit   int
}

// Publish appends committed engine events in one transaction.
func (s *Storage) Publish(ctx context.Context, events []*types.Event) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin event batch: %w", err)
	}
	recorded := s.now().UTC()
	for _, evt := range events {
		if evt == nil {
			continue
		}
		attrs, err := json.Marshal(evt.Attributes)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("encode event attributes: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO engine_events(id, type, attributes, recorded_at)
            VALUES(?, ?, ?, ?)
        `, uuid.NewString(), evt.Type, string(attrs), recorded); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event batch: %w", err)
	}
	return nil
}

// ListEvents returns persisted events in commit order.
func (s *Storage) ListEvents(ctx context.Context, filter EventFilter) ([]EventRecord, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	query := `SELECT id, type, attributes, recorded_at FROM engine_events`
	args := make([]any, 0, 1)
	if typ := strings.TrimSpace(filter.Type); typ != "" {
		query += ` WHERE type = ?`
		args = append(args, typ)
	}
	query += ` ORDER BY seq ASC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	address := strings.TrimSpace(filter.Address)
	records := make([]EventRecord, 0)
	for rows.Next() {
		var (
			rec   EventRecord
			attrs string
		)
		if err := rows.Scan(&rec.ID, &rec.Type, &attrs, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(attrs), &rec.Attributes); err != nil {
			return nil, fmt.Errorf("decode event attributes: %w", err)
		}
		if address != "" && !mentions(rec.Attributes, address) {
			continue
		}
		records = append(records, rec)
		if filter.Limit > 0 && len(records) >= filter.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return records, nil
}

func mentions(attrs map[string]string, value string) bool {
	for _, v := range attrs {
		if v == value {
			return true
		}
	}
	return false
}

func assetKey(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

const schema = `
CREATE TABLE IF NOT EXISTS oracle_samples (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    asset TEXT NOT NULL,
    source TEXT NOT NULL,
    price TEXT NOT NULL,
    observed_at INTEGER NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_oracle_samples_asset_ts ON oracle_samples(asset, observed_at);

CREATE TABLE IF NOT EXISTS oracle_snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    asset TEXT NOT NULL,
    round_id INTEGER NOT NULL,
    median TEXT NOT NULL,
    feeders TEXT NOT NULL,
    proof_id TEXT NOT NULL,
    observed_at INTEGER NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_oracle_snapshots_asset ON oracle_snapshots(asset, id);

CREATE TABLE IF NOT EXISTS engine_events (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL,
    attributes TEXT NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_engine_events_type ON engine_events(type, seq);
`
