package events

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"vidgen/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS generation_events (
	id TEXT PRIMARY KEY,
	seq INTEGER NOT NULL,
	occurred_at TEXT NOT NULL,
	kind TEXT NOT NULL,
	job_id TEXT,
	provider TEXT,
	status TEXT,
	error_kind TEXT,
	estimated_micros INTEGER NOT NULL DEFAULT 0,
	cost_micros INTEGER NOT NULL DEFAULT 0,
	payload_json TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS generation_events_kind_time_idx ON generation_events(kind, occurred_at);
`

// sqliteTime is fixed width so stored timestamps compare correctly as text.
const sqliteTime = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteSink appends events to a local SQLite file.
type SQLiteSink struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the event database at path.
func OpenSQLite(path string) (*SQLiteSink, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("events: ensure sqlite dir: %w", err)
		}
	}
	conn, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path))
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec(sqliteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: migrate sqlite: %w", err)
	}
	return &SQLiteSink{db: conn}, nil
}

// Close releases the database handle.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

func (s *SQLiteSink) Write(ctx context.Context, e Event) error {
	payload := string(e.Payload)
	if payload == "" {
		payload = "{}"
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO generation_events
		(id, seq, occurred_at, kind, job_id, provider, status, error_kind, estimated_micros, cost_micros, payload_json)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.Seq, e.Timestamp.UTC().Format(sqliteTime), string(e.Kind),
		nullable(e.JobID), nullable(e.Provider), nullable(e.Status), nullable(e.ErrorKind),
		int64(e.Estimated), int64(e.Cost), payload)
	return err
}

func (s *SQLiteSink) ProviderStats(ctx context.Context) ([]ProviderStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT provider,
		SUM(CASE WHEN status <> 'skipped' THEN 1 ELSE 0 END),
		SUM(CASE WHEN status = 'succeeded' THEN 1 ELSE 0 END),
		SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END),
		SUM(CASE WHEN status = 'timed_out' THEN 1 ELSE 0 END),
		SUM(CASE WHEN status = 'skipped' THEN 1 ELSE 0 END),
		COALESCE(SUM(cost_micros), 0)
		FROM generation_events
		WHERE kind = 'attempt' AND provider IS NOT NULL
		GROUP BY provider ORDER BY provider`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProviderStats
	for rows.Next() {
		var st ProviderStats
		var micros int64
		if err := rows.Scan(&st.Provider, &st.Attempts, &st.Succeeded, &st.Failed, &st.TimedOut, &st.Skipped, &micros); err != nil {
			return nil, err
		}
		st.TotalCost = domain.Money(micros)
		out = append(out, finalize(st))
	}
	return out, rows.Err()
}

func (s *SQLiteSink) SpendSince(ctx context.Context, since time.Time) (domain.Money, error) {
	var micros int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_micros), 0) FROM generation_events WHERE kind = 'attempt' AND occurred_at >= ?`,
		since.UTC().Format(sqliteTime)).Scan(&micros)
	if err != nil {
		return 0, err
	}
	return domain.Money(micros), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

var (
	_ Sink    = (*SQLiteSink)(nil)
	_ History = (*SQLiteSink)(nil)
)
