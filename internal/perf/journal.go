package perf

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/antoniostano/mentora/internal/memory"
	"github.com/antoniostano/mentora/internal/reliability"
)

// Journal persists execution records to SQLite so performance history
// survives restarts. The aggregator remains authoritative for the live
// window; the journal is for offline analysis and warm restarts.
type Journal struct {
	db *sql.DB
}

// OpenJournal opens (or creates) the journal at the given path.
// Use ":memory:" for a throwaway journal.
func OpenJournal(ctx context.Context, path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pipeline_name TEXT NOT NULL,
			user_id TEXT NOT NULL,
			query_hash TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			duration_ms REAL NOT NULL,
			success INTEGER NOT NULL,
			confidence REAL NOT NULL,
			memory_types TEXT NOT NULL DEFAULT '',
			personalized INTEGER NOT NULL,
			error_kind TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_executions_pipeline ON executions(pipeline_name);
		CREATE INDEX IF NOT EXISTS idx_executions_started ON executions(started_at);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Append writes one record. Failures are logged, not returned: journaling
// must never fail a user query.
func (j *Journal) Append(rec ExecutionRecord) {
	types := make([]string, len(rec.MemoryTypesUsed))
	for i, t := range rec.MemoryTypesUsed {
		types[i] = string(t)
	}

	_, err := j.db.Exec(
		`INSERT INTO executions
			(pipeline_name, user_id, query_hash, started_at, duration_ms, success, confidence, memory_types, personalized, error_kind)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.PipelineName,
		rec.UserID,
		rec.QueryHash,
		rec.StartedAt.UTC().UnixNano(),
		float64(rec.Duration)/float64(time.Millisecond),
		boolToInt(rec.Success),
		rec.Confidence,
		strings.Join(types, ","),
		boolToInt(rec.Personalized),
		string(rec.ErrorKind),
	)
	if err != nil {
		log.Printf("perf journal append failed: %v", err)
	}
}

// Recent returns up to limit records, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT pipeline_name, user_id, query_hash, started_at, duration_ms, success, confidence, memory_types, personalized, error_kind
		 FROM executions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []ExecutionRecord
	for rows.Next() {
		var rec ExecutionRecord
		var types, errorKind string
		var startedAt int64
		var durationMS float64
		var success, personalized int
		if err := rows.Scan(&rec.PipelineName, &rec.UserID, &rec.QueryHash, &startedAt,
			&durationMS, &success, &rec.Confidence, &types, &personalized, &errorKind); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		rec.StartedAt = time.Unix(0, startedAt).UTC()
		rec.Duration = time.Duration(durationMS * float64(time.Millisecond))
		rec.Success = success != 0
		rec.Personalized = personalized != 0
		rec.ErrorKind = reliability.Kind(errorKind)
		if types != "" {
			for _, t := range strings.Split(types, ",") {
				rec.MemoryTypesUsed = append(rec.MemoryTypesUsed, memory.Type(t))
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune deletes journal rows older than the cutoff. Timestamps are stored
// as Unix nanoseconds so the comparison is numeric, not lexical.
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		`DELETE FROM executions WHERE started_at < ?`,
		before.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	return res.RowsAffected()
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
