package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteSink persists records in a SQLite database.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (or creates) the database at path. Use ":memory:"
// for a throwaway database.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes
	// writers from this process.
	db.SetMaxOpenConns(1)

	s := &SQLiteSink{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteSink) initialize() error {
	schema := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS records (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		ref TEXT NOT NULL,
		outcome TEXT NOT NULL,
		recovered INTEGER NOT NULL DEFAULT 0,
		error_kind TEXT,
		message TEXT,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_records_ref ON records(ref);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record appends rec.
func (s *SQLiteSink) Record(ctx context.Context, rec Record) error {
	rec = withID(rec)
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO records (id, ref, outcome, recovered, error_kind, message, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)",
		rec.ID, rec.Ref, string(rec.Outcome), rec.Recovered, rec.ErrorKind, rec.Message, rec.Time.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// List returns the records under prefix, oldest first. An empty prefix
// lists everything. A prefix matches whole reference fields only:
// "libfoo/1.0" selects "libfoo/1.0" and "libfoo/1.0#rrev:id" but not
// "libfoo/1.0.1", while "zlib/" selects every zlib version.
func (s *SQLiteSink) List(ctx context.Context, prefix string) ([]Record, error) {
	where, args := refFilter(prefix)
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, ref, outcome, recovered, error_kind, message, timestamp FROM records WHERE "+where+" ORDER BY seq",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec       Record
			outcome   string
			kind, msg sql.NullString
			ts        int64
		)
		if err := rows.Scan(&rec.ID, &rec.Ref, &outcome, &rec.Recovered, &kind, &msg, &ts); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		rec.Outcome = Outcome(outcome)
		rec.ErrorKind = kind.String
		rec.Message = msg.String
		rec.Time = time.Unix(0, ts).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// refSeparators end a field of a reference string.
const refSeparators = "/@:#"

func refFilter(prefix string) (string, []any) {
	if prefix == "" {
		return "1 = 1", nil
	}
	if strings.ContainsRune(refSeparators, rune(prefix[len(prefix)-1])) {
		return "substr(ref, 1, length(?)) = ?", []any{prefix, prefix}
	}
	return "(ref = ? OR substr(ref, 1, length(?)) IN (?, ?, ?, ?))",
		[]any{prefix, prefix + "/", prefix + "/", prefix + "@", prefix + ":", prefix + "#"}
}

// Close releases the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
