package execlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteLog persists entries in a local SQLite database. Diagnostics
// (matched leaves, executed types) are stored as JSON columns; the
// filterable fields are real columns.
type SQLiteLog struct {
	db *sql.DB
}

// NewSQLiteLog opens (creating if needed) the log database at path.
func NewSQLiteLog(path string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open execution log DB: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	schema := `
	CREATE TABLE IF NOT EXISTS exec_log (
		id TEXT PRIMARY KEY,
		rule_id TEXT NOT NULL,
		record_id TEXT NOT NULL,
		ts TIMESTAMP NOT NULL,
		outcome TEXT NOT NULL,
		executed_types TEXT,
		error TEXT,
		duration_ns INTEGER NOT NULL,
		matched_leaves TEXT,
		branch_taken TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_exec_log_rule_ts ON exec_log(rule_id, ts);
	CREATE INDEX IF NOT EXISTS idx_exec_log_ts ON exec_log(ts);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create execution log schema: %w", err)
	}
	return &SQLiteLog{db: db}, nil
}

// Close closes the underlying database.
func (l *SQLiteLog) Close() error { return l.db.Close() }

func (l *SQLiteLog) Append(ctx context.Context, e Entry) error {
	types, _ := json.Marshal(e.ExecutedTypes)
	leaves, _ := json.Marshal(e.MatchedLeaves)
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO exec_log (id, rule_id, record_id, ts, outcome, executed_types, error, duration_ns, matched_leaves, branch_taken)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RuleID, e.RecordID, e.Timestamp.UTC(), string(e.Outcome),
		string(types), e.Error, int64(e.Duration), string(leaves), e.BranchTaken)
	if err != nil {
		return fmt.Errorf("append log entry %s: %w", e.ID, err)
	}
	return nil
}

func (l *SQLiteLog) Query(ctx context.Context, f Filter) ([]Entry, error) {
	var where []string
	var args []interface{}
	if f.RuleID != "" {
		where = append(where, "rule_id = ?")
		args = append(args, f.RuleID)
	}
	if f.RecordID != "" {
		where = append(where, "record_id = ?")
		args = append(args, f.RecordID)
	}
	if f.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, string(f.Outcome))
	}
	if !f.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, f.Since.UTC())
	}
	if !f.Until.IsZero() {
		where = append(where, "ts <= ?")
		args = append(args, f.Until.UTC())
	}

	q := `SELECT id, rule_id, record_id, ts, outcome, executed_types, error, duration_ns, matched_leaves, branch_taken FROM exec_log`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY ts DESC"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query execution log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var types, leaves string
		var durNs int64
		if err := rows.Scan(&e.ID, &e.RuleID, &e.RecordID, &e.Timestamp, &e.Outcome,
			&types, &e.Error, &durNs, &leaves, &e.BranchTaken); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		e.Duration = time.Duration(durNs)
		_ = json.Unmarshal([]byte(types), &e.ExecutedTypes)
		_ = json.Unmarshal([]byte(leaves), &e.MatchedLeaves)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (l *SQLiteLog) CountSince(ctx context.Context, ruleID string, since time.Time) (int, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM exec_log WHERE rule_id = ? AND ts >= ?`, ruleID, since.UTC())
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count log entries for %s: %w", ruleID, err)
	}
	return n, nil
}
