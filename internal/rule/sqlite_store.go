package rule

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists rules in a local SQLite database. The full rule
// document is stored as JSON; the columns the scheduler sorts and
// filters on are lifted out for indexing.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the rule database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open rule DB: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	schema := `
	CREATE TABLE IF NOT EXISTS rules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		active INTEGER NOT NULL,
		priority INTEGER NOT NULL,
		execution_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		doc TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rules_created_at ON rules(created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create rule schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Save(ctx context.Context, r *Rule) error {
	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal rule %s: %w", r.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rules (id, name, active, priority, execution_count, created_at, updated_at, doc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, boolToInt(r.Active), r.Priority, r.ExecutionCount,
		r.CreatedAt.UTC(), r.UpdatedAt.UTC(), string(doc))
	if err != nil {
		return fmt.Errorf("insert rule %s: %w", r.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Rule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT doc, execution_count FROM rules WHERE id = ?`, id)
	var doc string
	var count int64
	if err := row.Scan(&doc, &count); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("query rule %s: %w", id, err)
	}
	return decodeRule(doc, count)
}

func (s *SQLiteStore) List(ctx context.Context) ([]*Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc, execution_count FROM rules ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []*Rule
	for rows.Next() {
		var doc string
		var count int64
		if err := rows.Scan(&doc, &count); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		r, err := decodeRule(doc, count)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Update(ctx context.Context, r *Rule) error {
	existing, err := s.Get(ctx, r.ID)
	if err != nil {
		return err
	}
	r.CreatedAt = existing.CreatedAt
	r.ExecutionCount = existing.ExecutionCount
	r.UpdatedAt = time.Now()
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal rule %s: %w", r.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE rules SET name = ?, active = ?, priority = ?, updated_at = ?, doc = ?
		WHERE id = ?`,
		r.Name, boolToInt(r.Active), r.Priority, r.UpdatedAt.UTC(), string(doc), r.ID)
	if err != nil {
		return fmt.Errorf("update rule %s: %w", r.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete rule %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) IncrementExecutions(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rules SET execution_count = execution_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("increment rule %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func decodeRule(doc string, count int64) (*Rule, error) {
	var r Rule
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		return nil, fmt.Errorf("decode rule document: %w", err)
	}
	r.ExecutionCount = count
	return &r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
