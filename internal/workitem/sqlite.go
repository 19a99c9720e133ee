package workitem

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mbourmaud/conductor/internal/logger"
)

// SQLiteStore persists the board in a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	log *logger.Logger
}

// NewSQLiteStore opens (and creates if needed) the database at path. Parent
// directories are created. ":memory:" gives a private in-memory board.
func NewSQLiteStore(path string, log *logger.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = logger.Default()
	}
	log = log.Component("workitems")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: the id sequence is computed inside a transaction and an
	// in-memory database is per connection.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	s := &SQLiteStore{db: db, log: log}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	log.Debug("work item store initialized at %s", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS work_items (
			seq INTEGER PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			assignee TEXT NOT NULL DEFAULT '',
			labels TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,

			CHECK (status IN ('todo', 'doing', 'code-review', 'done', 'cancelled'))
		);

		CREATE INDEX IF NOT EXISTS idx_work_items_status ON work_items(status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, req CreateRequest) (*Item, error) {
	if err := validateCreate(&req); err != nil {
		return nil, err
	}
	labels, err := json.Marshal(nonNil(req.Labels))
	if err != nil {
		return nil, fmt.Errorf("encoding labels: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var seq int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM work_items`).Scan(&seq); err != nil {
		return nil, fmt.Errorf("allocating id: %w", err)
	}

	now := time.Now().UTC()
	it := &Item{
		ID:          FormatID(seq),
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		Labels:      append([]string(nil), req.Labels...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO work_items (seq, id, title, description, status, assignee, labels, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, '', ?, ?, ?)
	`, seq, it.ID, it.Title, it.Description, string(it.Status), string(labels),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("inserting work item: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing work item: %w", err)
	}
	return it, nil
}

const selectColumns = `SELECT id, title, description, status, assignee, labels, created_at, updated_at FROM work_items`

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Item, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading work item %s: %w", id, err)
	}
	return it, nil
}

func (s *SQLiteStore) List(ctx context.Context, status Status) ([]*Item, error) {
	query := selectColumns
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing work items: %w", err)
	}
	defer rows.Close()

	out := make([]*Item, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning work item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Update(ctx context.Context, id string, patch Patch) (*Item, error) {
	it, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	patch.apply(it)
	it.UpdatedAt = time.Now().UTC()

	labels, err := json.Marshal(nonNil(it.Labels))
	if err != nil {
		return nil, fmt.Errorf("encoding labels: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE work_items SET title = ?, description = ?, assignee = ?, labels = ?, updated_at = ?
		WHERE id = ?
	`, it.Title, it.Description, it.Assignee, string(labels), it.UpdatedAt.Format(time.RFC3339Nano), id)
	if err != nil {
		return nil, fmt.Errorf("updating work item %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return it, nil
}

func (s *SQLiteStore) Move(ctx context.Context, id string, status Status) (*Item, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE work_items SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), now.Format(time.RFC3339Nano), id)
	if err != nil {
		return nil, fmt.Errorf("moving work item %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.Get(ctx, id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*Item, error) {
	var (
		it                   Item
		status, labels       string
		createdAt, updatedAt string
	)
	if err := row.Scan(&it.ID, &it.Title, &it.Description, &status, &it.Assignee, &labels, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	it.Status = Status(status)
	if err := json.Unmarshal([]byte(labels), &it.Labels); err != nil {
		return nil, fmt.Errorf("decoding labels: %w", err)
	}
	if len(it.Labels) == 0 {
		it.Labels = nil
	}
	var err error
	if it.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if it.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &it, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
