package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

const defaultSQLiteTable = "wizard_sessions"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLiteStore persists sessions in a single table. Any database/sql driver
// speaking SQLite syntax works; the CLI uses modernc.org/sqlite.
type SQLiteStore struct {
	db    *sql.DB
	table string

	schemaMu    sync.Mutex
	schemaReady bool
}

// NewSQLiteStore builds a store on db. An empty table name uses wizard_sessions.
func NewSQLiteStore(db *sql.DB, table string) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("sqlite store requires a database handle")
	}
	table = strings.TrimSpace(table)
	if table == "" {
		table = defaultSQLiteTable
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid sqlite table name %q", table)
	}
	return &SQLiteStore{db: db, table: table}, nil
}

// Load reads the session record, or nil when absent.
func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (*Record, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, nil
	}
	return s.load(ctx, sessionID)
}

// SaveIfVersion writes rec using optimistic version compare.
func (s *SQLiteStore) SaveIfVersion(ctx context.Context, rec *Record, expectedVersion int) (int, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	next, err := prepareRecord(rec, nil, 0)
	if err != nil {
		return 0, err
	}
	if expectedVersion < 0 {
		expectedVersion = 0
	}
	snapshotJSON, err := json.Marshal(next.Snapshot)
	if err != nil {
		return 0, fmt.Errorf("encode snapshot: %w", err)
	}
	updatedAt := next.UpdatedAt.UnixNano()

	if expectedVersion == 0 {
		q := fmt.Sprintf(`INSERT OR IGNORE INTO %s (session_id, wizard_type, status, snapshot, version, updated_at) VALUES (?, ?, ?, ?, 1, ?)`, s.table)
		result, err := s.db.ExecContext(ctx, q,
			next.SessionID,
			next.WizardType,
			string(next.Snapshot.Status),
			string(snapshotJSON),
			updatedAt,
		)
		if err != nil {
			return 0, err
		}
		rows, _ := result.RowsAffected()
		if rows == 0 {
			return 0, ErrVersionConflict
		}
		return 1, nil
	}

	newVersion := expectedVersion + 1
	q := fmt.Sprintf(`UPDATE %s SET wizard_type=?, status=?, snapshot=?, version=?, updated_at=? WHERE session_id=? AND version=?`, s.table)
	result, err := s.db.ExecContext(ctx, q,
		next.WizardType,
		string(next.Snapshot.Status),
		string(snapshotJSON),
		newVersion,
		updatedAt,
		next.SessionID,
		expectedVersion,
	)
	if err != nil {
		return 0, err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return 0, ErrVersionConflict
	}
	return newVersion, nil
}

// Delete removes a session row.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE session_id = ?`, s.table)
	_, err := s.db.ExecContext(ctx, q, strings.TrimSpace(sessionID))
	return err
}

// ListIdle returns sessions last updated before the given time, oldest first.
func (s *SQLiteStore) ListIdle(ctx context.Context, before time.Time) ([]string, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT session_id FROM %s WHERE updated_at < ? ORDER BY updated_at ASC`, s.table)
	rows, err := s.db.QueryContext(ctx, q, before.UTC().UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) load(ctx context.Context, sessionID string) (*Record, error) {
	query := fmt.Sprintf(`SELECT session_id, wizard_type, snapshot, version, updated_at FROM %s WHERE session_id = ?`, s.table)
	var (
		rec          Record
		wizardType   sql.NullString
		snapshotJSON string
		updatedAt    int64
	)
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&rec.SessionID,
		&wizardType,
		&snapshotJSON,
		&rec.Version,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.WizardType = wizardType.String
	if snapshotJSON != "" {
		if err := json.Unmarshal([]byte(snapshotJSON), &rec.Snapshot); err != nil {
			return nil, fmt.Errorf("decode snapshot for %s: %w", sessionID, err)
		}
	}
	rec.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &rec, nil
}

func (s *SQLiteStore) ready(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite store not configured")
	}
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	if s.schemaReady {
		return nil
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	s.schemaReady = true
	return nil
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		session_id TEXT PRIMARY KEY,
		wizard_type TEXT,
		status TEXT NOT NULL,
		snapshot TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`, s.table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure sqlite schema: %w", err)
	}
	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_updated_at_idx ON %s (updated_at)`, s.table, s.table)
	if _, err := s.db.ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("ensure sqlite index: %w", err)
	}
	return nil
}
