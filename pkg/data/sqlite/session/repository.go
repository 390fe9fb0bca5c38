package session

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "modernc.org/sqlite"

	"github.com/espina-project/slicecache/pkg/checkpointer"
	"github.com/espina-project/slicecache/pkg/volume"
)

// Repository persists viewer sessions in SQLite. It implements the
// checkpointer.Checkpointer interface and adds listing for the CLI.
type Repository interface {
	checkpointer.Checkpointer
	List(ctx context.Context) ([]checkpointer.Session, error)
	Close() error
}

var _ Repository = (*repository)(nil)

//go:embed queries/create-table.sql
var createTableQuery string

//go:embed queries/write-session.sql
var writeSessionQuery string

//go:embed queries/read-session.sql
var readSessionQuery string

//go:embed queries/delete-session.sql
var deleteSessionQuery string

//go:embed queries/list-sessions.sql
var listSessionsQuery string

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type repository struct {
	db        *sql.DB
	tableName string
	now       func() time.Time
}

// NewRepository opens (creating if needed) the database at path and ensures
// the sessions table exists. Use ":memory:" for a throwaway database.
func NewRepository(ctx context.Context, path, tableName string) (Repository, error) {
	if !tableNamePattern.MatchString(tableName) {
		return nil, fmt.Errorf("invalid table name %q", tableName)
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	// a single connection keeps ":memory:" databases alive and serialises writers
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to session database: %w", err)
	}

	repo := &repository{db: db, tableName: tableName, now: time.Now}
	if err := repo.Initialize(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sessions table: %w", err)
	}
	return repo, nil
}

// Initialize ensures the sessions table exists.
// Schema:
//   - volume_id: TEXT (primary key)
//   - axis, position, window_radius: INTEGER
//   - updated_at: INTEGER, Unix milliseconds of the last write
func (r *repository) Initialize(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, fmt.Sprintf(createTableQuery, r.tableName)); err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}
	return nil
}

// Write upserts the session with the current time.
func (r *repository) Write(ctx context.Context, s checkpointer.Session) error {
	if s.VolumeID == "" {
		return errors.New("invalid session: volume id must not be empty")
	}
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(writeSessionQuery, r.tableName),
		s.VolumeID, int(s.Axis), s.Position, s.WindowRadius, r.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

// Read retrieves the session of volumeID.
func (r *repository) Read(ctx context.Context, volumeID string) (checkpointer.Session, bool, error) {
	var row Row
	err := r.db.QueryRowContext(ctx, fmt.Sprintf(readSessionQuery, r.tableName), volumeID).
		Scan(&row.VolumeID, &row.Axis, &row.Position, &row.WindowRadius, &row.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return checkpointer.Session{}, false, nil
		}
		return checkpointer.Session{}, false, fmt.Errorf("failed to read session: %w", err)
	}
	return row.toSession(), true, nil
}

func (r *repository) Delete(ctx context.Context, volumeID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(deleteSessionQuery, r.tableName), volumeID)
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	return n > 0, nil
}

// List returns every session, most recently updated first.
func (r *repository) List(ctx context.Context) ([]checkpointer.Session, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(listSessionsQuery, r.tableName))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []checkpointer.Session
	for rows.Next() {
		var row Row
		if err := rows.Scan(&row.VolumeID, &row.Axis, &row.Position, &row.WindowRadius, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, row.toSession())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return out, nil
}

func (r *repository) Close() error {
	return r.db.Close()
}

func (row Row) toSession() checkpointer.Session {
	return checkpointer.Session{
		VolumeID:     row.VolumeID,
		Axis:         volume.Axis(row.Axis),
		Position:     row.Position,
		WindowRadius: row.WindowRadius,
		UpdatedAt:    time.UnixMilli(row.UpdatedAt),
	}
}
