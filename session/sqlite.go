package session

import (
	"context"
	"database/sql"
	_ "embed"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"captiongen/transcribe"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump when the schema changes;
// existing databases must then be deleted.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database was created by a different
// version of the service.
var ErrSchemaMismatch = errors.New("session database schema version mismatch")

// SQLiteStore persists sessions to a database under dataDir, so a session
// survives both a browser refresh and a restart of the service. Scratch
// files referenced by a revived session may have been cleaned by the OS, in
// which case the affected stage simply fails again.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite connects to (or creates) the session database.
func OpenSQLite(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "ensure data directory")
	}

	dbPath := filepath.Join(dataDir, "sessions.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "open session db")
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, errors.Wrapf(execErr, "apply pragma %q", pragma)
		}
	}

	store := &SQLiteStore{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return errors.Wrap(err, "check schema_version table")
	}

	if tableExists == 0 {
		if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
			return errors.Wrap(err, "create schema")
		}
		return nil
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return errors.Wrap(err, "read schema version")
	}
	if version != schemaVersion {
		return errors.Wrapf(ErrSchemaMismatch, "database has version %d, expected %d (delete %s)", version, schemaVersion, s.path)
	}
	return nil
}

func (s *SQLiteStore) Put(ctx context.Context, sess *Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, stage, video_path, video_name, audio_path, format, transcript, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
            stage = excluded.stage,
            video_path = excluded.video_path,
            video_name = excluded.video_name,
            audio_path = excluded.audio_path,
            format = excluded.format,
            transcript = excluded.transcript,
            updated_at = excluded.updated_at`,
		sess.ID,
		string(sess.Stage),
		sess.VideoPath,
		sess.VideoName,
		sess.AudioPath,
		string(sess.Format),
		sess.Transcript,
		sess.CreatedAt.UTC().Format(time.RFC3339Nano),
		sess.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return errors.Wrap(err, "upsert session")
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, stage, video_path, video_name, audio_path, format, transcript, created_at, updated_at
         FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sess, err
}

func (s *SQLiteStore) List(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, stage, video_path, video_name, audio_path, format, transcript, created_at, updated_at
         FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		sess      Session
		stage     string
		format    string
		createdAt string
		updatedAt string
	)
	err := row.Scan(&sess.ID, &stage, &sess.VideoPath, &sess.VideoName, &sess.AudioPath, &format, &sess.Transcript, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	sess.Stage = Stage(stage)
	sess.Format = transcribe.Format(format)
	if sess.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, errors.Wrap(err, "parse created_at")
	}
	if sess.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, errors.Wrap(err, "parse updated_at")
	}
	return &sess, nil
}
