package recorder

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/tailscale/tailsql/server/tailsql"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/particleview/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUnknownSession is returned for a session id with no row.
var ErrUnknownSession = errors.New("unknown recording session")

// Session summarises one recording.
type Session struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	StoppedAt  *time.Time `json:"stopped_at,omitempty"`
	FrameCount int        `json:"frame_count"`
}

// Store is the sqlite database holding recorded sessions and frames.
type Store struct {
	*sql.DB
	path string
}

// OpenStore opens (creating if needed) the recordings database at path and
// brings its schema up to date.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; the render loop and the export path would otherwise race
	// for the file lock.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{DB: db, path: path}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file the store was opened on.
func (s *Store) Path() string { return s.path }

// MigrateUp runs all pending migrations up to the latest version.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: that would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the current schema version, 0 when none applied.
func (s *Store) MigrateVersion() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	return m, nil
}

// migrateLogger implements migrate.Logger.
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

func (s *Store) createSession(ctx context.Context, id string, started time.Time) error {
	_, err := s.ExecContext(ctx,
		`INSERT INTO sessions (session_id, started_at) VALUES (?, ?)`,
		id, started.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to create session %s: %w", id, err)
	}
	return nil
}

func (s *Store) finishSession(ctx context.Context, id string, stopped time.Time, frames int) error {
	res, err := s.ExecContext(ctx,
		`UPDATE sessions SET stopped_at = ?, frame_count = ? WHERE session_id = ?`,
		stopped.UnixNano(), frames, id)
	if err != nil {
		return fmt.Errorf("failed to finish session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUnknownSession
	}
	return nil
}

func (s *Store) insertFrame(ctx context.Context, id string, index int, at time.Time, seq uint64, png []byte, meta *structpb.Struct) error {
	var blob []byte
	if meta != nil {
		var err error
		if blob, err = proto.Marshal(meta); err != nil {
			return fmt.Errorf("failed to encode frame metadata: %w", err)
		}
	}
	_, err := s.ExecContext(ctx,
		`INSERT INTO frames (session_id, frame_index, captured_at, scene_seq, png, meta)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, index, at.UnixNano(), int64(seq), png, blob)
	if err != nil {
		return fmt.Errorf("failed to store frame %d: %w", index, err)
	}
	return nil
}

// Sessions lists recordings, newest first.
func (s *Store) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT s.session_id, s.started_at, s.stopped_at,
		       (SELECT COUNT(*) FROM frames f WHERE f.session_id = s.session_id)
		FROM sessions s
		ORDER BY s.started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			sess    Session
			started int64
			stopped sql.NullInt64
		)
		if err := rows.Scan(&sess.ID, &started, &stopped, &sess.FrameCount); err != nil {
			return nil, err
		}
		sess.StartedAt = time.Unix(0, started).UTC()
		if stopped.Valid {
			t := time.Unix(0, stopped.Int64).UTC()
			sess.StoppedAt = &t
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Frame returns one recorded PNG and its metadata.
func (s *Store) Frame(ctx context.Context, id string, index int) ([]byte, *structpb.Struct, error) {
	var png, blob []byte
	err := s.QueryRowContext(ctx,
		`SELECT png, meta FROM frames WHERE session_id = ? AND frame_index = ?`,
		id, index).Scan(&png, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("frame %d of %s: %w", index, id, ErrUnknownSession)
	}
	if err != nil {
		return nil, nil, err
	}
	meta := &structpb.Struct{}
	if len(blob) > 0 {
		if err := proto.Unmarshal(blob, meta); err != nil {
			return nil, nil, fmt.Errorf("failed to decode frame metadata: %w", err)
		}
	}
	return png, meta, nil
}

func (s *Store) hasSession(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE session_id = ?`, id).Scan(&n)
	return n > 0, err
}

// Export writes a standalone sqlite database holding only session id to w.
// The copy is made with VACUUM INTO, then the other sessions are removed
// from it.
func (s *Store) Export(ctx context.Context, id string, w io.Writer) error {
	ok, err := s.hasSession(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnknownSession
	}

	dir, err := os.MkdirTemp("", "particleview-export-")
	if err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	defer os.RemoveAll(dir)

	exportPath := filepath.Join(dir, "session.db")
	if _, err := s.ExecContext(ctx, "VACUUM INTO ?", exportPath); err != nil {
		return fmt.Errorf("failed to copy database: %w", err)
	}

	if err := pruneExport(ctx, exportPath, id); err != nil {
		return err
	}

	f, err := os.Open(exportPath)
	if err != nil {
		return fmt.Errorf("failed to open export: %w", err)
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

func pruneExport(ctx context.Context, path, keep string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, `DELETE FROM frames WHERE session_id <> ?`, keep); err != nil {
		return fmt.Errorf("failed to prune frames: %w", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id <> ?`, keep); err != nil {
		return fmt.Errorf("failed to prune sessions: %w", err)
	}
	if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("failed to compact export: %w", err)
	}
	return nil
}

// AttachAdminRoutes mounts the tsweb debugger on mux with a tailsql console
// over the recordings and a backup download.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://recordings.db", s.DB, &tailsql.DBOptions{
		Label: "Recordings DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Download a copy of the recordings database", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dir, err := os.MkdirTemp("", "particleview-backup-")
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		defer os.RemoveAll(dir)

		backupPath := filepath.Join(dir, fmt.Sprintf("recordings-%d.db", time.Now().Unix()))
		if _, err := s.ExecContext(r.Context(), "VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		f, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer f.Close()
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filepath.Base(backupPath)))
		w.Header().Set("Content-Type", "application/octet-stream")
		if _, err := io.Copy(w, f); err != nil {
			monitoring.Logf("[Recorder] backup download failed: %v", err)
		}
	}))
	return nil
}
