// Package recorder persists delivered messages to SQLite so a session can be
// inspected after its listeners have returned.
package recorder

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/sensorapi/internal/flatcodec"
	"github.com/banshee-data/sensorapi/internal/monitoring"
	"github.com/banshee-data/sensorapi/internal/scanmsg"
	"github.com/banshee-data/sensorapi/internal/timeutil"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var ErrClosed = errors.New("recorder: closed")

// Recorder writes encoded messages to the messages table.
type Recorder struct {
	db    *sql.DB
	clock timeutil.Clock

	mu     sync.Mutex
	closed bool
	errors int64
}

// Row is one recorded message.
type Row struct {
	ID         int64
	SessionID  string
	Kind       scanmsg.Kind
	Envelope   flatcodec.Envelope
	RecordedAt int64
}

// Open opens (creating if needed) the database at path and brings its schema
// up to date. A nil clock uses the wall clock.
func Open(path string, clock timeutil.Clock) (*Recorder, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; SQLite serializes writes anyway and in-memory databases are
	// per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Recorder{db: db, clock: clock}, nil
}

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
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

func migrateUp(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	// m is not closed: closing it would close db.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// SchemaVersion reports the applied migration version.
func (r *Recorder) SchemaVersion() (uint, bool, error) {
	m, err := newMigrate(r.db)
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return monitoring.Verbose()
}

// Record encodes msg and stores it under sessionID.
func (r *Recorder) Record(sessionID string, kind scanmsg.Kind, msg any) error {
	b, err := flatcodec.Encode(kind, msg)
	if err != nil {
		return err
	}
	env, err := flatcodec.DecodeEnvelope(b)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	_, err = r.db.Exec(`
		INSERT INTO messages (session_id, kind, seq, stamp_sec, stamp_nsec, frame_id, elements, payload, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, kind.String(),
		env.Header.Seq, env.Header.StampSec, env.Header.StampNsec, env.Header.FrameID,
		int64(env.Elements), b, r.clock.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert %v message: %w", kind, err)
	}
	return nil
}

// Sink returns a function suitable for a multi-kind listener. Errors are
// logged and counted, never returned to the delivering driver.
func (r *Recorder) Sink(sessionID string) func(kind scanmsg.Kind, msg any) {
	return func(kind scanmsg.Kind, msg any) {
		if err := r.Record(sessionID, kind, msg); err != nil {
			r.mu.Lock()
			r.errors++
			r.mu.Unlock()
			monitoring.Logf("[recorder] session %s: %v", sessionID, err)
		}
	}
}

// Errors returns how many Sink writes failed.
func (r *Recorder) Errors() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errors
}

// Count returns the number of recorded messages of kind, or of every kind
// when kind is zero.
func (r *Recorder) Count(kind scanmsg.Kind) (int64, error) {
	var n int64
	var err error
	if kind == 0 {
		err = r.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n)
	} else {
		err = r.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE kind = ?`, kind.String()).Scan(&n)
	}
	return n, err
}

// Messages returns up to limit recorded messages of sessionID and kind in
// insertion order.
func (r *Recorder) Messages(sessionID string, kind scanmsg.Kind, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(`
		SELECT id, session_id, payload, recorded_at FROM messages
		WHERE session_id = ? AND kind = ?
		ORDER BY id LIMIT ?`, sessionID, kind.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			row     Row
			payload []byte
		)
		if err := rows.Scan(&row.ID, &row.SessionID, &payload, &row.RecordedAt); err != nil {
			return nil, err
		}
		env, err := flatcodec.DecodeEnvelope(payload)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row.ID, err)
		}
		row.Kind = env.Kind
		row.Envelope = env
		out = append(out, row)
	}
	return out, rows.Err()
}

// Close closes the database. Later Record calls return ErrClosed.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.db.Close()
}
