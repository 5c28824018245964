package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/deemkeen/fedimag/domain"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

const (
	maxBusyRetries = 5
	busyBackoff    = 50 * time.Millisecond
	txTimeout      = 5 * time.Second
)

// DB implements the federation repositories on SQLite.
type DB struct {
	db   *sql.DB
	inst domain.Instance
	log  *zap.Logger
}

// Open connects to the database at path and runs the migrations.
// ":memory:" opens a private in-memory database on a single connection.
func Open(path string, inst domain.Instance, log *zap.Logger) (*DB, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("db")

	memory := path == ":memory:"
	dsn := path
	if !memory {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)" +
			"&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)&_pragma=temp_store(MEMORY)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	if memory {
		// every connection would see its own empty database
		sqlDB.SetMaxOpenConns(1)
		if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
			sqlDB.Close()
			return nil, err
		}
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	db := &DB{db: sqlDB, inst: inst, log: log}
	if err := db.RunMigrations(context.Background()); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	log.Info("DB: Database ready", zap.String("path", path))
	return db, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// wrapTransaction runs f within a transaction, starting over when SQLite
// reports the database as busy.
func (db *DB) wrapTransaction(ctx context.Context, f func(tx *sql.Tx) error) error {
	for attempt := 1; ; attempt++ {
		err := db.runTransaction(ctx, f)
		if !isBusy(err) || attempt > maxBusyRetries {
			return err
		}
		db.log.Debug("DB: Database busy, retrying transaction", zap.Int("attempt", attempt))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(busyBackoff * time.Duration(attempt)):
		}
	}
}

func (db *DB) runTransaction(ctx context.Context, f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, txTimeout)
	defer cancel()

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		db.log.Warn("DB: Failed to start transaction", zap.Error(err))
		return err
	}
	if err := f(tx); err != nil {
		tx.Rollback()
		if !errors.Is(err, domain.ErrDuplicate) && !isBusy(err) {
			db.log.Warn("DB: Error in transaction", zap.Error(err))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		db.log.Warn("DB: Failed to commit transaction", zap.Error(err))
		return err
	}
	return nil
}

func sqliteCode(err error) (int, bool) {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		return serr.Code(), true
	}
	return 0, false
}

func isBusy(err error) bool {
	code, ok := sqliteCode(err)
	return ok && (code&0xff == sqlitelib.SQLITE_BUSY || code&0xff == sqlitelib.SQLITE_LOCKED)
}

// duplicate turns unique constraint violations into domain.ErrDuplicate.
func duplicate(err error, what string) error {
	code, ok := sqliteCode(err)
	if ok && (code == sqlitelib.SQLITE_CONSTRAINT_UNIQUE || code == sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY) {
		return fmt.Errorf("%s: %w", what, domain.ErrDuplicate)
	}
	return err
}

// notFound maps sql.ErrNoRows to domain.ErrNotFound.
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// localName returns the name in a local /u/name or /m/name profile URL.
func (db *DB) localName(profileURL, prefix string) (string, bool) {
	if !db.inst.IsLocalURL(profileURL) {
		return "", false
	}
	u, err := url.Parse(profileURL)
	if err != nil || !strings.HasPrefix(u.Path, prefix) {
		return "", false
	}
	name := strings.TrimPrefix(u.Path, prefix)
	if name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}
