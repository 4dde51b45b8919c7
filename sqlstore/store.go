// Package sqlstore provides a small key-value record store backed by SQLite,
// with schema setup deferred to first use through a [lazyinit.Guard].
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/KnicKnic/lazyinit"
	"github.com/KnicKnic/lazyinit/internal"
)

var (
	// ErrClosed is returned by Store methods after the store has been closed.
	ErrClosed = errors.New("store is closed")
	// ErrNotFound is returned by Get when no record exists for the key.
	ErrNotFound = errors.New("record not found")
)

const memory = ":memory:"

// Store is a persistent key-value record store backed by SQLite.
//
// The database handle is opened eagerly, which is cheap, but the schema is
// created lazily on first use. Schema setup is coordinated by a
// [lazyinit.Guard], so concurrent first users share a single setup attempt
// and a transiently unavailable database is retried according to the
// configured setup timing instead of failing every caller differently.
type Store struct {
	cfg   *Config
	db    *sql.DB
	setup *lazyinit.Guard
}

// Open opens a store at the given file. Use ":memory:" for an in-memory
// store.
//
// Default configuration:
//   - Durable: false
//   - BusyTimeout: 5s
//   - SetupRetryWindow: 0
//   - SetupRetryInterval: 0
//
// Open does not touch the database file; the schema (and with it the file)
// is created by the first data operation.
func Open(file string, options ...Option) (*Store, error) {
	file = strings.TrimSpace(file)
	if file == "" {
		return nil, errors.New("file can't be blank")
	}
	if strings.Contains(file, "?") {
		return nil, errors.New("file can't contain ?")
	}

	cfg := newConfig(options...)
	cfg.file = file

	db, err := open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	store := Store{
		cfg: cfg,
		db:  db,
	}

	setup, err := lazyinit.New(
		store.createSchema,
		lazyinit.WithRetryWindow(cfg.setupWindow),
		lazyinit.WithRetryInterval(cfg.setupInterval),
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store.setup = setup

	return &store, nil
}

// Put inserts or replaces the record for key. The value is JSON-encoded.
//
// Returns [ErrClosed] if the store has been closed.
func (s *Store) Put(ctx context.Context, key string, value any) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`
		insert into record (
			key,
			value,
			updated_at
		) values (
			:key,
			:value,
			:updated_at
		)
		on conflict (key) do update set
			value = excluded.value,
			updated_at = excluded.updated_at
		`,
		sql.Named("key", key),
		sql.Named("value", data),
		sql.Named("updated_at", toTimestamp(time.Now())),
	)
	return closedErr(err)
}

// Get decodes the record for key into dest.
//
// Returns [ErrNotFound] if no record exists for the key.
// Returns [ErrClosed] if the store has been closed.
func (s *Store) Get(ctx context.Context, key string, dest any) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	var data []byte
	err := s.db.QueryRowContext(
		ctx,
		`select value from record where key = :key`,
		sql.Named("key", key),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return closedErr(err)
	}

	return json.Unmarshal(data, dest)
}

// Delete permanently removes the records for the given keys. Missing keys are
// ignored.
//
// Returns [ErrClosed] if the store has been closed.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	_, err := s.db.ExecContext(
		ctx,
		`
		delete from record
		where
			key in (
				select value from json_each(:keys)
			)
		`,
		sql.Named("keys", jsonKeys(keys)),
	)
	return closedErr(err)
}

// Keys returns all record keys in ascending order.
//
// Returns [ErrClosed] if the store has been closed.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(
		ctx,
		`select key from record order by key asc`,
	)
	if err != nil {
		return nil, closedErr(err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	return keys, rows.Err()
}

// Close closes the setup guard and the underlying SQLite database.
//
// After closing, all methods on Store return [ErrClosed].
func (s *Store) Close() error {
	if err := s.setup.Close(); errors.Is(err, lazyinit.ErrClosed) {
		return ErrClosed
	}
	return s.db.Close()
}

// ready runs the guarded schema setup. Setup errors reach the caller
// verbatim, so a store pointed at a broken file reports the underlying
// SQLite error on every use until the file becomes usable.
func (s *Store) ready(ctx context.Context) error {
	err := s.setup.EnsureInitialized(ctx)
	if errors.Is(err, lazyinit.ErrClosed) {
		return ErrClosed
	}
	return err
}

func (s *Store) createSchema() error {
	_, err := s.db.Exec(
		`
		create table if not exists record (
			key        text primary key,
			value      blob not null,
			updated_at integer not null
		) without rowid
		`,
	)
	return err
}

func open(cfg *Config) (*sql.DB, error) {
	params := url.Values{}
	params.Add("_txlock", "immediate")
	params.Add("_timeout", strconv.Itoa(int(cfg.busyTimeout.Milliseconds())))

	file := cfg.file
	if file == memory {
		file = internal.GenerateID()
		params.Add("mode", "memory")
		params.Add("cache", "shared")
	} else {
		params.Add("_journal", "wal")
		if cfg.durable {
			params.Add("_sync", "full")
		} else {
			params.Add("_sync", "normal")
		}
	}

	db, err := sql.Open("sqlite3", "file:"+file+"?"+params.Encode())
	if err != nil {
		return nil, err
	}

	db.SetConnMaxIdleTime(0)
	db.SetConnMaxLifetime(0)
	if params.Get("mode") == "memory" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(4)
	}

	return db, nil
}

func closedErr(err error) error {
	if err != nil && err.Error() == "sql: database is closed" {
		return ErrClosed
	}
	return err
}

func jsonKeys(keys []string) string {
	data, _ := json.Marshal(keys)
	return string(data)
}

func toTimestamp(t time.Time) int64 {
	return t.UnixMilli()
}
