package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect registration
	"github.com/doug-martin/goqu/v9/exp"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

const (
	dialectSQLite   = "sqlite3"
	dialectPostgres = "postgres"
	sqlDriverPgx    = "pgx"

	timeLayout = "2006-01-02T15:04:05.000000000Z"

	metaBootstrapAdmin = "bootstrap_admin"

	tblMeta         = "meta"
	tblBooks        = "books"
	tblMembers      = "members"
	tblCopies       = "book_copies"
	tblLoans        = "loans"
	tblReservations = "reservations"

	logMsgStoreConflict = "store conflict, retrying"
	logMsgStoreFailure  = "store operation failed"
	logAttrAttempt      = "attempt"
	logAttrError        = "error"
)

// Database is the relational Store backing the engine. It speaks SQLite
// through mattn/go-sqlite3 and Postgres through pgx.
type Database struct {
	db      *sqlx.DB
	driver  string
	dialect goqu.DialectWrapper
	logger  *slog.Logger
	metrics *Metrics
	timeout time.Duration
	retry   []RetryOption
}

var _ Store = (*Database)(nil)

// DatabaseOption configures a Database.
type DatabaseOption func(*Database)

// WithLogger sets the logger used for retries and store failures.
func WithLogger(logger *slog.Logger) DatabaseOption {
	return func(d *Database) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics records store retries on m.
func WithMetrics(m *Metrics) DatabaseOption {
	return func(d *Database) { d.metrics = m }
}

// WithTimeout bounds every unit of work. Zero disables the bound.
func WithTimeout(timeout time.Duration) DatabaseOption {
	return func(d *Database) { d.timeout = timeout }
}

// WithRetryOptions tunes the conflict retry loop.
func WithRetryOptions(options ...RetryOption) DatabaseOption {
	return func(d *Database) { d.retry = append(d.retry, options...) }
}

// NewDatabase opens (or creates) the SQLite database at dbPath and applies
// schema migrations.
func NewDatabase(dbPath string, options ...DatabaseOption) (*Database, error) {
	return OpenDatabase(context.Background(), DriverSQLite, dbPath, options...)
}

// OpenDatabase connects to driver at dsn and applies schema migrations. For
// SQLite the dsn is a file path.
func OpenDatabase(ctx context.Context, driver, dsn string, options ...DatabaseOption) (*Database, error) {
	d := &Database{
		driver:  driver,
		logger:  slog.New(slog.DiscardHandler),
		timeout: 5 * time.Second,
	}
	for _, opt := range options {
		opt(d)
	}

	var err error
	switch driver {
	case DriverSQLite:
		d.dialect = goqu.Dialect(dialectSQLite)
		d.db, err = openSQLite(dsn)
	case DriverPostgres:
		d.dialect = goqu.Dialect(dialectPostgres)
		d.db, err = sqlx.Open(sqlDriverPgx, dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, err
	}

	if err := d.db.PingContext(ctx); err != nil {
		d.db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if err := d.applyMigrations(ctx); err != nil {
		d.db.Close()
		return nil, err
	}
	return d, nil
}

func openSQLite(dbPath string) (*sqlx.DB, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	// Writers take the lock at BEGIN so check-then-write sequences serialize.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_txlock=immediate", dbPath)
	db, err := sqlx.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return db, nil
}

// Close closes the DB.
func (d *Database) Close() error { return d.db.Close() }

// Driver returns the driver name the database was opened with.
func (d *Database) Driver() string { return d.driver }

// ---------------------------------------------------------------------------
// Units of work
// ---------------------------------------------------------------------------

// Atomic runs fn inside a transaction, retrying the whole unit when it loses
// a race against a concurrent writer. Business errors returned by fn roll
// back and are returned unchanged.
func (d *Database) Atomic(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	options := append([]RetryOption{WithRetryHook(d.onRetry)}, d.retry...)
	err := retryOnConflict(ctx, func(ctx context.Context) error {
		tx, err := d.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		if err := fn(ctx, d.repo(tx, true)); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		return nil
	}, options...)
	d.logFailure(err)
	return err
}

// View runs fn against the database outside a transaction.
func (d *Database) View(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	err := fn(ctx, d.repo(d.db, false))
	if err != nil {
		err = classifyStoreError(err)
	}
	d.logFailure(err)
	return err
}

func (d *Database) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.timeout)
}

func (d *Database) onRetry(attempt int, err error) {
	d.logger.Debug(logMsgStoreConflict, logAttrAttempt, attempt, logAttrError, err)
	d.metrics.storeRetry()
}

func (d *Database) logFailure(err error) {
	if err == nil {
		return
	}
	var e *Error
	if errors.As(err, &e) && e.Reason == ReasonStoreUnavailable {
		d.logger.Error(logMsgStoreFailure, logAttrError, err)
	}
}

func (d *Database) repo(ext sqlx.ExtContext, inTx bool) *sqlRepository {
	return &sqlRepository{
		ext:     ext,
		dialect: d.dialect,
		lock:    inTx && d.driver == DriverPostgres,
	}
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS books (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		author TEXT NOT NULL,
		isbn TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS members (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		tier TEXT NOT NULL DEFAULT 'STANDARD',
		role TEXT NOT NULL DEFAULT 'MEMBER',
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		max_books_allowed INTEGER NOT NULL,
		password_hash TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS book_copies (
		id TEXT PRIMARY KEY,
		book_id TEXT NOT NULL REFERENCES books(id),
		copy_number TEXT NOT NULL,
		status TEXT NOT NULL,
		location TEXT NOT NULL DEFAULT '',
		version BIGINT NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		UNIQUE (book_id, copy_number)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_book_copies_book_status ON book_copies (book_id, status, copy_number)`,
	`CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		book_copy_id TEXT NOT NULL REFERENCES book_copies(id),
		member_id TEXT NOT NULL REFERENCES members(id),
		issue_date TEXT NOT NULL,
		due_date TEXT NOT NULL,
		return_date TEXT,
		status TEXT NOT NULL,
		fine_amount TEXT NOT NULL DEFAULT '0'
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_loans_one_issued_per_copy ON loans (book_copy_id) WHERE status = 'ISSUED'`,
	`CREATE INDEX IF NOT EXISTS idx_loans_member_status ON loans (member_id, status)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		book_id TEXT NOT NULL REFERENCES books(id),
		member_id TEXT NOT NULL REFERENCES members(id),
		reservation_date TEXT NOT NULL,
		expiry_date TEXT NOT NULL,
		status TEXT NOT NULL,
		held_copy_id TEXT REFERENCES book_copies(id)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_reservations_one_pending ON reservations (book_id, member_id) WHERE status = 'PENDING'`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_queue ON reservations (book_id, status, reservation_date, id)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_held_copy ON reservations (held_copy_id)`,
}

func (d *Database) applyMigrations(ctx context.Context) error {
	if d.driver == DriverSQLite {
		// WAL improves write concurrency.
		if _, err := d.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("enable WAL: %w", err)
		}
	}

	if _, err := d.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT)`); err != nil {
		return fmt.Errorf("create meta: %w", err)
	}

	var current string
	err := d.db.QueryRowxContext(ctx, d.db.Rebind(`SELECT value FROM meta WHERE key = ?`), "schema_version").Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read schema version: %w", err)
	}
	if v, _ := strconv.Atoi(strings.TrimSpace(current)); v >= schemaVersion {
		return nil
	}

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	upsert := tx.Rebind(`INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`)
	if _, err := tx.ExecContext(ctx, upsert, "schema_version", strconv.Itoa(schemaVersion)); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Query helpers
// ---------------------------------------------------------------------------

type sqlBuilder interface {
	ToSQL() (string, []interface{}, error)
}

// sqlRepository implements Repository over a connection or a transaction.
type sqlRepository struct {
	ext     sqlx.ExtContext
	dialect goqu.DialectWrapper
	lock    bool
}

var _ Repository = (*sqlRepository)(nil)

func (r *sqlRepository) from(table any) *goqu.SelectDataset {
	return r.dialect.From(table).Prepared(true)
}

// forUpdate locks the selected rows when running inside a Postgres
// transaction. SQLite already holds the write lock from BEGIN IMMEDIATE.
func (r *sqlRepository) forUpdate(ds *goqu.SelectDataset) *goqu.SelectDataset {
	if r.lock {
		return ds.ForUpdate(exp.Wait)
	}
	return ds
}

func (r *sqlRepository) get(ctx context.Context, dest any, q sqlBuilder) error {
	query, args, err := q.ToSQL()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if err := sqlx.GetContext(ctx, r.ext, dest, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNoRecord
		}
		return err
	}
	return nil
}

func (r *sqlRepository) selectAll(ctx context.Context, dest any, q sqlBuilder) error {
	query, args, err := q.ToSQL()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return sqlx.SelectContext(ctx, r.ext, dest, query, args...)
}

func (r *sqlRepository) exec(ctx context.Context, q sqlBuilder) (int64, error) {
	query, args, err := q.ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	res, err := r.ext.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *sqlRepository) count(ctx context.Context, ds *goqu.SelectDataset) (int, error) {
	var n int
	if err := r.get(ctx, &n, ds.Select(goqu.COUNT(goqu.Star()))); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *sqlRepository) exists(ctx context.Context, ds *goqu.SelectDataset) (bool, error) {
	n, err := r.count(ctx, ds.Limit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func paginate(ds *goqu.SelectDataset, p Page) *goqu.SelectDataset {
	return ds.Limit(uint(p.Size)).Offset(uint(p.offset()))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
