// ABOUTME: database/sql implementation of the Store interface for MySQL and SQLite
// ABOUTME: Creates the bots table on open and seals tokens when a sealer is configured

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// Supported database drivers
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// timeLayout is accepted by both MySQL DATETIME columns and SQLite text columns.
const timeLayout = "2006-01-02 15:04:05"

// SQLStore implements Store on top of database/sql.
type SQLStore struct {
	db     *sql.DB
	driver string
	sealer *TokenSealer
	logger *slog.Logger
}

// Options configures NewSQLStore.
type Options struct {
	Driver string // DriverMySQL or DriverSQLite
	DSN    string // MySQL DSN, or the SQLite database file path
	Sealer *TokenSealer
	Logger *slog.Logger
}

// MySQLDSN builds a DSN for the mysql driver from discrete connection settings.
func MySQLDSN(host string, port int, user, password, dbName string) string {
	cfg := mysql.NewConfig()
	cfg.User = user
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	cfg.DBName = dbName
	// Report matched rather than changed rows so idempotent updates still find the row.
	cfg.ClientFoundRows = true
	return cfg.FormatDSN()
}

// NewSQLStore opens the database and creates the schema if it doesn't exist.
func NewSQLStore(ctx context.Context, opts Options) (*SQLStore, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	switch opts.Driver {
	case DriverSQLite:
		if opts.DSN != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(opts.DSN), 0755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
	case DriverMySQL:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	db, err := sql.Open(opts.Driver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if opts.Driver == DriverSQLite {
		// A single connection keeps writers from tripping over SQLITE_BUSY.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	} else {
		db.SetConnMaxLifetime(3 * time.Minute)
		db.SetMaxIdleConns(4)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &SQLStore{
		db:     db,
		driver: opts.Driver,
		sealer: opts.Sealer,
		logger: logger,
	}

	if err := s.createSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("store initialized", "driver", opts.Driver, "sealed_tokens", opts.Sealer != nil)
	return s, nil
}

// createSchema creates the bots table.
func (s *SQLStore) createSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaFor(s.driver))
	return err
}

// schemaFor returns the bots DDL. Names compare case-sensitively on both
// drivers: SQLite's default BINARY collation already does, MySQL needs an
// explicit binary collation on the key.
func schemaFor(driver string) string {
	nameType := "VARCHAR(50)"
	if driver == DriverMySQL {
		nameType += " CHARACTER SET utf8mb4 COLLATE utf8mb4_bin"
	}
	return `
		CREATE TABLE IF NOT EXISTS bots (
			name              ` + nameType + ` NOT NULL PRIMARY KEY,
			token             TEXT NOT NULL,
			enabled           BOOLEAN NOT NULL DEFAULT TRUE,
			init_presence_url TEXT,
			created_on        DATETIME NOT NULL,
			last_connected_on DATETIME,
			disabled_on       DATETIME,
			logon_error       TEXT
		)
	`
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	s.logger.Info("closing store")
	return s.db.Close()
}

// UpsertBot inserts a new identity or re-enables an existing one with a fresh token.
func (s *SQLStore) UpsertBot(ctx context.Context, name, token string, at time.Time) error {
	sealed, err := s.sealer.Seal(token)
	if err != nil {
		return fmt.Errorf("sealing token: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM bots WHERE name = ?`, name).Scan(&exists)
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO bots (name, token, enabled, created_on)
			VALUES (?, ?, ?, ?)
		`, name, sealed, true, formatTime(at))
		if err != nil {
			return fmt.Errorf("inserting bot: %w", err)
		}
		s.logger.Debug("created bot identity", "name", name)
	case err != nil:
		return fmt.Errorf("querying bot: %w", err)
	default:
		_, err = tx.ExecContext(ctx, `
			UPDATE bots
			SET token = ?, enabled = ?, disabled_on = NULL, logon_error = NULL
			WHERE name = ?
		`, sealed, true, name)
		if err != nil {
			return fmt.Errorf("re-enabling bot: %w", err)
		}
		s.logger.Debug("re-enabled bot identity", "name", name)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing bot upsert: %w", err)
	}
	return nil
}

const botColumns = `name, token, enabled, init_presence_url, created_on, last_connected_on, disabled_on, logon_error`

// GetBot retrieves a bot identity by name.
// Returns ErrNotFound if the bot doesn't exist.
func (s *SQLStore) GetBot(ctx context.Context, name string) (*Bot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+botColumns+` FROM bots WHERE name = ?`, name)
	bot, err := s.scanBot(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying bot: %w", err)
	}
	return bot, nil
}

// ListBots returns every identity ordered by name. Rows whose token cannot
// be opened with the configured key are logged and left out.
func (s *SQLStore) ListBots(ctx context.Context) ([]*Bot, error) {
	return s.listBots(ctx, `SELECT `+botColumns+` FROM bots ORDER BY name`)
}

// ListEnabledBots returns the identities that should be connected. Rows
// whose token cannot be opened are logged and left out so one bad row does
// not hide the rest.
func (s *SQLStore) ListEnabledBots(ctx context.Context) ([]*Bot, error) {
	return s.listBots(ctx, `SELECT `+botColumns+` FROM bots WHERE enabled = ? ORDER BY name`, true)
}

func (s *SQLStore) listBots(ctx context.Context, query string, args ...any) ([]*Bot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying bots: %w", err)
	}
	defer rows.Close()

	var bots []*Bot
	for rows.Next() {
		bot, err := s.scanBot(rows)
		var unreadable *unreadableTokenError
		if errors.As(err, &unreadable) {
			s.logger.Error("skipping bot with unreadable token", "name", unreadable.name, "error", unreadable.err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("scanning bot: %w", err)
		}
		bots = append(bots, bot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bots: %w", err)
	}
	return bots, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLStore) scanBot(row rowScanner) (*Bot, error) {
	var (
		bot             Bot
		sealed          string
		initURL         sql.NullString
		logonErr        sql.NullString
		createdOn       dbTime
		lastConnectedOn dbTime
		disabledOn      dbTime
	)
	if err := row.Scan(
		&bot.Name,
		&sealed,
		&bot.Enabled,
		&initURL,
		&createdOn,
		&lastConnectedOn,
		&disabledOn,
		&logonErr,
	); err != nil {
		return nil, err
	}

	token, err := s.sealer.Open(sealed)
	if err != nil {
		return nil, &unreadableTokenError{name: bot.Name, err: err}
	}
	bot.Token = token
	bot.InitPresenceURL = initURL.String
	bot.LogonError = logonErr.String
	if createdOn.Valid {
		bot.CreatedOn = createdOn.Time
	}
	bot.LastConnectedOn = lastConnectedOn.ptr()
	bot.DisabledOn = disabledOn.ptr()
	return &bot, nil
}

type unreadableTokenError struct {
	name string
	err  error
}

func (e *unreadableTokenError) Error() string {
	return fmt.Sprintf("opening token for %s: %v", e.name, e.err)
}

func (e *unreadableTokenError) Unwrap() error { return e.err }

// MarkConnected records a successful logon.
func (s *SQLStore) MarkConnected(ctx context.Context, name string, at time.Time) error {
	return s.update(ctx, "marking bot connected", `
		UPDATE bots
		SET last_connected_on = ?, logon_error = NULL, enabled = ?, disabled_on = NULL
		WHERE name = ?
	`, formatTime(at), true, name)
}

// MarkFailed records a logon or runtime failure and disables the identity.
func (s *SQLStore) MarkFailed(ctx context.Context, name, reason string, at time.Time) error {
	return s.update(ctx, "marking bot failed", `
		UPDATE bots
		SET enabled = ?, logon_error = ?, disabled_on = ?
		WHERE name = ?
	`, false, reason, formatTime(at), name)
}

// Disable clears the enabled flag after an explicit removal.
func (s *SQLStore) Disable(ctx context.Context, name string, at time.Time) error {
	return s.update(ctx, "disabling bot", `
		UPDATE bots SET enabled = ?, disabled_on = ? WHERE name = ?
	`, false, formatTime(at), name)
}

// SetInitPresenceURL stores the URL that is called after the bot connects.
func (s *SQLStore) SetInitPresenceURL(ctx context.Context, name, url string) error {
	return s.update(ctx, "setting init presence url", `
		UPDATE bots SET init_presence_url = ? WHERE name = ?
	`, url, name)
}

// update runs a single-row UPDATE and maps zero matched rows to ErrNotFound.
func (s *SQLStore) update(ctx context.Context, op, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
