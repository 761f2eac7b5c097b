// Package backend is the relational store behind the gateway: one shared
// sqlx handle over MySQL or SQLite.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/c360/gqlpool/errors"
	"github.com/c360/gqlpool/schema"
	"github.com/c360/gqlpool/translate"
)

// Dialect selects the driver and the bootstrap steps that apply.
type Dialect string

// Supported dialects
const (
	MySQL  Dialect = "mysql"
	SQLite Dialect = "sqlite"
)

// Config describes how to reach the store.
type Config struct {
	Driver   Dialect
	DSN      string
	Database string

	// CreateDatabase creates Database on the server before connecting to it.
	// Ignored for SQLite, where the DSN names the database file.
	CreateDatabase bool
}

// Store executes statements against the working database. All connections
// share its single handle.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
	logger  *slog.Logger
}

// Open connects to the store described by cfg.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var dsn string
	switch cfg.Driver {
	case MySQL:
		mcfg, err := mysql.ParseDSN(cfg.DSN)
		if err != nil {
			return nil, errors.WrapFatal(errors.Join(errors.ErrInvalidConfig, err), "Store", "Open", "parse MySQL DSN")
		}
		if cfg.Database != "" {
			if cfg.CreateDatabase {
				if err := createDatabase(ctx, mcfg, cfg.Database); err != nil {
					return nil, err
				}
			}
			mcfg.DBName = cfg.Database
		}
		dsn = mcfg.FormatDSN()
	case SQLite:
		dsn = cfg.DSN
	default:
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: unsupported driver %q", errors.ErrInvalidConfig, cfg.Driver),
			"Store", "Open", "select driver")
	}

	db, err := sqlx.ConnectContext(ctx, string(cfg.Driver), dsn)
	if err != nil {
		return nil, errors.WrapFatal(errors.Join(errors.ErrBackend, err), "Store", "Open", "connect")
	}

	logger.Info("Connected to backend store", "driver", cfg.Driver, "database", cfg.Database)
	return New(db, cfg.Driver, logger), nil
}

// New wraps an existing handle. The handle is limited to one open
// connection: requests reach the store one at a time, and an in-memory
// SQLite database lives only as long as its connection.
func New(db *sqlx.DB, dialect Dialect, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return &Store{
		db:      db,
		dialect: dialect,
		logger:  logger.With("component", "backend", "driver", string(dialect)),
	}
}

func createDatabase(ctx context.Context, mcfg *mysql.Config, name string) error {
	server := mcfg.Clone()
	server.DBName = ""

	db, err := sqlx.ConnectContext(ctx, string(MySQL), server.FormatDSN())
	if err != nil {
		return errors.WrapFatal(errors.Join(errors.ErrBackend, err), "Store", "Open", "connect to server")
	}
	defer db.Close()

	stmt := translate.CreateDatabase(name)
	if _, err := db.ExecContext(ctx, stmt.SQL); err != nil {
		return errors.WrapFatal(errors.Join(errors.ErrBackend, err), "Store", "Open", "create database")
	}
	return nil
}

// Dialect returns the store's dialect.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// DB exposes the underlying handle.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Ping checks the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.WrapTransient(errors.Join(errors.ErrBackend, err), "Store", "Ping", "ping store")
	}
	return nil
}

// Query runs a SELECT and returns its rows keyed by column name.
func (s *Store) Query(ctx context.Context, stmt translate.Statement) ([]translate.Row, error) {
	s.logger.Debug("Query", "sql", stmt.SQL, "args", len(stmt.Args))

	rows, err := s.db.QueryxContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, errors.WrapTransient(errors.Join(errors.ErrBackend, err), "Store", "Query", "run select")
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, errors.WrapTransient(errors.Join(errors.ErrBackend, err), "Store", "Query", "read column types")
	}

	var out []translate.Row
	for rows.Next() {
		row := make(map[string]interface{}, len(types))
		if err := rows.MapScan(row); err != nil {
			return nil, errors.WrapTransient(errors.Join(errors.ErrBackend, err), "Store", "Query", "scan row")
		}
		for _, ct := range types {
			row[ct.Name()] = normalize(row[ct.Name()], ct.DatabaseTypeName())
		}
		out = append(out, translate.Row(row))
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapTransient(errors.Join(errors.ErrBackend, err), "Store", "Query", "iterate rows")
	}
	return out, nil
}

// Exec runs statements in one transaction and returns the total number of
// affected rows.
func (s *Store) Exec(ctx context.Context, stmts ...translate.Statement) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, errors.WrapTransient(errors.Join(errors.ErrBackend, err), "Store", "Exec", "begin transaction")
	}

	var affected int64
	for _, stmt := range stmts {
		s.logger.Debug("Exec", "sql", stmt.SQL, "args", len(stmt.Args))

		res, err := tx.ExecContext(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Warn("Rollback failed", "error", rbErr)
			}
			return 0, errors.WrapTransient(errors.Join(errors.ErrBackend, err), "Store", "Exec", "execute statement")
		}
		if n, err := res.RowsAffected(); err == nil {
			affected += n
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.WrapTransient(errors.Join(errors.ErrBackend, err), "Store", "Exec", "commit transaction")
	}
	return affected, nil
}

// Bootstrap creates the tables of h. It is safe to run against a database
// that already has them.
func (s *Store) Bootstrap(ctx context.Context, h *schema.Handle) error {
	var stmts []translate.Statement
	if s.dialect == MySQL {
		stmts = append(stmts, translate.UseDatabase(h.Database))
	}
	stmts = append(stmts, translate.Bootstrap(h)...)

	for _, stmt := range stmts {
		s.logger.Debug("Bootstrap", "sql", stmt.SQL)
		if _, err := s.db.ExecContext(ctx, stmt.SQL); err != nil {
			return errors.WrapFatal(errors.Join(errors.ErrBackend, err), "Store", "Bootstrap",
				fmt.Sprintf("execute %q", stmt.SQL))
		}
	}

	s.logger.Info("Bootstrapped schema", "database", h.Database, "tables", len(h.Tables))
	return nil
}

// Destroy removes the working database, or every table of h where the
// dialect has no databases.
func (s *Store) Destroy(ctx context.Context, h *schema.Handle) error {
	var stmts []translate.Statement
	switch s.dialect {
	case MySQL:
		stmts = []translate.Statement{translate.DropDatabase(h.Database)}
	default:
		stmts = translate.DropTables(h)
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt.SQL); err != nil {
			return errors.WrapTransient(errors.Join(errors.ErrBackend, err), "Store", "Destroy",
				fmt.Sprintf("execute %q", stmt.SQL))
		}
	}

	s.logger.Info("Destroyed database", "database", h.Database)
	return nil
}

// Close releases the handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// normalize converts driver values into JSON-friendly Go values. MySQL
// returns every column as bytes over the text protocol.
func normalize(v interface{}, dbType string) interface{} {
	b, ok := v.([]byte)
	if !ok {
		if f, isFloat := v.(float64); isFloat && isIntegerType(dbType) {
			return int64(f)
		}
		return v
	}

	s := string(b)
	switch {
	case isIntegerType(dbType):
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	case isFloatType(dbType):
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return s
}

func isIntegerType(t string) bool {
	t = strings.ToUpper(t)
	return strings.Contains(t, "INT") || t == "BOOLEAN" || t == "BOOL"
}

func isFloatType(t string) bool {
	switch strings.ToUpper(t) {
	case "DOUBLE", "FLOAT", "REAL", "DECIMAL", "NUMERIC":
		return true
	}
	return false
}

var _ translate.Querier = (*Store)(nil)
