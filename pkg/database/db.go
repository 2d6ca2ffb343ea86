package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Queryer is the part of sqlx shared by *sqlx.DB and *sqlx.Tx that the repositories use.
type Queryer interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type DB interface {
	Queryer
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
	PingContext(ctx context.Context) error
	Close() error
	GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, Tx, error)
	// Executor returns the transaction carried by ctx when one is open, otherwise the pool.
	Executor(ctx context.Context) Queryer
}

type DatabaseInstance struct {
	*sqlx.DB
	logger ectologger.Logger
}

func NewDatabaseInstance(db *sqlx.DB, logger ectologger.Logger) DB {
	return &DatabaseInstance{
		DB:     db,
		logger: logger,
	}
}

func (db *DatabaseInstance) GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, Tx, error) {
	return GetTx(ctx, db.logger, db, opts)
}

func (db *DatabaseInstance) Executor(ctx context.Context) Queryer {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return db.DB
}

// Config describes a postgres connection pool.
type Config struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// Connect opens a pool against postgres and verifies it with a ping.
func Connect(ctx context.Context, cfg Config, logger ectologger.Logger) (DB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.WithContext(ctx).WithFields(map[string]any{
		"host": cfg.Host,
		"name": cfg.Name,
	}).Info("Connected to database")

	return NewDatabaseInstance(db, logger), nil
}
