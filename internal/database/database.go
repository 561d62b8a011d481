package database

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"
)

// MaxOpenConns caps the primary pool.
const MaxOpenConns = 10

// OpenDB creates the primary Read/Write connection pool.
func OpenDB(dsn string) (*sql.DB, error) {
	return OpenDBWithDSN(dsn, MaxOpenConns)
}

// OpenDBWithDSN creates and configures a connection pool for any DSN.
// It is used for both the primary and the read-only (assistant) pools.
func OpenDBWithDSN(dsn string, maxOpen int) (*sql.DB, error) {
	// 1. Open a new connection pool.
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	// 2. Configure the pool.
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxLifetime(5 * time.Minute)

	// 3. Ping to verify the connection.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Int("max_open_conns", maxOpen).Msg("database connection pool established")
	return db, nil
}
