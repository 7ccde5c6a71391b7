// Package sqldb is the database/sql persistence backend. It serves both the
// embedded sqlite driver and MySQL from the same repositories, switching
// only schema bootstrap and upsert syntax per dialect.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// Dialect selects driver-specific SQL
type Dialect string

const (
	DialectSQLite Dialect = "sqlite"
	DialectMySQL  Dialect = "mysql"
)

// DB wraps a database/sql handle together with its dialect
type DB struct {
	SQL     *sql.DB
	dialect Dialect
}

// OpenSQLite opens (and if necessary creates) an sqlite database file
func OpenSQLite(ctx context.Context, path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// modernc sqlite serializes writes itself; a single connection avoids
	// SQLITE_BUSY under concurrent writers
	sqlDB.SetMaxOpenConns(1)

	db := &DB{SQL: sqlDB, dialect: DialectSQLite}
	if err := db.bootstrap(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return db, nil
}

// OpenMySQL connects to a MySQL server
func OpenMySQL(ctx context.Context, dsn string) (*DB, error) {
	sqlDB, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql connection: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping mysql: %w", err)
	}

	db := &DB{SQL: sqlDB, dialect: DialectMySQL}
	if err := db.bootstrap(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return db, nil
}

// Close closes the underlying handle
func (db *DB) Close() error {
	return db.SQL.Close()
}

// Ping verifies the connection is alive
func (db *DB) Ping(ctx context.Context) error {
	return db.SQL.PingContext(ctx)
}

// Dialect returns the active dialect
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// bootstrap creates the schema if it does not exist yet
func (db *DB) bootstrap(ctx context.Context) error {
	for _, stmt := range schemaStatements(db.dialect) {
		if _, err := db.SQL.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to bootstrap schema: %w", err)
		}
	}
	return nil
}

func schemaStatements(d Dialect) []string {
	messageID := "INTEGER PRIMARY KEY AUTOINCREMENT"
	blob := "BLOB"
	// MySQL has no CREATE INDEX IF NOT EXISTS, so secondary indexes go
	// inline into the table definitions there
	messageIndex := ""
	attachmentIndex := ""
	if d == DialectMySQL {
		messageID = "BIGINT PRIMARY KEY AUTO_INCREMENT"
		blob = "LONGBLOB"
		messageIndex = ",\n\t\t\tINDEX idx_messages_conversation (conversation_id)"
		attachmentIndex = ",\n\t\t\tINDEX idx_attachments_message (message_id)"
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id CHAR(36) PRIMARY KEY,
			email VARCHAR(255) NOT NULL UNIQUE,
			password_hash VARCHAR(255) NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id CHAR(36) PRIMARY KEY,
			user_id CHAR(36),
			title VARCHAR(255) NOT NULL DEFAULT '',
			chat_model VARCHAR(255) NOT NULL DEFAULT '',
			provider VARCHAR(64) NOT NULL DEFAULT '',
			encrypted_api_key ` + blob + `,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS messages (
			id %s,
			conversation_id CHAR(36) NOT NULL,
			role VARCHAR(16) NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			reasoning_content TEXT NOT NULL,
			thinking_seconds INTEGER NOT NULL DEFAULT 0,
			supplement BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL%s
		)`, messageID, messageIndex),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS attachments (
			id CHAR(36) PRIMARY KEY,
			message_id BIGINT NOT NULL,
			type VARCHAR(16) NOT NULL DEFAULT '',
			name VARCHAR(255) NOT NULL DEFAULT '',
			preview %s,
			image %s,
			text TEXT NOT NULL,
			storage_suffix VARCHAR(32) NOT NULL DEFAULT ''%s
		)`, blob, blob, attachmentIndex),
	}

	if d == DialectSQLite {
		stmts = append(stmts,
			`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id)`,
			`CREATE INDEX IF NOT EXISTS idx_attachments_message ON attachments (message_id)`,
		)
	}

	return stmts
}
