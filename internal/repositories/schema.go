package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type Dialect string

const (
	DialectMySQL  Dialect = "mysql"
	DialectSQLite Dialect = "sqlite"
)

func ParseDialect(driver string) (Dialect, error) {
	switch Dialect(strings.ToLower(driver)) {
	case DialectMySQL:
		return DialectMySQL, nil
	case DialectSQLite, "sqlite3":
		return DialectSQLite, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", driver)
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS prospects (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		phone VARCHAR(20) NOT NULL,
		name VARCHAR(255) NOT NULL DEFAULT '',
		company VARCHAR(255) NOT NULL DEFAULT '',
		sector VARCHAR(255) NOT NULL DEFAULT '',
		city VARCHAR(255) NOT NULL DEFAULT '',
		website VARCHAR(512) NOT NULL DEFAULT '',
		status VARCHAR(32) NOT NULL,
		contact_count INT NOT NULL DEFAULT 0,
		next_contact_at DATETIME(6) NULL,
		last_template VARCHAR(64) NULL,
		external_contact_id VARCHAR(64) NULL,
		board_card_id VARCHAR(64) NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		first_contact_at DATETIME(6) NULL,
		last_contact_at DATETIME(6) NULL,
		responded_at DATETIME(6) NULL,
		declined_at DATETIME(6) NULL,
		UNIQUE KEY uq_prospects_phone (phone),
		KEY idx_prospects_status_created (status, created_at),
		KEY idx_prospects_status_next (status, next_contact_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS message_logs (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		prospect_id VARCHAR(36) NOT NULL,
		direction VARCHAR(16) NOT NULL,
		content TEXT NOT NULL,
		sent_at DATETIME(6) NOT NULL,
		KEY idx_message_logs_prospect (prospect_id, sent_at),
		CONSTRAINT fk_message_logs_prospect FOREIGN KEY (prospect_id) REFERENCES prospects (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS agent_state (
		id TINYINT NOT NULL PRIMARY KEY,
		messages_sent_today INT NOT NULL DEFAULT 0,
		current_day VARCHAR(10) NOT NULL DEFAULT '',
		last_heartbeat DATETIME(6) NULL,
		last_active DATETIME(6) NULL,
		is_active TINYINT(1) NOT NULL DEFAULT 1,
		version BIGINT NOT NULL DEFAULT 0,
		updated_at DATETIME(6) NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS prospects (
		id TEXT NOT NULL PRIMARY KEY,
		phone TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		company TEXT NOT NULL DEFAULT '',
		sector TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		website TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		contact_count INTEGER NOT NULL DEFAULT 0,
		next_contact_at DATETIME NULL,
		last_template TEXT NULL,
		external_contact_id TEXT NULL,
		board_card_id TEXT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		first_contact_at DATETIME NULL,
		last_contact_at DATETIME NULL,
		responded_at DATETIME NULL,
		declined_at DATETIME NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_prospects_status_created ON prospects (status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_prospects_status_next ON prospects (status, next_contact_at)`,
	`CREATE TABLE IF NOT EXISTS message_logs (
		id TEXT NOT NULL PRIMARY KEY,
		prospect_id TEXT NOT NULL REFERENCES prospects (id),
		direction TEXT NOT NULL,
		content TEXT NOT NULL,
		sent_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_message_logs_prospect ON message_logs (prospect_id, sent_at)`,
	`CREATE TABLE IF NOT EXISTS agent_state (
		id INTEGER NOT NULL PRIMARY KEY,
		messages_sent_today INTEGER NOT NULL DEFAULT 0,
		current_day TEXT NOT NULL DEFAULT '',
		last_heartbeat DATETIME NULL,
		last_active DATETIME NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		version INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL
	)`,
}

// Migrate creates the tables used by the SQL repositories. It is idempotent.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	schema := mysqlSchema
	if dialect == DialectSQLite {
		schema = sqliteSchema
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("error running migration: %w", err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
