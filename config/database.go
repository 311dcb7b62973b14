package config

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

type DatabaseConfig struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// GetDSN returns the DSN the driver is opened with. MySQL connections always
// parse DATETIME columns into time.Time in UTC.
func (c DatabaseConfig) GetDSN() (string, error) {
	if DriverName(c.Driver) != "mysql" {
		return c.DSN, nil
	}
	parsed, err := mysql.ParseDSN(c.DSN)
	if err != nil {
		return "", fmt.Errorf("error parsing mysql dsn: %w", err)
	}
	parsed.ParseTime = true
	parsed.Loc = time.UTC
	if parsed.Params == nil {
		parsed.Params = map[string]string{}
	}
	parsed.Params["time_zone"] = "'+00:00'"
	return parsed.FormatDSN(), nil
}

// DriverName maps the configured driver onto a registered database/sql name.
func DriverName(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "mysql":
		return "mysql"
	default:
		return "sqlite"
	}
}

func ConnectDatabase(ctx context.Context, cfg DatabaseConfig) (*sql.DB, error) {
	dsn, err := cfg.GetDSN()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(DriverName(cfg.Driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Configurar o pool de conexões
	if DriverName(cfg.Driver) == "sqlite" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}
	return db, nil
}
