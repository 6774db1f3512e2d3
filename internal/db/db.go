package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/birdnest/apiserver/config"
	_ "github.com/lib/pq"
)

const (
	driverName      = "postgres"
	applicationName = "birdnest-apiserver"
	pingTimeout     = 5 * time.Second
	connectTimeout  = 10 * time.Second
)

// Open connects to Postgres and verifies the connection. The returned pool is
// shared process-wide and must be closed on shutdown.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	pool, err := sql.Open(driverName, DSN(cfg))
	if err != nil {
		return nil, err
	}

	pool.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	pool.SetMaxIdleConns(cfg.MaxIdleConns)
	pool.SetMaxOpenConns(cfg.MaxOpenConns)

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return pool, nil
}

// DSN builds a lib/pq connection URL; golang-migrate accepts the same form.
func DSN(cfg config.DatabaseConfig) string {
	sslmode := "disable"
	if cfg.UseSSL {
		sslmode = "require"
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		User:   url.UserPassword(cfg.User, cfg.Password),
		Path:   cfg.DBName,
	}

	q := u.Query()
	q.Set("sslmode", sslmode)
	q.Set("application_name", applicationName)
	q.Set("connect_timeout", strconv.Itoa(int(connectTimeout.Seconds())))
	u.RawQuery = q.Encode()

	return u.String()
}
