package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/feedrelay/hub/config"
)

func connectToDB(cfg *config.AppConfig) (*pgxpool.Pool, error) {
	dbconfig, err := pgxpool.ParseConfig(
		fmt.Sprintf("host=%s user=%s password=%s port=%d sslmode=%s dbname=%s pool_max_conns=%d pool_min_conns=%d",
			cfg.DBHost,
			cfg.DBUsername,
			cfg.DBPassword,
			cfg.DBPort,
			cfg.DBSSLMode,
			cfg.DBName,
			cfg.DBMaxConns,
			cfg.DBMinConns,
		),
	)
	if err != nil {
		slog.Error("Failed to parse database configuration", "error", err)
		return nil, err
	}
	slog.Info("Database connection pool established",
		slog.String("host", cfg.DBHost),
		slog.Int("port", cfg.DBPort),
		slog.String("dbname", cfg.DBName),
		slog.Int("max_conns", cfg.DBMaxConns),
	)
	pool, err := pgxpool.NewWithConfig(context.Background(), dbconfig)
	return pool, err
}

func (a *Application) Close() {
	a.dbconn.Close()
}
