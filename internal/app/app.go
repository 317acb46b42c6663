package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"incidentline/internal/config"
	"incidentline/internal/db"
	"incidentline/internal/engine"
	"incidentline/internal/metrics"
	"incidentline/internal/migrate"
)

// App bundles the opened database and the engine built on top of it.
type App struct {
	DB     *sql.DB
	Engine engine.Engine
	Logger *slog.Logger
}

// Open connects to the configured database, applies pending migrations and
// returns a ready engine. Callers must Close the result.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := db.Open(db.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrate.Migrate(ctx, conn, cfg.Database.Driver); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	e := engine.New(conn, cfg)
	e.Metrics = metrics.New()
	e.Logger = logger
	logger.Debug("database ready", "driver", cfg.Database.Driver)
	return &App{DB: conn, Engine: e, Logger: logger}, nil
}

func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}
