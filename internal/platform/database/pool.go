package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"regdesk/internal/platform/config"
)

var (
	poolOpenConns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "regdesk_db_pool_open_conns",
		Help: "Open connections to Postgres, in use or idle",
	})
	poolInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "regdesk_db_pool_in_use_conns",
		Help: "Postgres connections currently running a query",
	})
	poolWaits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "regdesk_db_pool_waits_total",
		Help: "Times a query waited for a free connection",
	})
)

// Pool is the pgx-backed *sql.DB shared by the registrations store and the
// notification outbox.
type Pool struct {
	db        *sql.DB
	lastWaits int64
}

// New opens the pool and pings it. Returns nil, nil when no URL is configured,
// which selects the file or in-memory record backends.
func New(ctx context.Context, cfg config.DatabaseConfig) (*Pool, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close() //nolint:errcheck // best-effort cleanup on init failure
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Pool{db: db}, nil
}

func (p *Pool) DB() *sql.DB {
	return p.db
}

// Health is registered as the "database" readiness check.
func (p *Pool) Health(ctx context.Context) error {
	if p == nil || p.db == nil {
		return fmt.Errorf("database not configured")
	}
	return p.db.PingContext(ctx)
}

// RecordStats copies sql.DBStats into Prometheus.
func (p *Pool) RecordStats() {
	stats := p.db.Stats()
	poolOpenConns.Set(float64(stats.OpenConnections))
	poolInUse.Set(float64(stats.InUse))
	if stats.WaitCount > p.lastWaits {
		poolWaits.Add(float64(stats.WaitCount - p.lastWaits))
	}
	p.lastWaits = stats.WaitCount
}

// RunStats records pool statistics every interval until ctx is done.
func (p *Pool) RunStats(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.RecordStats()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Pool) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}
