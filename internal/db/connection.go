// Package db contains code for connecting to the database.
package db

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hirewire/pipeline-server/internal/config"
	"github.com/hirewire/pipeline-server/internal/logger"
)

const (
	defaultMaxConns        = 25
	defaultConnMaxLifetime = 5 * time.Minute
	defaultConnectTimeout  = 10 * time.Second
	defaultPingInterval    = 15 * time.Second
)

// Connection wraps the database connection pool
type Connection struct {
	Pool *pgxpool.Pool
}

// NewConnection creates a new database connection pool from the provided configuration
func NewConnection(ctx context.Context, cfg *config.DatabaseConfig) (*Connection, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration is required")
	}

	connString, err := cfg.GetConnectionString()
	if err != nil {
		return nil, fmt.Errorf("failed to build connection string: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection config: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns == 0 {
		maxConns = defaultMaxConns
	}
	poolCfg.MaxConns = maxConns

	connMaxLifetime := defaultConnMaxLifetime
	if cfg.ConnMaxLifetime != "" {
		duration, err := time.ParseDuration(cfg.ConnMaxLifetime)
		if err != nil {
			return nil, fmt.Errorf("invalid connection max lifetime: %w", err)
		}
		connMaxLifetime = duration
	}
	poolCfg.MaxConnLifetime = connMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Infof("Connected to database %s@%s:%d/%s", cfg.User, cfg.Host, cfg.Port, cfg.Database)

	return &Connection{Pool: pool}, nil
}

// Close closes the connection pool
func (c *Connection) Close() {
	if c.Pool != nil {
		c.Pool.Close()
	}
}

// HealthCheck verifies the database connection is alive
func (c *Connection) HealthCheck(ctx context.Context) error {
	if c.Pool == nil {
		return fmt.Errorf("database connection not initialized")
	}
	return c.Pool.Ping(ctx)
}

// Pinger tracks database reachability by pinging the pool on an interval.
// Online reports the result of the most recent probe.
type Pinger struct {
	pool     *pgxpool.Pool
	interval time.Duration
	online   atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewPinger creates a Pinger and marks it online until the first probe
// says otherwise.
func NewPinger(pool *pgxpool.Pool) *Pinger {
	p := &Pinger{
		pool:     pool,
		interval: defaultPingInterval,
		done:     make(chan struct{}),
	}
	p.online.Store(true)
	return p
}

// Start begins the background probe loop.
func (p *Pinger) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				p.probe(runCtx)
			}
		}
	}()
}

// Stop terminates the probe loop and waits for it to exit.
func (p *Pinger) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

// Online reports whether the most recent probe succeeded.
func (p *Pinger) Online() bool {
	return p.online.Load()
}

func (p *Pinger) probe(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := p.pool.Ping(pingCtx)
	was := p.online.Swap(err == nil)
	if err != nil && was {
		logger.Warnf("Database unreachable, mutations will be rejected: %v", err)
	} else if err == nil && !was {
		logger.Infof("Database connection restored")
	}
}
