// Package db manages the bounded pool of database connections shared by
// every request handler.
package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/puddle/v2"
	"github.com/sirupsen/logrus"

	"twitter-social/model"
	"twitter-social/store"
)

var ErrPoolClosed = errors.New("connection pool is closed")

type Config struct {
	Max              int32
	Min              int32
	IdleTimeout      time.Duration
	AcquireTimeout   time.Duration
	ValidateTimeout  time.Duration
	EvictionInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Max:             10,
		Min:             1,
		IdleTimeout:     30 * time.Second,
		AcquireTimeout:  30 * time.Second,
		ValidateTimeout: 2 * time.Second,
	}
}

func (c Config) validate() error {
	if c.Max < 1 {
		return fmt.Errorf("pool max must be at least 1, got %d", c.Max)
	}
	if c.Min < 0 || c.Min > c.Max {
		return fmt.Errorf("pool min must be between 0 and max (%d), got %d", c.Max, c.Min)
	}
	if c.AcquireTimeout <= 0 {
		return fmt.Errorf("pool acquire timeout must be positive")
	}
	return nil
}

type Pool struct {
	res    *puddle.Pool[store.Backend]
	cfg    Config
	log    logrus.FieldLogger
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewPool creates the pool, opens Min connections and starts the idle
// evictor. The caller owns the pool and must Close it.
func NewPool(ctx context.Context, connector store.Connector, cfg Config, log logrus.FieldLogger) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.ValidateTimeout <= 0 {
		cfg.ValidateTimeout = 2 * time.Second
	}
	if cfg.EvictionInterval <= 0 {
		cfg.EvictionInterval = evictionInterval(cfg.IdleTimeout)
	}

	res, err := puddle.NewPool(&puddle.Config[store.Backend]{
		Constructor: func(ctx context.Context) (store.Backend, error) {
			b, err := connector.Connect(ctx)
			if err != nil {
				log.WithError(err).Error("Failed to open database connection")
				return nil, err
			}
			log.Debug("Database connection opened")
			return b, nil
		},
		Destructor: func(b store.Backend) {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.ValidateTimeout)
			defer cancel()
			if err := b.Close(ctx); err != nil {
				log.WithError(err).Warn("Failed to close database connection")
			}
		},
		MaxSize: cfg.Max,
	})
	if err != nil {
		return nil, err
	}

	p := &Pool{res: res, cfg: cfg, log: log, done: make(chan struct{})}
	if err := p.fillMin(ctx); err != nil {
		res.Close()
		return nil, fmt.Errorf("warm connection pool: %w", err)
	}

	evictCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.evictLoop(evictCtx)
	return p, nil
}

// Acquire hands out an exclusive, validated connection. It waits at most
// AcquireTimeout for a free slot and then fails with model.ErrPoolTimeout.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	actx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	for {
		r, err := p.res.Acquire(actx)
		if err != nil {
			switch {
			case errors.Is(err, puddle.ErrClosedPool):
				return nil, ErrPoolClosed
			case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
				return nil, fmt.Errorf("%w after %s", model.ErrPoolTimeout, p.cfg.AcquireTimeout)
			default:
				return nil, fmt.Errorf("acquire connection: %w", err)
			}
		}

		if err := p.check(actx, r.Value()); err != nil {
			p.log.WithError(err).Warn("Discarding connection that failed validation")
			r.Destroy()
			continue
		}
		return &Conn{Backend: r.Value(), res: r}, nil
	}
}

func (p *Pool) check(ctx context.Context, b store.Backend) error {
	vctx, cancel := context.WithTimeout(ctx, p.cfg.ValidateTimeout)
	defer cancel()
	return b.Ping(vctx)
}

type Stats struct {
	Total    int32
	Idle     int32
	Acquired int32
	Max      int32
}

func (p *Pool) Stat() Stats {
	s := p.res.Stat()
	return Stats{
		Total:    s.TotalResources(),
		Idle:     s.IdleResources(),
		Acquired: s.AcquiredResources(),
		Max:      s.MaxResources(),
	}
}

// Close stops the evictor and closes every connection. It blocks until all
// acquired connections have been released.
func (p *Pool) Close() {
	p.once.Do(func() {
		if p.cancel != nil {
			p.cancel()
			<-p.done
		}
		p.res.Close()
		p.log.Info("Connection pool closed")
	})
}

func (p *Pool) fillMin(ctx context.Context) error {
	for p.res.Stat().TotalResources() < p.cfg.Min {
		if err := p.res.CreateResource(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pool) evictLoop(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.cfg.EvictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.evictIdle()
			if err := p.fillMin(ctx); err != nil && ctx.Err() == nil {
				p.log.WithError(err).Warn("Failed to keep minimum connections open")
			}
		}
	}
}

func (p *Pool) evictIdle() {
	if p.cfg.IdleTimeout <= 0 {
		return
	}
	idle := p.res.AcquireAllIdle()
	total := p.res.Stat().TotalResources()
	evicted := 0
	for _, r := range idle {
		if r.IdleDuration() > p.cfg.IdleTimeout && total > p.cfg.Min {
			r.Destroy()
			total--
			evicted++
			continue
		}
		r.ReleaseUnused()
	}
	if evicted > 0 {
		p.log.WithField("evicted", evicted).Debug("Evicted idle connections")
	}
}

func evictionInterval(idle time.Duration) time.Duration {
	if idle <= 0 {
		return time.Second
	}
	if iv := idle / 2; iv > 10*time.Millisecond {
		return iv
	}
	return 10 * time.Millisecond
}

// Conn is an acquired connection. Release must be called on every path; it
// is safe to call more than once.
type Conn struct {
	store.Backend
	res  *puddle.Resource[store.Backend]
	once sync.Once
}

func (c *Conn) Release() {
	c.once.Do(c.res.Release)
}
