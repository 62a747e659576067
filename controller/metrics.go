package controller

import (
	"github.com/prometheus/client_golang/prometheus"

	"twitter-social/config/db"
)

type Metrics struct {
	SuccessfulRequests *prometheus.CounterVec
	BadRequests        *prometheus.CounterVec
	FollowRequests     *prometheus.CounterVec
	UnfollowRequests   *prometheus.CounterVec
}

// NewMetrics registers the request counters and, when pool is non-nil, the
// connection pool gauges on reg.
func NewMetrics(reg prometheus.Registerer, pool *db.Pool) *Metrics {
	m := &Metrics{
		SuccessfulRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "successful_request",
				Help: "Total number of successful (2xx) HTTP requests",
			},
			[]string{"path"},
		),
		BadRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unsuccessful_request",
				Help: "Total number of unsuccessful (4xx and 5xx) HTTP requests",
			},
			[]string{"path"},
		),
		FollowRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "successful_follows",
				Help: "Total number of successful follow requests",
			},
			[]string{"outcome"},
		),
		UnfollowRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "successful_unfollows",
				Help: "Total number of successful unfollow requests",
			},
			[]string{"outcome"},
		),
	}

	reg.MustRegister(m.SuccessfulRequests)
	reg.MustRegister(m.BadRequests)
	reg.MustRegister(m.FollowRequests)
	reg.MustRegister(m.UnfollowRequests)

	if pool != nil {
		reg.MustRegister(poolGauge("db_pool_connections", "Open database connections", func(s db.Stats) int32 { return s.Total }, pool))
		reg.MustRegister(poolGauge("db_pool_idle_connections", "Idle database connections", func(s db.Stats) int32 { return s.Idle }, pool))
		reg.MustRegister(poolGauge("db_pool_acquired_connections", "Database connections in use", func(s db.Stats) int32 { return s.Acquired }, pool))
		reg.MustRegister(poolGauge("db_pool_max_connections", "Maximum database connections", func(s db.Stats) int32 { return s.Max }, pool))
	}
	return m
}

func poolGauge(name, help string, read func(db.Stats) int32, pool *db.Pool) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		func() float64 { return float64(read(pool.Stat())) },
	)
}
