package database

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
)

// PoolCollector 在抓取时读取 sql.DB 连接池统计
type PoolCollector struct {
	db *sql.DB

	connections   *prometheus.Desc
	waitCount     *prometheus.Desc
	waitDuration  *prometheus.Desc
	closedByLimit *prometheus.Desc
}

// NewPoolCollector 创建连接池指标收集器
func NewPoolCollector(db *sql.DB) *PoolCollector {
	return &PoolCollector{
		db: db,
		connections: prometheus.NewDesc(
			"rag_database_connections",
			"Number of database connections by state",
			[]string{"state"}, nil,
		),
		waitCount: prometheus.NewDesc(
			"rag_database_wait_total",
			"Total number of connections waited for",
			nil, nil,
		),
		waitDuration: prometheus.NewDesc(
			"rag_database_wait_seconds_total",
			"Total time blocked waiting for a new connection",
			nil, nil,
		),
		closedByLimit: prometheus.NewDesc(
			"rag_database_closed_connections_total",
			"Connections closed by pool limits",
			[]string{"reason"}, nil,
		),
	}
}

func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connections
	ch <- c.waitCount
	ch <- c.waitDuration
	ch <- c.closedByLimit
}

func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.db.Stats()

	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(stats.Idle), "idle")
	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(stats.InUse), "in_use")
	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(stats.OpenConnections), "open")
	ch <- prometheus.MustNewConstMetric(c.waitCount, prometheus.CounterValue, float64(stats.WaitCount))
	ch <- prometheus.MustNewConstMetric(c.waitDuration, prometheus.CounterValue, stats.WaitDuration.Seconds())
	ch <- prometheus.MustNewConstMetric(c.closedByLimit, prometheus.CounterValue, float64(stats.MaxIdleClosed), "max_idle")
	ch <- prometheus.MustNewConstMetric(c.closedByLimit, prometheus.CounterValue, float64(stats.MaxIdleTimeClosed), "max_idle_time")
	ch <- prometheus.MustNewConstMetric(c.closedByLimit, prometheus.CounterValue, float64(stats.MaxLifetimeClosed), "max_lifetime")
}
