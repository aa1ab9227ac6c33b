package errors

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrorMonitor 错误监控器
type ErrorMonitor struct {
	// Prometheus指标
	errorCounter *prometheus.CounterVec
	responseTime *prometheus.HistogramVec

	// 内存统计
	stats      map[string]*ErrorStats
	statsMutex sync.RWMutex
}

// ErrorStats 错误统计信息
type ErrorStats struct {
	Code      string    `json:"code"`
	Type      string    `json:"type"`
	Endpoint  string    `json:"endpoint"`
	Count     int64     `json:"count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// NewErrorMonitor 创建错误监控器，reg 为 nil 时使用默认注册表
func NewErrorMonitor(reg prometheus.Registerer) *ErrorMonitor {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &ErrorMonitor{
		errorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rag_errors_total",
				Help: "Total number of errors by code and type",
			},
			[]string{"code", "type", "endpoint"},
		),
		responseTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rag_error_response_time_seconds",
				Help:    "Response time for error requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"code", "endpoint"},
		),
		stats: make(map[string]*ErrorStats),
	}
}

// RecordError 记录错误
func (em *ErrorMonitor) RecordError(appErr *AppError, endpoint string, responseTime time.Duration) {
	if em == nil || appErr == nil {
		return
	}

	em.errorCounter.WithLabelValues(string(appErr.Code), getErrorTypeString(appErr.Type), endpoint).Inc()
	em.responseTime.WithLabelValues(string(appErr.Code), endpoint).Observe(responseTime.Seconds())

	em.statsMutex.Lock()
	defer em.statsMutex.Unlock()

	key := string(appErr.Code) + ":" + endpoint
	stats, exists := em.stats[key]
	if !exists {
		stats = &ErrorStats{
			Code:      string(appErr.Code),
			Type:      getErrorTypeString(appErr.Type),
			Endpoint:  endpoint,
			FirstSeen: time.Now(),
		}
		em.stats[key] = stats
	}
	stats.Count++
	stats.LastSeen = time.Now()
}

// GetTopErrors 获取最常见的错误
func (em *ErrorMonitor) GetTopErrors(limit int) []ErrorStats {
	em.statsMutex.RLock()
	defer em.statsMutex.RUnlock()

	statsList := make([]ErrorStats, 0, len(em.stats))
	for _, stats := range em.stats {
		statsList = append(statsList, *stats)
	}

	// 按错误数量降序排序
	sort.Slice(statsList, func(i, j int) bool {
		if statsList[i].Count != statsList[j].Count {
			return statsList[i].Count > statsList[j].Count
		}
		return statsList[i].Code < statsList[j].Code
	})

	if limit > 0 && len(statsList) > limit {
		statsList = statsList[:limit]
	}
	return statsList
}
