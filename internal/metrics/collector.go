package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector RAG流水线指标收集器，nil 接收者上的调用均为空操作
type Collector struct {
	ingestTotal        *prometheus.CounterVec
	ingestChunks       prometheus.Counter
	ingestDuration     prometheus.Histogram
	queryTotal         *prometheus.CounterVec
	retrievalDuration  prometheus.Histogram
	retrievalMatches   prometheus.Histogram
	generationTotal    *prometheus.CounterVec
	generationDuration prometheus.Histogram
	generationTokens   prometheus.Counter
	storeHealthy       prometheus.Gauge
}

// NewCollector 创建指标收集器，reg 为 nil 时使用默认注册表
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		ingestTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rag_ingest_total",
				Help: "Total number of document ingestions by status",
			},
			[]string{"status"}, // status: success, failed
		),
		ingestChunks: factory.NewCounter(prometheus.CounterOpts{
			Name: "rag_ingest_chunks_total",
			Help: "Total number of chunks written to the vector store",
		}),
		ingestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rag_ingest_duration_seconds",
			Help:    "Duration of document ingestion",
			Buckets: prometheus.DefBuckets,
		}),
		queryTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rag_query_total",
				Help: "Total number of retrieval requests by kind and status",
			},
			[]string{"kind", "status"}, // kind: search, query
		),
		retrievalDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rag_retrieval_duration_seconds",
			Help:    "Duration of embed + vector search",
			Buckets: prometheus.DefBuckets,
		}),
		retrievalMatches: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rag_retrieval_matches",
			Help:    "Number of chunks returned per retrieval",
			Buckets: prometheus.LinearBuckets(0, 1, 11),
		}),
		generationTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rag_generation_total",
				Help: "Total number of generations by terminal state",
			},
			[]string{"state"},
		),
		generationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rag_generation_duration_seconds",
			Help:    "Duration of streamed generation",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		generationTokens: factory.NewCounter(prometheus.CounterOpts{
			Name: "rag_generation_tokens_total",
			Help: "Total number of streamed tokens delivered to callers",
		}),
		storeHealthy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rag_vector_store_healthy",
			Help: "1 if the vector store answered the last health probe",
		}),
	}
}

// RecordIngest 记录一次入库
func (c *Collector) RecordIngest(chunks int, duration time.Duration, err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.ingestTotal.WithLabelValues("failed").Inc()
		return
	}
	c.ingestTotal.WithLabelValues("success").Inc()
	c.ingestChunks.Add(float64(chunks))
	c.ingestDuration.Observe(duration.Seconds())
}

// RecordRetrieval 记录一次检索
func (c *Collector) RecordRetrieval(kind string, matches int, duration time.Duration, err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.queryTotal.WithLabelValues(kind, "failed").Inc()
		return
	}
	c.queryTotal.WithLabelValues(kind, "success").Inc()
	c.retrievalDuration.Observe(duration.Seconds())
	c.retrievalMatches.Observe(float64(matches))
}

// RecordGeneration 记录一次生成的终态
func (c *Collector) RecordGeneration(state string, tokens int, duration time.Duration) {
	if c == nil {
		return
	}
	c.generationTotal.WithLabelValues(state).Inc()
	c.generationTokens.Add(float64(tokens))
	c.generationDuration.Observe(duration.Seconds())
}

// SetStoreHealth 更新向量库健康状态
func (c *Collector) SetStoreHealth(healthy bool) {
	if c == nil {
		return
	}
	if healthy {
		c.storeHealthy.Set(1)
	} else {
		c.storeHealthy.Set(0)
	}
}
