package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AssessmentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "supply_risk_assessment_duration_seconds",
			Help:    "Risk assessment processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"scoped"},
	)

	AssessmentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supply_risk_assessment_total",
			Help: "Total number of risk assessments processed",
		},
		[]string{"status"},
	)

	RiskLevelTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supply_risk_level_total",
			Help: "Risk verdicts by level",
		},
		[]string{"level"},
	)

	EvidenceCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "supply_risk_evidence_count",
			Help:    "Number of evidence items per assessment",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 12},
		},
	)

	SignalFallbackTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "supply_risk_signal_fallback_total",
			Help: "Assessments that fell back to the raw query as retrieval signal",
		},
	)

	ScopedRetrievalFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "supply_risk_scoped_retrieval_failures_total",
			Help: "Per-vendor vector queries that failed",
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supply_risk_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supply_risk_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supply_risk_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	DocumentsIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "supply_risk_documents_ingested_total",
			Help: "Total supplier documents ingested",
		},
	)

	ChunksIndexed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "supply_risk_chunks_indexed_total",
			Help: "Total document chunks indexed into the vector store",
		},
	)
)

func Init() {
	prometheus.MustRegister(AssessmentDuration)
	prometheus.MustRegister(AssessmentTotal)
	prometheus.MustRegister(RiskLevelTotal)
	prometheus.MustRegister(EvidenceCount)
	prometheus.MustRegister(SignalFallbackTotal)
	prometheus.MustRegister(ScopedRetrievalFailures)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(DocumentsIngested)
	prometheus.MustRegister(ChunksIndexed)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
