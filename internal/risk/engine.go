package risk

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/supply-risk/backend/internal/metrics"
	"github.com/supply-risk/backend/internal/storage/models"
	"github.com/supply-risk/backend/pkg/logger"
	"github.com/supply-risk/backend/pkg/utils"
)

// SupplierRegistry is the narrow read interface the engine validates
// request scope against. The CRUD layer owns supplier state.
type SupplierRegistry interface {
	SupplierExists(id string) (bool, error)
}

// AssessmentStore persists finished assessments and stamps scoped
// suppliers with the verdict. Optional.
type AssessmentStore interface {
	InsertAssessment(record *models.AssessmentRecord, evidence []models.AssessmentEvidence) error
	RecordAssessmentOutcome(supplierIDs []string, riskLevel string, at time.Time) error
}

// AssessmentCache short-circuits repeated identical requests.
// Optional.
type AssessmentCache interface {
	GetAssessment(ctx context.Context, key string) (*Assessment, bool, error)
	SetAssessment(ctx context.Context, key string, assessment *Assessment, ttl time.Duration) error
}

// Engine drives one assessment through
// validating -> generating_signal -> retrieving -> synthesizing -> done,
// falling to the failed terminal state on any fatal error.
type Engine struct {
	registry    SupplierRegistry
	signals     *SignalGenerator
	retriever   *Retriever
	synthesizer *Synthesizer

	store    AssessmentStore
	cache    AssessmentCache
	cacheTTL time.Duration
}

func NewEngine(registry SupplierRegistry, signals *SignalGenerator, retriever *Retriever, synthesizer *Synthesizer) *Engine {
	return &Engine{
		registry:    registry,
		signals:     signals,
		retriever:   retriever,
		synthesizer: synthesizer,
	}
}

// SetStore wires optional assessment persistence.
func (e *Engine) SetStore(store AssessmentStore) {
	e.store = store
}

// SetCache wires an optional response cache.
func (e *Engine) SetCache(cache AssessmentCache, ttl time.Duration) {
	e.cache = cache
	e.cacheTTL = ttl
}

func (e *Engine) Assess(ctx context.Context, req Request) (*Assessment, error) {
	return e.assess(ctx, req, nil)
}

// AssessWithProgress runs an assessment and reports each stage
// transition through notify before entering the stage.
func (e *Engine) AssessWithProgress(ctx context.Context, req Request, notify func(Stage)) (*Assessment, error) {
	return e.assess(ctx, req, notify)
}

func (e *Engine) assess(ctx context.Context, req Request, notify func(Stage)) (*Assessment, error) {
	startTime := time.Now()
	assessmentID := uuid.New().String()

	enter := func(stage Stage) {
		if notify != nil {
			notify(stage)
		}
	}

	fail := func(err error) (*Assessment, error) {
		enter(StageFailed)
		metrics.AssessmentTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	logger.Info("Processing risk assessment",
		zap.String("assessment_id", assessmentID),
		zap.String("query", req.Query),
		zap.Strings("vendor_ids", req.VendorIDs),
	)

	enter(StageValidating)

	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return fail(ErrEmptyQuery)
	}

	knownIDs, warnings, err := e.resolveScope(req.VendorIDs)
	if err != nil {
		return fail(newError(ErrorTypeInternal, StageValidating, "supplier registry lookup failed", err))
	}

	if cached := e.cacheLookup(ctx, req); cached != nil {
		enter(StageDone)
		return cached, nil
	}

	// Every named vendor was unknown: nothing to search, and an
	// unscoped search would leak out of the requested scope.
	if len(req.VendorIDs) > 0 && len(knownIDs) == 0 {
		assessment := e.insufficientEvidence(assessmentID, req, warnings, startTime)
		enter(StageDone)
		e.finish(ctx, req, assessment, nil)
		return assessment, nil
	}

	enter(StageGeneratingSignal)
	signal := e.signals.Generate(ctx, req.Query)
	if signal.Fallback {
		warnings = append(warnings, Warning{
			Code:    WarnSignalFallback,
			Message: "signal generation unavailable; retrieval used the raw query text",
		})
	}

	enter(StageRetrieving)
	evidence, retrievalWarnings, err := e.retriever.Retrieve(ctx, signal, knownIDs)
	if err != nil {
		return fail(err)
	}
	warnings = append(warnings, retrievalWarnings...)

	if len(evidence) == 0 {
		assessment := e.insufficientEvidence(assessmentID, req, warnings, startTime)
		enter(StageDone)
		e.finish(ctx, req, assessment, nil)
		return assessment, nil
	}

	enter(StageSynthesizing)
	verdict, err := e.synthesizer.Synthesize(ctx, req.Query, evidence)
	if err != nil {
		return fail(err)
	}

	assessment := &Assessment{
		ID:             assessmentID,
		Query:          req.Query,
		VendorIDs:      req.VendorIDs,
		RiskLevel:      verdict.Level,
		Summary:        verdict.Summary,
		Evidence:       verdict.Evidence,
		EvidenceDetail: evidence,
		Warnings:       warnings,
		LatencyMS:      int(time.Since(startTime).Milliseconds()),
	}

	enter(StageDone)
	e.finish(ctx, req, assessment, knownIDs)

	metrics.AssessmentTotal.WithLabelValues("ok").Inc()
	metrics.RiskLevelTotal.WithLabelValues(string(assessment.RiskLevel)).Inc()
	metrics.EvidenceCount.Observe(float64(len(evidence)))
	metrics.AssessmentDuration.WithLabelValues(scopedLabel(req.VendorIDs)).Observe(time.Since(startTime).Seconds())

	logger.Info("Risk assessment completed",
		zap.String("assessment_id", assessmentID),
		zap.String("risk_level", string(assessment.RiskLevel)),
		zap.Int("evidence_count", len(evidence)),
		zap.Int("latency_ms", assessment.LatencyMS),
	)

	return assessment, nil
}

// resolveScope checks each requested vendor against the registry.
// Unknown ids become warnings, never silent drops and never aborts.
func (e *Engine) resolveScope(vendorIDs []string) ([]string, []Warning, error) {
	var known []string
	var warnings []Warning

	for _, id := range vendorIDs {
		exists, err := e.registry.SupplierExists(id)
		if err != nil {
			return nil, nil, err
		}
		if !exists {
			logger.Warn("Unknown supplier in request scope", zap.String("vendor_id", id))
			warnings = append(warnings, Warning{
				Code:     WarnUnknownSupplier,
				VendorID: id,
				Message:  fmt.Sprintf("supplier %s is not registered", id),
			})
			continue
		}
		known = append(known, id)
	}

	return known, warnings, nil
}

func (e *Engine) insufficientEvidence(assessmentID string, req Request, warnings []Warning, startTime time.Time) *Assessment {
	metrics.AssessmentTotal.WithLabelValues("insufficient_evidence").Inc()
	metrics.EvidenceCount.Observe(0)

	return &Assessment{
		ID:                   assessmentID,
		Query:                req.Query,
		VendorIDs:            req.VendorIDs,
		RiskLevel:            LevelLow,
		Summary:              insufficientEvidenceSummary,
		Evidence:             []string{},
		InsufficientEvidence: true,
		Warnings:             warnings,
		LatencyMS:            int(time.Since(startTime).Milliseconds()),
	}
}

// finish persists the assessment and fills the cache. Both are
// best-effort side effects and never fail the request.
func (e *Engine) finish(ctx context.Context, req Request, assessment *Assessment, assessedIDs []string) {
	if e.store != nil {
		record := &models.AssessmentRecord{
			ID:                   assessment.ID,
			QueryText:            assessment.Query,
			VendorIDs:            assessment.VendorIDs,
			RiskLevel:            string(assessment.RiskLevel),
			Summary:              assessment.Summary,
			InsufficientEvidence: assessment.InsufficientEvidence,
			EvidenceCount:        len(assessment.EvidenceDetail),
			LatencyMS:            assessment.LatencyMS,
			CreatedAt:            time.Now(),
		}

		evidence := make([]models.AssessmentEvidence, 0, len(assessment.EvidenceDetail))
		for i, ev := range assessment.EvidenceDetail {
			evidence = append(evidence, models.AssessmentEvidence{
				AssessmentID:   assessment.ID,
				Rank:           i + 1,
				SupplierID:     ev.SupplierID,
				SourceFilename: ev.SourceFilename,
				ChunkID:        ev.ChunkID,
				Score:          float64(ev.Score),
			})
		}

		if err := e.store.InsertAssessment(record, evidence); err != nil {
			logger.Warn("Failed to persist assessment", zap.Error(err))
		}

		if !assessment.InsufficientEvidence && len(assessedIDs) > 0 {
			if err := e.store.RecordAssessmentOutcome(assessedIDs, string(assessment.RiskLevel), time.Now()); err != nil {
				logger.Warn("Failed to record assessment outcome", zap.Error(err))
			}
		}
	}

	if e.cache != nil {
		if err := e.cache.SetAssessment(ctx, cacheKey(req), assessment, e.cacheTTL); err != nil {
			logger.Warn("Failed to cache assessment", zap.Error(err))
		}
	}
}

func (e *Engine) cacheLookup(ctx context.Context, req Request) *Assessment {
	if e.cache == nil {
		return nil
	}

	cached, found, err := e.cache.GetAssessment(ctx, cacheKey(req))
	if err != nil {
		logger.Warn("Assessment cache lookup failed", zap.Error(err))
		return nil
	}
	if !found {
		metrics.CacheMisses.WithLabelValues("assessment").Inc()
		return nil
	}

	metrics.CacheHits.WithLabelValues("assessment").Inc()
	logger.Info("Assessment served from cache", zap.String("query", req.Query))
	return cached
}

func cacheKey(req Request) string {
	scope := append([]string(nil), req.VendorIDs...)
	sort.Strings(scope)
	return utils.HashString(req.Query + "|" + strings.Join(scope, ","))
}

func scopedLabel(vendorIDs []string) string {
	if len(vendorIDs) == 0 {
		return "corpus"
	}
	return "scoped"
}
