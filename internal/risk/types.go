package risk

import (
	"fmt"
	"strings"
)

// Level is the closed risk vocabulary. Free-text model output is
// normalized into it and never passed through verbatim.
type Level string

const (
	LevelLow      Level = "Low"
	LevelModerate Level = "Moderate"
	LevelHigh     Level = "High"
)

// ParseLevel matches case-insensitively against the closed set.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return LevelLow, nil
	case "moderate":
		return LevelModerate, nil
	case "high":
		return LevelHigh, nil
	default:
		return "", fmt.Errorf("unrecognized risk level %q", s)
	}
}

// Request is one risk question plus its supplier scope. An empty
// scope means the whole corpus.
type Request struct {
	Query     string
	VendorIDs []string
}

// Signal is the answer-shaped retrieval key generated from the query.
// Fallback marks the degraded case where signal generation failed and
// the raw query text is used instead.
type Signal struct {
	Text     string
	Fallback bool
}

// Evidence is one chunk matched to a query. It is constructed once at
// the corpus adapter boundary and never mutated downstream.
type Evidence struct {
	ChunkID        string
	SupplierID     string
	SourceFilename string
	Category       string
	Period         string
	Text           string
	Score          float32
}

// WarningCode identifies a non-fatal degradation reported alongside
// results.
type WarningCode string

const (
	WarnUnknownSupplier  WarningCode = "unknown_supplier"
	WarnPartialRetrieval WarningCode = "partial_retrieval"
	WarnSignalFallback   WarningCode = "signal_fallback"
)

type Warning struct {
	Code     WarningCode `json:"code"`
	VendorID string      `json:"vendor_id,omitempty"`
	Message  string      `json:"message"`
}

// Assessment is the final verdict for one request.
//
// InsufficientEvidence marks the sentinel produced when retrieval
// found nothing: the level stays inside the closed vocabulary but the
// flag keeps the outcome distinguishable from a real Low verdict.
type Assessment struct {
	ID                   string
	Query                string
	VendorIDs            []string
	RiskLevel            Level
	Summary              string
	Evidence             []string
	EvidenceDetail       []Evidence
	InsufficientEvidence bool
	Warnings             []Warning
	LatencyMS            int
}

// Stage names the engine states, in pipeline order.
type Stage string

const (
	StageValidating       Stage = "validating"
	StageGeneratingSignal Stage = "generating_signal"
	StageRetrieving       Stage = "retrieving"
	StageSynthesizing     Stage = "synthesizing"
	StageDone             Stage = "done"
	StageFailed           Stage = "failed"
)

const insufficientEvidenceSummary = "Insufficient evidence: no relevant supplier documents matched the query."
