package risk

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supply-risk/backend/internal/llm"
)

type fakeCompleter struct {
	content string
	err     error
	calls   int
	lastReq llm.CompletionRequest
}

func (f *fakeCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.content}, nil
}

func testEvidence() []Evidence {
	return []Evidence{
		ev("a_chunk_0", "SUP-A", "audit_2023.txt", 0.92),
		ev("b_chunk_0", "SUP-B", "esg_report.txt", 0.81),
	}
}

func TestSynthesizeParsesWellFormedVerdict(t *testing.T) {
	completer := &fakeCompleter{content: `Risk Level: High
Summary: The audit shows repeated late deliveries and an open compliance finding.
Evidence: audit_2023.txt; esg_report.txt`}
	s := NewSynthesizer(completer, 512)

	v, err := s.Synthesize(context.Background(), "delivery risk?", testEvidence())
	require.NoError(t, err)
	assert.Equal(t, LevelHigh, v.Level)
	assert.Equal(t, "The audit shows repeated late deliveries and an open compliance finding.", v.Summary)
	assert.Equal(t, []string{"audit_2023.txt", "esg_report.txt"}, v.Evidence)
}

func TestSynthesizeLevelIsCaseInsensitive(t *testing.T) {
	completer := &fakeCompleter{content: "Risk Level: mOdErAtE\nSummary: ok\nEvidence: audit_2023.txt"}
	s := NewSynthesizer(completer, 512)

	v, err := s.Synthesize(context.Background(), "q", testEvidence())
	require.NoError(t, err)
	assert.Equal(t, LevelModerate, v.Level)
}

func TestSynthesizeUnrecognizedLevelIsAnError(t *testing.T) {
	completer := &fakeCompleter{content: "Risk Level: Severe\nSummary: bad\nEvidence: audit_2023.txt"}
	s := NewSynthesizer(completer, 512)

	_, err := s.Synthesize(context.Background(), "q", testEvidence())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSynthesisParse))
}

func TestSynthesizeMissingLevelIsAnError(t *testing.T) {
	completer := &fakeCompleter{content: "The supplier looks fine overall."}
	s := NewSynthesizer(completer, 512)

	_, err := s.Synthesize(context.Background(), "q", testEvidence())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSynthesisParse))
}

func TestSynthesizeDropsFabricatedReferences(t *testing.T) {
	completer := &fakeCompleter{content: `Risk Level: Low
Summary: Nothing material.
Evidence: audit_2023.txt; invented_source.pdf`}
	s := NewSynthesizer(completer, 512)

	v, err := s.Synthesize(context.Background(), "q", testEvidence())
	require.NoError(t, err)
	assert.Equal(t, []string{"audit_2023.txt"}, v.Evidence)
}

func TestSynthesizeFallsBackToSuppliedEvidenceWhenNoRefsResolve(t *testing.T) {
	completer := &fakeCompleter{content: `Risk Level: Low
Summary: Nothing material.
Evidence: made_up_a.txt; made_up_b.txt`}
	s := NewSynthesizer(completer, 512)

	v, err := s.Synthesize(context.Background(), "q", testEvidence())
	require.NoError(t, err)
	assert.Equal(t, []string{"audit_2023.txt", "esg_report.txt"}, v.Evidence)
}

func TestSynthesizeMultiLineSummary(t *testing.T) {
	completer := &fakeCompleter{content: `Risk Level: Moderate
Summary: The ESG report flags water usage violations.
The audit adds an unresolved corrective action.
Evidence: esg_report.txt`}
	s := NewSynthesizer(completer, 512)

	v, err := s.Synthesize(context.Background(), "q", testEvidence())
	require.NoError(t, err)
	assert.Equal(t, "The ESG report flags water usage violations. The audit adds an unresolved corrective action.", v.Summary)
}

func TestSynthesizeProviderFailure(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("deadline exceeded")}
	s := NewSynthesizer(completer, 512)

	_, err := s.Synthesize(context.Background(), "q", testEvidence())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProviderUnavailable))
}

func TestSynthesizePromptCarriesProvenance(t *testing.T) {
	completer := &fakeCompleter{content: "Risk Level: Low\nSummary: ok\nEvidence: audit_2023.txt"}
	s := NewSynthesizer(completer, 512)

	evidence := []Evidence{{
		ChunkID:        "a_chunk_0",
		SupplierID:     "SUP-A",
		SourceFilename: "audit_2023.txt",
		Category:       "audit",
		Period:         "FY2023",
		Text:           "Late deliveries in Q3.",
		Score:          0.9,
	}}

	_, err := s.Synthesize(context.Background(), "delivery risk?", evidence)
	require.NoError(t, err)
	assert.Contains(t, completer.lastReq.UserPrompt, "supplier=SUP-A")
	assert.Contains(t, completer.lastReq.UserPrompt, "source=audit_2023.txt")
	assert.Contains(t, completer.lastReq.UserPrompt, "category=audit")
	assert.Contains(t, completer.lastReq.UserPrompt, "period=FY2023")
	assert.Contains(t, completer.lastReq.UserPrompt, "Late deliveries in Q3.")
	assert.Contains(t, completer.lastReq.UserPrompt, "delivery risk?")
	assert.Zero(t, completer.lastReq.Temperature)
}
