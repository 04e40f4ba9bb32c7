package sqlite

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supply-risk/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	client, err := NewClient(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	require.NoError(t, client.InitSchema())
	return client
}

func testSupplier(id string) *models.Supplier {
	now := time.Now()
	return &models.Supplier{
		ID:             id,
		Name:           "Acme Metals",
		Category:       "raw_materials",
		Location:       "Rotterdam",
		RiskLevel:      "Low",
		ContactEmail:   "ops@acme.example",
		Active:         true,
		CreatedAt:      now,
		LastAssessment: now,
	}
}

func TestSupplierCRUD(t *testing.T) {
	client := newTestClient(t)

	s := testSupplier("SUP-1A2B3C4D")
	require.NoError(t, client.InsertSupplier(s))

	got, err := client.GetSupplier(s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Name, got.Name)
	assert.Equal(t, s.Location, got.Location)
	assert.True(t, got.Active)
	assert.Equal(t, "Low", got.RiskLevel)

	got.Name = "Acme Metals BV"
	got.Location = "Amsterdam"
	require.NoError(t, client.UpdateSupplier(got))

	updated, err := client.GetSupplier(s.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Metals BV", updated.Name)
	assert.Equal(t, "Amsterdam", updated.Location)

	require.NoError(t, client.DeleteSupplier(s.ID))
	_, err = client.GetSupplier(s.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestUpdateMissingSupplier(t *testing.T) {
	client := newTestClient(t)

	err := client.UpdateSupplier(testSupplier("SUP-MISSING"))
	assert.ErrorIs(t, err, sql.ErrNoRows)

	err = client.DeleteSupplier("SUP-MISSING")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestSupplierExists(t *testing.T) {
	client := newTestClient(t)

	exists, err := client.SupplierExists("SUP-NOPE")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, client.InsertSupplier(testSupplier("SUP-YES")))

	exists, err = client.SupplierExists("SUP-YES")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestListSupplierIDsActiveOnlyOrdered(t *testing.T) {
	client := newTestClient(t)

	require.NoError(t, client.InsertSupplier(testSupplier("SUP-BETA")))
	require.NoError(t, client.InsertSupplier(testSupplier("SUP-ALPHA")))

	retired := testSupplier("SUP-RETIRED")
	retired.Active = false
	require.NoError(t, client.InsertSupplier(retired))

	ids, err := client.ListSupplierIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"SUP-ALPHA", "SUP-BETA"}, ids)
}

func TestListSuppliersOrderedByName(t *testing.T) {
	client := newTestClient(t)

	a := testSupplier("SUP-A")
	a.Name = "Zeta Logistics"
	b := testSupplier("SUP-B")
	b.Name = "Alpha Chemicals"
	require.NoError(t, client.InsertSupplier(a))
	require.NoError(t, client.InsertSupplier(b))

	suppliers, err := client.ListSuppliers()
	require.NoError(t, err)
	require.Len(t, suppliers, 2)
	assert.Equal(t, "Alpha Chemicals", suppliers[0].Name)
	assert.Equal(t, "Zeta Logistics", suppliers[1].Name)
}

func TestRecordAssessmentOutcome(t *testing.T) {
	client := newTestClient(t)

	require.NoError(t, client.InsertSupplier(testSupplier("SUP-A")))
	require.NoError(t, client.InsertSupplier(testSupplier("SUP-B")))

	at := time.Now().Add(time.Hour)
	require.NoError(t, client.RecordAssessmentOutcome([]string{"SUP-A", "SUP-B"}, "High", at))

	for _, id := range []string{"SUP-A", "SUP-B"} {
		s, err := client.GetSupplier(id)
		require.NoError(t, err)
		assert.Equal(t, "High", s.RiskLevel)
		assert.Equal(t, at.Unix(), s.LastAssessment.Unix())
	}
}

func TestDocumentLogLifecycle(t *testing.T) {
	client := newTestClient(t)

	require.NoError(t, client.InsertSupplier(testSupplier("SUP-A")))

	doc := &models.DocumentLog{
		FileID:         "file-1",
		SupplierID:     "SUP-A",
		Filename:       "audit_FY2023.txt",
		StoredFilename: "uploads/SUP-A/file-1.txt",
		FilePath:       "uploads/SUP-A/file-1.txt",
		FileSize:       2048,
		Extension:      ".txt",
		ChunkCount:     3,
		UploadedAt:     time.Now(),
	}
	require.NoError(t, client.InsertDocumentLog(doc))
	require.NoError(t, client.IncrementDocumentCount("SUP-A"))

	docs, err := client.GetSupplierDocuments("SUP-A")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "audit_FY2023.txt", docs[0].Filename)
	assert.Equal(t, 3, docs[0].ChunkCount)

	s, err := client.GetSupplier("SUP-A")
	require.NoError(t, err)
	assert.Equal(t, 1, s.DocumentCount)

	// Deleting the supplier cascades to its document logs.
	require.NoError(t, client.DeleteSupplier("SUP-A"))
	docs, err = client.GetSupplierDocuments("SUP-A")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestAssessmentHistoryRoundTrip(t *testing.T) {
	client := newTestClient(t)

	record := &models.AssessmentRecord{
		ID:            "assessment-1",
		QueryText:     "liquidity concerns?",
		VendorIDs:     []string{"SUP-A", "SUP-B"},
		RiskLevel:     "Moderate",
		Summary:       "One unresolved audit finding.",
		EvidenceCount: 2,
		LatencyMS:     840,
		CreatedAt:     time.Now(),
	}
	evidence := []models.AssessmentEvidence{
		{AssessmentID: "assessment-1", Rank: 1, SupplierID: "SUP-A", SourceFilename: "audit.txt", ChunkID: "a_chunk_0", Score: 0.91},
		{AssessmentID: "assessment-1", Rank: 2, SupplierID: "SUP-B", SourceFilename: "esg.txt", ChunkID: "b_chunk_1", Score: 0.72},
	}
	require.NoError(t, client.InsertAssessment(record, evidence))

	history, err := client.GetAssessmentHistory(10)
	require.NoError(t, err)
	require.Len(t, history, 1)

	got := history[0]
	assert.Equal(t, "assessment-1", got.ID)
	assert.Equal(t, []string{"SUP-A", "SUP-B"}, got.VendorIDs)
	assert.Equal(t, "Moderate", got.RiskLevel)
	assert.False(t, got.InsufficientEvidence)
	assert.Equal(t, 2, got.EvidenceCount)
}

func TestAssessmentHistoryLimit(t *testing.T) {
	client := newTestClient(t)

	for i, id := range []string{"a1", "a2", "a3"} {
		require.NoError(t, client.InsertAssessment(&models.AssessmentRecord{
			ID:        id,
			QueryText: "q",
			RiskLevel: "Low",
			CreatedAt: time.Now().Add(time.Duration(i) * time.Minute),
		}, nil))
	}

	history, err := client.GetAssessmentHistory(2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	// Newest first.
	assert.Equal(t, "a3", history[0].ID)
	assert.Equal(t, "a2", history[1].ID)
}
