package models

import "time"

// Supplier is the registry record owned by the CRUD layer. The risk
// pipeline only ever reads it.
type Supplier struct {
	ID             string
	Name           string
	Category       string
	Location       string
	RiskLevel      string
	ContactEmail   string
	ContactPhone   string
	Description    string
	Active         bool
	DocumentCount  int
	CreatedAt      time.Time
	LastAssessment time.Time
}

// DocumentLog records one uploaded supplier document and where its
// stored copy lives on disk.
type DocumentLog struct {
	FileID         string
	SupplierID     string
	Filename       string
	StoredFilename string
	FilePath       string
	FileSize       int
	Extension      string
	ChunkCount     int
	UploadedAt     time.Time
}

// AssessmentRecord is the persisted outcome of one /analyze request.
type AssessmentRecord struct {
	ID                   string
	QueryText            string
	VendorIDs            []string
	RiskLevel            string
	Summary              string
	InsufficientEvidence bool
	EvidenceCount        int
	LatencyMS            int
	CreatedAt            time.Time
}

// AssessmentEvidence is one evidence reference attached to a persisted
// assessment, in ranked order.
type AssessmentEvidence struct {
	ID             int
	AssessmentID   string
	Rank           int
	SupplierID     string
	SourceFilename string
	ChunkID        string
	Score          float64
}
