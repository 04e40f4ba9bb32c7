package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/supply-risk/backend/internal/storage/models"
	"github.com/supply-risk/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS suppliers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		location TEXT NOT NULL,
		risk_level TEXT NOT NULL DEFAULT 'Low',
		contact_email TEXT,
		contact_phone TEXT,
		description TEXT,
		active INTEGER NOT NULL DEFAULT 1,
		document_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		last_assessment INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_suppliers_active ON suppliers(active);
	CREATE INDEX IF NOT EXISTS idx_suppliers_name ON suppliers(name);

	CREATE TABLE IF NOT EXISTS document_logs (
		file_id TEXT PRIMARY KEY,
		supplier_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		stored_filename TEXT NOT NULL,
		file_path TEXT NOT NULL,
		file_size INTEGER NOT NULL,
		extension TEXT,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		uploaded_at INTEGER NOT NULL,
		FOREIGN KEY (supplier_id) REFERENCES suppliers(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_document_logs_supplier ON document_logs(supplier_id);

	CREATE TABLE IF NOT EXISTS assessments (
		id TEXT PRIMARY KEY,
		query_text TEXT NOT NULL,
		vendor_ids TEXT,
		risk_level TEXT NOT NULL,
		summary TEXT,
		insufficient_evidence INTEGER NOT NULL DEFAULT 0,
		evidence_count INTEGER NOT NULL DEFAULT 0,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_assessments_created ON assessments(created_at);

	CREATE TABLE IF NOT EXISTS assessment_evidence (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		assessment_id TEXT NOT NULL,
		rank INTEGER NOT NULL,
		supplier_id TEXT,
		source_filename TEXT NOT NULL,
		chunk_id TEXT,
		score REAL,
		FOREIGN KEY (assessment_id) REFERENCES assessments(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_evidence_assessment ON assessment_evidence(assessment_id);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertSupplier(s *models.Supplier) error {
	query := `
		INSERT INTO suppliers (id, name, category, location, risk_level, contact_email,
			contact_phone, description, active, document_count, created_at, last_assessment)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		s.ID,
		s.Name,
		s.Category,
		s.Location,
		s.RiskLevel,
		s.ContactEmail,
		s.ContactPhone,
		s.Description,
		boolToInt(s.Active),
		s.DocumentCount,
		s.CreatedAt.Unix(),
		s.LastAssessment.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert supplier: %w", err)
	}

	logger.Debug("Supplier inserted", zap.String("supplier_id", s.ID), zap.String("name", s.Name))
	return nil
}

func (c *Client) UpdateSupplier(s *models.Supplier) error {
	query := `
		UPDATE suppliers
		SET name = ?, category = ?, location = ?, contact_email = ?, contact_phone = ?,
			description = ?, active = ?, last_assessment = ?
		WHERE id = ?
	`

	res, err := c.db.Exec(
		query,
		s.Name,
		s.Category,
		s.Location,
		s.ContactEmail,
		s.ContactPhone,
		s.Description,
		boolToInt(s.Active),
		s.LastAssessment.Unix(),
		s.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update supplier: %w", err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}

func (c *Client) DeleteSupplier(id string) error {
	res, err := c.db.Exec(`DELETE FROM suppliers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete supplier: %w", err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return sql.ErrNoRows
	}

	logger.Info("Supplier deleted", zap.String("supplier_id", id))
	return nil
}

func (c *Client) GetSupplier(id string) (*models.Supplier, error) {
	query := `
		SELECT id, name, category, location, risk_level, contact_email, contact_phone,
			description, active, document_count, created_at, last_assessment
		FROM suppliers WHERE id = ?
	`

	var s models.Supplier
	var active int
	var createdAt, lastAssessment int64

	err := c.db.QueryRow(query, id).Scan(
		&s.ID,
		&s.Name,
		&s.Category,
		&s.Location,
		&s.RiskLevel,
		&s.ContactEmail,
		&s.ContactPhone,
		&s.Description,
		&active,
		&s.DocumentCount,
		&createdAt,
		&lastAssessment,
	)
	if err != nil {
		return nil, err
	}

	s.Active = active != 0
	s.CreatedAt = time.Unix(createdAt, 0)
	s.LastAssessment = time.Unix(lastAssessment, 0)

	return &s, nil
}

// SupplierExists is the narrow registry check the assessment engine
// validates request scope against.
func (c *Client) SupplierExists(id string) (bool, error) {
	var one int
	err := c.db.QueryRow(`SELECT 1 FROM suppliers WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check supplier: %w", err)
	}
	return true, nil
}

func (c *Client) ListSuppliers() ([]models.Supplier, error) {
	query := `
		SELECT id, name, category, location, risk_level, contact_email, contact_phone,
			description, active, document_count, created_at, last_assessment
		FROM suppliers ORDER BY name
	`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list suppliers: %w", err)
	}
	defer rows.Close()

	var suppliers []models.Supplier
	for rows.Next() {
		var s models.Supplier
		var active int
		var createdAt, lastAssessment int64

		err := rows.Scan(
			&s.ID,
			&s.Name,
			&s.Category,
			&s.Location,
			&s.RiskLevel,
			&s.ContactEmail,
			&s.ContactPhone,
			&s.Description,
			&active,
			&s.DocumentCount,
			&createdAt,
			&lastAssessment,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		s.Active = active != 0
		s.CreatedAt = time.Unix(createdAt, 0)
		s.LastAssessment = time.Unix(lastAssessment, 0)
		suppliers = append(suppliers, s)
	}

	return suppliers, rows.Err()
}

func (c *Client) ListSupplierIDs() ([]string, error) {
	rows, err := c.db.Query(`SELECT id FROM suppliers WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list supplier ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// RecordAssessmentOutcome stamps the scoped suppliers with the verdict
// of their latest assessment.
func (c *Client) RecordAssessmentOutcome(supplierIDs []string, riskLevel string, at time.Time) error {
	for _, id := range supplierIDs {
		_, err := c.db.Exec(
			`UPDATE suppliers SET risk_level = ?, last_assessment = ? WHERE id = ?`,
			riskLevel, at.Unix(), id,
		)
		if err != nil {
			return fmt.Errorf("failed to record assessment outcome: %w", err)
		}
	}
	return nil
}

func (c *Client) InsertDocumentLog(doc *models.DocumentLog) error {
	query := `
		INSERT INTO document_logs (file_id, supplier_id, filename, stored_filename,
			file_path, file_size, extension, chunk_count, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		doc.FileID,
		doc.SupplierID,
		doc.Filename,
		doc.StoredFilename,
		doc.FilePath,
		doc.FileSize,
		doc.Extension,
		doc.ChunkCount,
		doc.UploadedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert document log: %w", err)
	}

	return nil
}

func (c *Client) GetSupplierDocuments(supplierID string) ([]models.DocumentLog, error) {
	query := `
		SELECT file_id, supplier_id, filename, stored_filename, file_path, file_size,
			extension, chunk_count, uploaded_at
		FROM document_logs WHERE supplier_id = ? ORDER BY uploaded_at DESC
	`

	rows, err := c.db.Query(query, supplierID)
	if err != nil {
		return nil, fmt.Errorf("failed to get supplier documents: %w", err)
	}
	defer rows.Close()

	var docs []models.DocumentLog
	for rows.Next() {
		var d models.DocumentLog
		var uploadedAt int64

		err := rows.Scan(
			&d.FileID,
			&d.SupplierID,
			&d.Filename,
			&d.StoredFilename,
			&d.FilePath,
			&d.FileSize,
			&d.Extension,
			&d.ChunkCount,
			&uploadedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		d.UploadedAt = time.Unix(uploadedAt, 0)
		docs = append(docs, d)
	}

	return docs, rows.Err()
}

func (c *Client) IncrementDocumentCount(supplierID string) error {
	_, err := c.db.Exec(
		`UPDATE suppliers SET document_count = document_count + 1 WHERE id = ?`,
		supplierID,
	)
	if err != nil {
		return fmt.Errorf("failed to increment document count: %w", err)
	}
	return nil
}

func (c *Client) InsertAssessment(record *models.AssessmentRecord, evidence []models.AssessmentEvidence) error {
	vendorIDsJSON, _ := json.Marshal(record.VendorIDs)

	query := `
		INSERT INTO assessments (id, query_text, vendor_ids, risk_level, summary,
			insufficient_evidence, evidence_count, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		record.ID,
		record.QueryText,
		string(vendorIDsJSON),
		record.RiskLevel,
		record.Summary,
		boolToInt(record.InsufficientEvidence),
		record.EvidenceCount,
		record.LatencyMS,
		record.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert assessment: %w", err)
	}

	for _, ev := range evidence {
		_, err := c.db.Exec(
			`INSERT INTO assessment_evidence (assessment_id, rank, supplier_id, source_filename, chunk_id, score)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			ev.AssessmentID, ev.Rank, ev.SupplierID, ev.SourceFilename, ev.ChunkID, ev.Score,
		)
		if err != nil {
			return fmt.Errorf("failed to insert assessment evidence: %w", err)
		}
	}

	logger.Info("Assessment recorded",
		zap.String("assessment_id", record.ID),
		zap.String("risk_level", record.RiskLevel),
		zap.Int("evidence_count", record.EvidenceCount),
	)

	return nil
}

func (c *Client) GetAssessmentHistory(limit int) ([]models.AssessmentRecord, error) {
	query := `
		SELECT id, query_text, vendor_ids, risk_level, summary, insufficient_evidence,
			evidence_count, latency_ms, created_at
		FROM assessments ORDER BY created_at DESC LIMIT ?
	`

	rows, err := c.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get assessment history: %w", err)
	}
	defer rows.Close()

	var records []models.AssessmentRecord
	for rows.Next() {
		var r models.AssessmentRecord
		var vendorIDsJSON string
		var insufficient int
		var createdAt int64

		err := rows.Scan(
			&r.ID,
			&r.QueryText,
			&vendorIDsJSON,
			&r.RiskLevel,
			&r.Summary,
			&insufficient,
			&r.EvidenceCount,
			&r.LatencyMS,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		json.Unmarshal([]byte(vendorIDsJSON), &r.VendorIDs)
		r.InsufficientEvidence = insufficient != 0
		r.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, r)
	}

	return records, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
