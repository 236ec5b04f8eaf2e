// Package artifact persists JSON snapshots of remote bulk jobs. Files live
// under the account's bulk/json/ directory, named by their SHA-256 content
// hash, with metadata tracked in the SQLite catalog.
package artifact

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Fixed-width so that created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Record is one catalogued snapshot.
type Record struct {
	UUID        string
	Account     string
	Stage       string
	JobID       int64
	Label       string
	ContentHash string
	StoragePath string
	ByteSize    int64
	CreatedAt   time.Time
}

// Store manages snapshot persistence (files on disk + metadata in SQLite).
type Store struct {
	db      *sql.DB
	jsonDir string
	account string
}

// NewStore creates a store writing into bulkDir/json.
func NewStore(db *sql.DB, bulkDir, account string) *Store {
	return &Store{
		db:      db,
		jsonDir: filepath.Join(bulkDir, "json"),
		account: account,
	}
}

// CreateInput holds parameters for creating a snapshot.
type CreateInput struct {
	Stage   string
	JobID   int64
	Label   string
	Content []byte
}

// Create stores content on disk and records it in the catalog. Identical
// content is written once.
func (s *Store) Create(input CreateInput) (*Record, error) {
	h := sha256.Sum256(input.Content)
	contentHash := hex.EncodeToString(h[:])

	storageName := contentHash + ".json"
	storagePath := filepath.Join(s.jsonDir, storageName)

	if err := os.MkdirAll(s.jsonDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensuring json directory: %w", err)
	}

	if _, err := os.Stat(storagePath); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(storagePath, input.Content, 0o644); err != nil {
			return nil, fmt.Errorf("writing snapshot file: %w", err)
		}
	}

	rec := &Record{
		UUID:        uuid.New().String(),
		Account:     s.account,
		Stage:       input.Stage,
		JobID:       input.JobID,
		Label:       input.Label,
		ContentHash: contentHash,
		StoragePath: storageName,
		ByteSize:    int64(len(input.Content)),
		CreatedAt:   time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO artifacts (uuid, account, stage, job_id, label, content_hash, storage_path, byte_size, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.UUID, rec.Account, rec.Stage, rec.JobID, rec.Label,
		rec.ContentHash, rec.StoragePath, rec.ByteSize,
		rec.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting artifact record: %w", err)
	}
	return rec, nil
}

// SaveJSON marshals v and stores it as a snapshot of a stage's job.
func (s *Store) SaveJSON(stage string, jobID int64, label string, v any) (*Record, error) {
	content, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding %s snapshot: %w", stage, err)
	}
	return s.Create(CreateInput{Stage: stage, JobID: jobID, Label: label, Content: content})
}

const selectColumns = `SELECT uuid, account, stage, job_id, label, content_hash, storage_path, byte_size, created_at FROM artifacts`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var rec Record
	var createdAt string
	if err := row.Scan(&rec.UUID, &rec.Account, &rec.Stage, &rec.JobID, &rec.Label,
		&rec.ContentHash, &rec.StoragePath, &rec.ByteSize, &createdAt); err != nil {
		return nil, err
	}
	rec.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return &rec, nil
}

// Get retrieves a record by UUID (supports prefix match).
func (s *Store) Get(id string) (*Record, error) {
	rec, err := scanRecord(s.db.QueryRow(
		selectColumns+` WHERE (uuid = ? OR uuid LIKE ?) AND account = ?`,
		id, id+"%", s.account,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("artifact not found: %s", id)
	}
	return rec, err
}

// Latest returns the most recent snapshot of a stage's job.
func (s *Store) Latest(stage string, jobID int64) (*Record, error) {
	rec, err := scanRecord(s.db.QueryRow(
		selectColumns+` WHERE account = ? AND stage = ? AND job_id = ? ORDER BY created_at DESC LIMIT 1`,
		s.account, stage, jobID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no %s snapshot for job %d", stage, jobID)
	}
	return rec, err
}

// ReadContent returns the bytes of a snapshot after checking its hash.
func (s *Store) ReadContent(rec *Record) ([]byte, error) {
	data, err := os.ReadFile(s.Path(rec))
	if err != nil {
		return nil, fmt.Errorf("reading snapshot file: %w", err)
	}

	h := sha256.Sum256(data)
	if hex.EncodeToString(h[:]) != rec.ContentHash {
		return nil, fmt.Errorf("snapshot integrity check failed: hash mismatch for %s", rec.UUID)
	}
	return data, nil
}

// Path is the absolute location of a snapshot file.
func (s *Store) Path(rec *Record) string {
	return filepath.Join(s.jsonDir, rec.StoragePath)
}

// List returns the account's snapshots, newest first, optionally restricted
// to one stage.
func (s *Store) List(stage string) ([]Record, error) {
	query := selectColumns + ` WHERE account = ?`
	args := []any{s.account}
	if stage != "" {
		query += " AND stage = ?"
		args = append(args, stage)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying artifacts: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning artifact: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// VerifyIntegrity checks that all snapshot files match their recorded hashes.
func (s *Store) VerifyIntegrity() (valid int, invalid []string, err error) {
	recs, err := s.List("")
	if err != nil {
		return 0, nil, err
	}

	for _, rec := range recs {
		data, readErr := os.ReadFile(s.Path(&rec))
		if readErr != nil {
			invalid = append(invalid, fmt.Sprintf("%s: file missing", rec.UUID))
			continue
		}
		h := sha256.Sum256(data)
		if hex.EncodeToString(h[:]) != rec.ContentHash {
			invalid = append(invalid, fmt.Sprintf("%s: hash mismatch", rec.UUID))
			continue
		}
		valid++
	}
	return valid, invalid, nil
}
