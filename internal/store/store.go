// Package store persists planning runs and caches corpus embeddings in
// SQLite, so re-planning an unchanged corpus never re-embeds it.
package store

import (
	"bytes"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"testnerd/internal/logging"
	"testnerd/internal/types"
)

// Store wraps the SQLite database holding runs, per-test plans, and the
// embedding cache.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// Open initializes the SQLite database at the given path.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store open")
	defer timer.Stop()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("Plan store ready at %s", path)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id      TEXT PRIMARY KEY,
		started_at  INTEGER NOT NULL,
		strategy    TEXT NOT NULL,
		test_count  INTEGER NOT NULL,
		summary     TEXT
	);

	CREATE TABLE IF NOT EXISTS plans (
		run_id        TEXT NOT NULL,
		test_id       TEXT NOT NULL,
		coverage      TEXT NOT NULL,
		sequence_json TEXT NOT NULL,
		PRIMARY KEY (run_id, test_id),
		FOREIGN KEY (run_id) REFERENCES runs(run_id)
	);

	CREATE TABLE IF NOT EXISTS embeddings (
		text_hash  TEXT NOT NULL,
		engine     TEXT NOT NULL,
		vector     BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (text_hash, engine)
	);

	CREATE INDEX IF NOT EXISTS idx_plans_test ON plans(test_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// =============================================================================
// RUNS AND PLANS
// =============================================================================

// SaveRun records a planning run and its per-test sequences.
func (s *Store) SaveRun(runID, strategy string, sequences []*types.ExecutionSequence, summary interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO runs (run_id, started_at, strategy, test_count, summary) VALUES (?, ?, ?, ?, ?)`,
		runID, time.Now().Unix(), strategy, len(sequences), string(summaryJSON),
	); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, seq := range sequences {
		if seq == nil {
			continue
		}
		data, err := json.Marshal(seq)
		if err != nil {
			return fmt.Errorf("failed to marshal sequence for %s: %w", seq.SourceTestID, err)
		}
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO plans (run_id, test_id, coverage, sequence_json) VALUES (?, ?, ?, ?)`,
			runID, seq.SourceTestID, string(seq.Coverage), string(data),
		); err != nil {
			return fmt.Errorf("failed to insert plan for %s: %w", seq.SourceTestID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}

	logging.Store("Saved run %s with %d plans", runID, len(sequences))
	return nil
}

// LoadPlan retrieves the stored sequence for one test in one run.
func (s *Store) LoadPlan(runID, testID string) (*types.ExecutionSequence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRow(
		`SELECT sequence_json FROM plans WHERE run_id = ? AND test_id = ?`,
		runID, testID,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no plan for test %s in run %s", testID, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}

	var seq types.ExecutionSequence
	if err := json.Unmarshal([]byte(data), &seq); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}
	return &seq, nil
}

// LoadRunPlans retrieves all sequences of a run, ordered by test ID.
func (s *Store) LoadRunPlans(runID string) ([]*types.ExecutionSequence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT sequence_json FROM plans WHERE run_id = ? ORDER BY test_id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}
	defer rows.Close()

	var out []*types.ExecutionSequence
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		var seq types.ExecutionSequence
		if err := json.Unmarshal([]byte(data), &seq); err != nil {
			return nil, fmt.Errorf("failed to decode plan: %w", err)
		}
		out = append(out, &seq)
	}
	return out, rows.Err()
}

// LatestRunID returns the most recently started run, or empty when none.
func (s *Store) LatestRunID() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runID string
	err := s.db.QueryRow(`SELECT run_id FROM runs ORDER BY started_at DESC LIMIT 1`).Scan(&runID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query runs: %w", err)
	}
	return runID, nil
}

// =============================================================================
// EMBEDDING CACHE
// =============================================================================

// TextHash returns the cache key for a text: hex SHA-256.
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// CachedVector returns the cached embedding for a text under the given
// engine name, or nil when absent.
func (s *Store) CachedVector(textHash, engine string) ([]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var blob []byte
	err := s.db.QueryRow(
		`SELECT vector FROM embeddings WHERE text_hash = ? AND engine = ?`,
		textHash, engine,
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query embedding cache: %w", err)
	}
	return blobToVector(blob)
}

// StoreVector caches an embedding for a text under the given engine name.
func (s *Store) StoreVector(textHash, engine string, vector []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := vectorToBlob(vector)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(
		`INSERT OR REPLACE INTO embeddings (text_hash, engine, vector, created_at) VALUES (?, ?, ?, ?)`,
		textHash, engine, blob, time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}
	return nil
}

// vectorToBlob encodes a float32 vector as little-endian bytes.
func vectorToBlob(vec []float32) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, vec); err != nil {
		return nil, fmt.Errorf("failed to encode vector: %w", err)
	}
	return buf.Bytes(), nil
}

// blobToVector decodes little-endian bytes back into a float32 vector.
func blobToVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	if err := binary.Read(bytes.NewReader(blob), binary.LittleEndian, &vec); err != nil {
		return nil, fmt.Errorf("failed to decode vector: %w", err)
	}
	return vec, nil
}
