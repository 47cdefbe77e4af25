// Package checkpoint persists the two durable per-item artifacts the
// pipeline guarantees: a scraped checkpoint written before summarization
// begins and a complete checkpoint written on success. A scraped artifact
// without its complete twin is the canonical external signal that
// summarization is still running or has failed.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Key identifies one item's artifacts on disk.
type Key struct {
	BatchID string
	Source  string
	ItemID  string
}

func (k Key) base() string {
	return fmt.Sprintf("%s_%s_%s", sanitize(k.BatchID), sanitize(k.Source), sanitize(k.ItemID))
}

// sanitize keeps artifact names filesystem-safe; item ids are caller-supplied
// and may contain URLs or path separators.
func sanitize(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '.':
			return r
		default:
			return '-'
		}
	}, value)
}

// ScrapedArtifact is the first checkpoint: proof that scraping finished.
type ScrapedArtifact struct {
	BatchID   string          `json:"batch_id"`
	Source    string          `json:"source"`
	ItemID    string          `json:"item_id"`
	ScrapedAt time.Time       `json:"scraped_at"`
	Payload   json.RawMessage `json:"payload"`
}

// CompleteArtifact is the second checkpoint: payload plus summary.
type CompleteArtifact struct {
	BatchID     string          `json:"batch_id"`
	Source      string          `json:"source"`
	ItemID      string          `json:"item_id"`
	CompletedAt time.Time       `json:"completed_at"`
	Payload     json.RawMessage `json:"payload"`
	Summary     json.RawMessage `json:"summary"`
}

// Store reads and writes checkpoint artifacts under a single directory.
type Store struct {
	dir string
}

// NewStore ensures the checkpoint directory exists.
func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("checkpoint directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the artifact directory.
func (s *Store) Dir() string {
	return s.dir
}

// ScrapedPath returns the on-disk location of the scraped artifact.
func (s *Store) ScrapedPath(key Key) string {
	return filepath.Join(s.dir, key.base()+"_scraped.json")
}

// CompletePath returns the on-disk location of the complete artifact.
func (s *Store) CompletePath(key Key) string {
	return filepath.Join(s.dir, key.base()+"_complete.json")
}

// HasScraped reports whether the scraped artifact exists.
func (s *Store) HasScraped(key Key) bool {
	return exists(s.ScrapedPath(key))
}

// HasComplete reports whether the complete artifact exists.
func (s *Store) HasComplete(key Key) bool {
	return exists(s.CompletePath(key))
}

// WriteScraped persists the first checkpoint. Writing over an existing
// artifact is allowed and atomic; callers that resume a run check
// HasScraped first to preserve the original timestamp.
func (s *Store) WriteScraped(key Key, payload json.RawMessage) error {
	artifact := ScrapedArtifact{
		BatchID:   key.BatchID,
		Source:    key.Source,
		ItemID:    key.ItemID,
		ScrapedAt: time.Now().UTC(),
		Payload:   payload,
	}
	return s.writeJSON(s.ScrapedPath(key), artifact)
}

// WriteComplete persists the second checkpoint.
func (s *Store) WriteComplete(key Key, payload, summary json.RawMessage) error {
	artifact := CompleteArtifact{
		BatchID:     key.BatchID,
		Source:      key.Source,
		ItemID:      key.ItemID,
		CompletedAt: time.Now().UTC(),
		Payload:     payload,
		Summary:     summary,
	}
	return s.writeJSON(s.CompletePath(key), artifact)
}

// ReadScraped loads the scraped artifact, or nil when absent.
func (s *Store) ReadScraped(key Key) (*ScrapedArtifact, error) {
	data, err := os.ReadFile(s.ScrapedPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read scraped artifact: %w", err)
	}
	var artifact ScrapedArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("decode scraped artifact: %w", err)
	}
	return &artifact, nil
}

// ReadComplete loads the complete artifact, or nil when absent.
func (s *Store) ReadComplete(key Key) (*CompleteArtifact, error) {
	data, err := os.ReadFile(s.CompletePath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read complete artifact: %w", err)
	}
	var artifact CompleteArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("decode complete artifact: %w", err)
	}
	return &artifact, nil
}

// writeJSON writes via a temp file plus rename so a crash mid-write never
// leaves a truncated artifact behind.
func (s *Store) writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("publish artifact: %w", err)
	}
	return nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
