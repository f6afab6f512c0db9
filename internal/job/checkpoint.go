// Package job provides file-based checkpointing for long-running
// optimization sweeps, with pause/resume/cancel and a progress surface.
// Checkpoints are plain JSON files, not database rows, so a job survives a
// process restart with nothing but its jobs directory.
package job

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the job lifecycle state surfaced by Checkpoint.Status.
type Status string

const (
	StatusRunning          Status = "RUNNING"
	StatusPaused           Status = "PAUSED"
	StatusCompleted        Status = "COMPLETED"
	StatusCompletedPartial Status = "COMPLETED_PARTIAL"
	StatusFailed           Status = "FAILED"
	StatusCancelled        Status = "CANCELLED"
)

// Checkpoint is the on-disk schema at <jobs_root>/<job_id>.json. Config and
// GridSpec are left as raw JSON
// since their shape belongs to the optimizer, not the Job Manager; this
// package only owns persistence, status, and progress bookkeeping.
type Checkpoint struct {
	JobID            string            `json:"job_id"`
	Config           json.RawMessage   `json:"config"`
	GridSpec         json.RawMessage   `json:"grid_spec"`
	Seed             int64             `json:"seed"`
	RoundIdx         int               `json:"round_idx"`
	CurrentIteration int               `json:"current_iteration"`
	TotalIterations  int               `json:"total_iterations"`
	PartialResults   []json.RawMessage `json:"partial_results"`
	BestSoFar        json.RawMessage   `json:"best_so_far"`
	Status           Status            `json:"status"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Store persists Checkpoints under root, one file per job_id. Writes are
// single-writer per job_id, guarded by a per-job lock.
type Store struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore returns a Store rooted at root, creating the directory if
// necessary.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create jobs root: %w", err)
	}
	return &Store{root: root, locks: make(map[string]*sync.Mutex)}, nil
}

func (s *Store) path(jobID string) string {
	return filepath.Join(s.root, jobID+".json")
}

func (s *Store) lockFor(jobID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[jobID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[jobID] = l
	}
	return l
}

// Save atomically (over)writes the checkpoint for cp.JobID: encode to a
// temp file beside the target, fsync, then rename into place, mirroring
// the OHLCV Store's write path (internal/store/columnfile.go).
func (s *Store) Save(cp Checkpoint) error {
	lock := s.lockFor(cp.JobID)
	lock.Lock()
	defer lock.Unlock()

	path := s.path(cp.JobID)
	tmp, err := os.CreateTemp(s.root, ".tmp-"+cp.JobID+"-*.json")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	if err := enc.Encode(cp); err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush temp checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp checkpoint: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename checkpoint into place: %w", err)
	}
	return nil
}

// Load reads the checkpoint for jobID from disk.
func (s *Store) Load(jobID string) (Checkpoint, error) {
	lock := s.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	data, err := os.ReadFile(s.path(jobID))
	if err != nil {
		return Checkpoint{}, fmt.Errorf("read checkpoint %s: %w", jobID, err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint %s: %w", jobID, err)
	}
	return cp, nil
}

// NewJobID mints a fresh job identifier.
func NewJobID() string {
	return uuid.NewString()
}
