package job

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/backtestcore/internal/coreerr"
)

// Job tracks one running optimization sweep's progress and persistence
// cadence. A Job is driven by its caller: RecordIteration records one
// combination's result, and ShouldPause/ShouldCancel report the flags set
// through the Manager. The optimizers in pkg/backtest do not call any of
// these themselves.
type Job struct {
	id    string
	store *Store
	log   zerolog.Logger

	checkpointEveryIterations int
	checkpointEveryInterval   time.Duration

	pauseFlag  atomic.Bool
	cancelFlag atomic.Bool

	mu                  sync.Mutex
	cp                  Checkpoint
	sinceLastCheckpoint int
	lastCheckpointAt    time.Time
}

// ID returns the job's identifier.
func (j *Job) ID() string { return j.id }

// ShouldPause reports whether a pause has been requested. The caller's
// sweep loop must check this between combinations and, on true, stop
// issuing new work, persist a final checkpoint via Finish(StatusPaused),
// and return.
func (j *Job) ShouldPause() bool { return j.pauseFlag.Load() }

// ShouldCancel reports whether cancellation has been requested.
func (j *Job) ShouldCancel() bool { return j.cancelFlag.Load() }

// RecordIteration appends one combination's result, advances
// current_iteration, and persists a checkpoint if the cadence threshold
// (≥50 iterations or ≥60s, per config) has been reached.
func (j *Job) RecordIteration(result json.RawMessage, bestSoFar json.RawMessage) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.cp.PartialResults = append(j.cp.PartialResults, result)
	j.cp.CurrentIteration++
	if bestSoFar != nil {
		j.cp.BestSoFar = bestSoFar
	}
	j.sinceLastCheckpoint++

	due := j.sinceLastCheckpoint >= j.checkpointEveryIterations ||
		time.Since(j.lastCheckpointAt) >= j.checkpointEveryInterval
	if !due {
		return nil
	}
	return j.persistLocked(StatusRunning)
}

// Finish persists a terminal checkpoint with the given status.
func (j *Job) Finish(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.persistLocked(status)
}

func (j *Job) persistLocked(status Status) error {
	j.cp.Status = status
	j.cp.UpdatedAt = time.Now()
	if err := j.store.Save(j.cp); err != nil {
		j.log.Error().Err(err).Str("job_id", j.id).Msg("checkpoint save failed")
		return err
	}
	j.sinceLastCheckpoint = 0
	j.lastCheckpointAt = time.Now()
	return nil
}

// Snapshot returns a copy of the job's current checkpoint state.
func (j *Job) Snapshot() Checkpoint {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cp
}

// Manager tracks in-flight optimization jobs: start/status/pause/resume/
// cancel/result, backed by a Store for checkpoint persistence.
type Manager struct {
	store *Store
	log   zerolog.Logger

	checkpointEveryIterations int
	checkpointEveryInterval   time.Duration

	mu   sync.Mutex
	jobs map[string]*Job
}

// NewManager builds a Manager persisting checkpoints via store, logging
// through log, and checkpointing at least every checkpointEveryIterations
// iterations or checkpointEveryInterval, whichever comes first.
func NewManager(store *Store, log zerolog.Logger, checkpointEveryIterations int, checkpointEveryInterval time.Duration) *Manager {
	return &Manager{
		store:                     store,
		log:                       log,
		checkpointEveryIterations: checkpointEveryIterations,
		checkpointEveryInterval:   checkpointEveryInterval,
		jobs:                      make(map[string]*Job),
	}
}

// Start creates a new job for the given (caller-owned) config/grid_spec
// and seed, persists its initial RUNNING checkpoint, and returns it.
// Grid generation is a pure function of config and seed, so this package
// never materializes the grid itself.
func (m *Manager) Start(config, gridSpec json.RawMessage, seed int64, totalIterations int) (*Job, error) {
	j := &Job{
		id:                        NewJobID(),
		store:                     m.store,
		log:                       m.log,
		checkpointEveryIterations: m.checkpointEveryIterations,
		checkpointEveryInterval:   m.checkpointEveryInterval,
		cp: Checkpoint{
			Config:          config,
			GridSpec:        gridSpec,
			Seed:            seed,
			TotalIterations: totalIterations,
			Status:          StatusRunning,
			UpdatedAt:       time.Now(),
		},
	}
	j.cp.JobID = j.id

	if err := j.persistLocked(StatusRunning); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.jobs[j.id] = j
	m.mu.Unlock()

	m.log.Info().Str("job_id", j.id).Int("total_iterations", totalIterations).Msg("job started")
	return j, nil
}

// Resume clears jobID's pause flag and returns it: from memory if this
// Manager still tracks it, else by reloading its checkpoint from disk and
// re-persisting it as RUNNING. It regenerates no grid and skips no
// combinations; the checkpoint's Seed and CurrentIteration are only handed
// back to the caller.
func (m *Manager) Resume(jobID string) (*Job, error) {
	m.mu.Lock()
	if existing, ok := m.jobs[jobID]; ok {
		m.mu.Unlock()
		existing.pauseFlag.Store(false)
		return existing, nil
	}
	m.mu.Unlock()

	cp, err := m.store.Load(jobID)
	if err != nil {
		return nil, err
	}
	if cp.Status == StatusCompleted || cp.Status == StatusCancelled {
		return nil, coreerr.New(coreerr.SimulationError,
			fmt.Sprintf("job %s cannot be resumed from terminal status %s", jobID, cp.Status), nil)
	}

	j := &Job{
		id:                        jobID,
		store:                     m.store,
		log:                       m.log,
		checkpointEveryIterations: m.checkpointEveryIterations,
		checkpointEveryInterval:   m.checkpointEveryInterval,
		cp:                        cp,
	}
	if err := j.persistLocked(StatusRunning); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.jobs[jobID] = j
	m.mu.Unlock()

	m.log.Info().Str("job_id", jobID).Int("resume_from_iteration", cp.CurrentIteration).Msg("job resumed")
	return j, nil
}

// Pause requests that jobID's sweep loop stop after its current
// combination; the loop observes this via Job.ShouldPause and is
// responsible for calling Finish(StatusPaused) once it has stopped.
func (m *Manager) Pause(jobID string) error {
	j, err := m.lookup(jobID)
	if err != nil {
		return err
	}
	j.pauseFlag.Store(true)
	return nil
}

// Cancel requests that jobID's sweep loop stop permanently; the loop
// observes this via Job.ShouldCancel and is responsible for calling
// Finish(StatusCancelled).
func (m *Manager) Cancel(jobID string) error {
	j, err := m.lookup(jobID)
	if err != nil {
		return err
	}
	j.cancelFlag.Store(true)
	return nil
}

// Status returns jobID's current checkpoint, from memory if the job is
// still tracked by this Manager instance, else from disk.
func (m *Manager) Status(jobID string) (Checkpoint, error) {
	m.mu.Lock()
	j, ok := m.jobs[jobID]
	m.mu.Unlock()
	if ok {
		return j.Snapshot(), nil
	}
	return m.store.Load(jobID)
}

// Result returns jobID's checkpoint; partial_results and best_so_far are
// populated regardless of whether the job is still running, paused, or
// finished.
func (m *Manager) Result(jobID string) (Checkpoint, error) {
	return m.Status(jobID)
}

func (m *Manager) lookup(jobID string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %q is not tracked by this manager instance", jobID)
	}
	return j, nil
}
