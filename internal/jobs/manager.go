package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobFinished = errors.New("job already finished")
)

// DefaultMaxRecords bounds how many finished jobs are remembered.
const DefaultMaxRecords = 500

// Manager tracks job records in memory. It does not execute jobs; the
// executor reports transitions through it and registers a cancel function
// so that a running job can be stopped from another request.
type Manager struct {
	mu         sync.RWMutex
	records    map[string]*Record
	cancels    map[string]context.CancelFunc
	maxRecords int
	logger     *slog.Logger
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	MaxRecords int
	Logger     *slog.Logger
}

// NewManager creates a new job manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = DefaultMaxRecords
	}
	return &Manager{
		records:    make(map[string]*Record),
		cancels:    make(map[string]context.CancelFunc),
		maxRecords: cfg.MaxRecords,
		logger:     cfg.Logger,
	}
}

// Create registers a new job with a fresh identifier.
func (m *Manager) Create(metadata map[string]any) *Record {
	record := NewRecord(uuid.NewString(), metadata)

	m.mu.Lock()
	m.records[record.ID] = record
	m.pruneLocked()
	m.mu.Unlock()

	m.logger.Info("job created", "job_id", record.ID)
	return record.clone()
}

// Get returns a copy of a job record.
func (m *Manager) Get(jobID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return r.clone(), nil
}

// ListFilter specifies criteria for listing jobs.
type ListFilter struct {
	Status Status // Filter by status (empty = all)
	Limit  int    // Max results (0 = default 100)
}

// List returns jobs matching the filter, newest first.
func (m *Manager) List(filter ListFilter) []*Record {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	m.mu.RLock()
	out := make([]*Record, 0, len(m.records))
	for _, r := range m.records {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, r.clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// UpdateStatus moves a job to a new status. Transitions out of a terminal
// status are rejected.
func (m *Manager) UpdateStatus(jobID string, status Status, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if r.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrJobFinished, jobID, r.Status)
	}

	now := time.Now()
	if r.StartedAt == nil && status != StatusCreated {
		r.StartedAt = &now
	}
	r.Status = status
	if errMsg != "" {
		r.Error = errMsg
	}
	if status.Terminal() {
		r.CompletedAt = &now
		delete(m.cancels, jobID)
	}
	m.logger.Debug("job status updated", "job_id", jobID, "status", status)
	return nil
}

// UpdateMetadata merges keys into a job's metadata.
func (m *Manager) UpdateMetadata(jobID string, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if r.Metadata == nil {
		r.Metadata = make(map[string]any, len(metadata))
	}
	for k, v := range metadata {
		r.Metadata[k] = v
	}
	return nil
}

// SetCancel registers the function that cancels a running job.
func (m *Manager) SetCancel(jobID string, cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[jobID]; ok && !r.Status.Terminal() {
		m.cancels[jobID] = cancel
	}
}

// Cancel requests cancellation of a running job. The job observes it at its
// next page or file boundary; the final status is set by the executor.
func (m *Manager) Cancel(jobID string) error {
	m.mu.Lock()
	r, ok := m.records[jobID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if r.Status.Terminal() {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrJobFinished, jobID, r.Status)
	}
	cancel := m.cancels[jobID]
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.logger.Info("job cancellation requested", "job_id", jobID)
	return nil
}

// Counts returns the number of tracked jobs per status.
func (m *Manager) Counts() map[Status]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[Status]int)
	for _, r := range m.records {
		counts[r.Status]++
	}
	return counts
}

// pruneLocked drops the oldest finished records beyond maxRecords.
func (m *Manager) pruneLocked() {
	if len(m.records) <= m.maxRecords {
		return
	}
	finished := make([]*Record, 0, len(m.records))
	for _, r := range m.records {
		if r.Status.Terminal() {
			finished = append(finished, r)
		}
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].CreatedAt.Before(finished[j].CreatedAt)
	})
	for _, r := range finished {
		if len(m.records) <= m.maxRecords {
			break
		}
		delete(m.records, r.ID)
	}
}
