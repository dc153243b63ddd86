// Package store provides durable keyed persistence for job records.
//
// The pipeline owns exactly one writer per job and persists the whole
// record on every change; status polling performs concurrent reads.
// Partial, field-level writes are deliberately not part of the interface.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/brightboard/videoforge/internal/models"
)

// ErrNotFound is returned when no job exists for the requested id.
var ErrNotFound = errors.New("job not found")

// Store is the job persistence contract the orchestrator depends on.
type Store interface {
	// CreateJob inserts a new job record.
	CreateJob(ctx context.Context, job *models.Job) error
	// SaveJob overwrites the full job record.
	SaveJob(ctx context.Context, job *models.Job) error
	// GetJob returns the job with the given id, or ErrNotFound.
	GetJob(ctx context.Context, id string) (*models.Job, error)
	// ListJobs returns jobs newest-first, optionally filtered by owner.
	ListJobs(ctx context.Context, owner string) ([]models.Job, error)
}

// MemoryStore keeps jobs in memory. It backs dev mode (no DATABASE_URL)
// and tests. Reads may run concurrently with the single writer.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]models.Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]models.Job)}
}

func (m *MemoryStore) CreateJob(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

func (m *MemoryStore) SaveJob(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[job.ID]; !ok {
		return ErrNotFound
	}
	job.UpdatedAt = time.Now().UTC()
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

func (m *MemoryStore) GetJob(_ context.Context, id string) (*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneJob(&job)
	return &out, nil
}

func (m *MemoryStore) ListJobs(_ context.Context, owner string) ([]models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]models.Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		if owner != "" && (job.Owner == nil || *job.Owner != owner) {
			continue
		}
		jobs = append(jobs, cloneJob(&job))
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// cloneJob copies a job deeply enough that the caller's later mutations
// don't leak into the stored record (and vice versa).
func cloneJob(job *models.Job) models.Job {
	out := *job
	if job.Scenes != nil {
		out.Scenes = make(models.SceneList, len(job.Scenes))
		copy(out.Scenes, job.Scenes)
	}
	if job.Owner != nil {
		owner := *job.Owner
		out.Owner = &owner
	}
	if job.FinalArtifact != nil {
		fa := *job.FinalArtifact
		out.FinalArtifact = &fa
	}
	if job.Error != nil {
		e := *job.Error
		out.Error = &e
	}
	return out
}
