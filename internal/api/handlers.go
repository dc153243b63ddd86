package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/brightboard/videoforge/internal/models"
	"github.com/brightboard/videoforge/internal/queue"
	"github.com/brightboard/videoforge/internal/store"
)

// JobQueue is the submission side of the work queue. *queue.Queue satisfies
// it; tests substitute a stub.
type JobQueue interface {
	Enqueue(ctx context.Context, task *queue.Task) error
}

type Handler struct {
	store store.Store
	queue JobQueue
}

func NewHandler(st store.Store, q JobQueue) *Handler {
	return &Handler{store: st, queue: q}
}

// SubmitJob handles POST /v1/jobs. Submission is asynchronous: the job is
// persisted and queued, and the pipeline runs in the background.
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if strings.TrimSpace(req.Topic) == "" {
		respondError(w, http.StatusBadRequest, "Topic is required")
		return
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:              uuid.New().String(),
		Owner:           req.Owner,
		Topic:           strings.TrimSpace(req.Topic),
		Status:          models.JobStatusQueued,
		ProgressMessage: "queued",
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := h.store.CreateJob(r.Context(), job); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create job")
		return
	}

	task := &queue.Task{
		JobID:       job.ID,
		Topic:       job.Topic,
		ContextRefs: req.ContextRefs,
		Owner:       req.Owner,
		EnqueuedAt:  now,
	}
	if err := h.queue.Enqueue(r.Context(), task); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}

	respondJSON(w, http.StatusAccepted, models.SubmitJobResponse{
		JobID:  job.ID,
		Status: job.Status,
	})
}

// GetJob handles GET /v1/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, models.StatusResponse(job))
}

// ListJobs handles GET /v1/jobs with an optional owner filter.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	jobs, err := h.store.ListJobs(r.Context(), owner)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	out := make([]models.JobStatusResponse, 0, len(jobs))
	for i := range jobs {
		out = append(out, models.StatusResponse(&jobs[i]))
	}
	respondJSON(w, http.StatusOK, out)
}

// DownloadFinal handles GET /v1/jobs/{id}/download
func (h *Handler) DownloadFinal(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	if job.FinalArtifact == nil {
		respondError(w, http.StatusNotFound, "Job has no final video")
		return
	}
	w.Header().Set("Content-Disposition", "attachment; filename=final_video.mp4")
	http.ServeFile(w, r, *job.FinalArtifact)
}

type jobFile struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

// ListFiles handles GET /v1/jobs/{id}/files
func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	if job.OutputDir == "" {
		respondJSON(w, http.StatusOK, []jobFile{})
		return
	}

	var files []jobFile
	err := filepath.WalkDir(job.OutputDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(job.OutputDir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		files = append(files, jobFile{
			Name: rel,
			Size: info.Size(),
			URL:  "/v1/jobs/" + job.ID + "/files/" + rel,
		})
		return nil
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list job files")
		return
	}
	respondJSON(w, http.StatusOK, files)
}

// GetFile handles GET /v1/jobs/{id}/files/*
func (h *Handler) GetFile(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	if job.OutputDir == "" {
		respondError(w, http.StatusNotFound, "Job has no output directory")
		return
	}

	name := chi.URLParam(r, "*")
	path, ok := resolveWithin(job.OutputDir, name)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid file path")
		return
	}
	if _, err := os.Stat(path); err != nil {
		respondError(w, http.StatusNotFound, "File not found")
		return
	}
	http.ServeFile(w, r, path)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) loadJob(w http.ResponseWriter, r *http.Request) (*models.Job, bool) {
	id := chi.URLParam(r, "id")
	job, err := h.store.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Job not found")
		} else {
			respondError(w, http.StatusInternalServerError, "Failed to load job")
		}
		return nil, false
	}
	return job, true
}

// resolveWithin joins name onto root and rejects anything that escapes it.
func resolveWithin(root, name string) (string, bool) {
	if name == "" || strings.Contains(name, "\x00") {
		return "", false
	}
	path := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return path, true
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
