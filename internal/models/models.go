package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Enums

// JobStatus is the lifecycle state of a video generation job. Transitions
// only move forward through the pipeline; any non-terminal state may jump
// to failed. Complete and failed are terminal.
type JobStatus string

const (
	JobStatusQueued       JobStatus = "queued"
	JobStatusPlanning     JobStatus = "planning"
	JobStatusGenerating   JobStatus = "generating"
	JobStatusRendering    JobStatus = "rendering"
	JobStatusSynthesizing JobStatus = "synthesizing"
	JobStatusMerging      JobStatus = "merging"
	JobStatusComplete     JobStatus = "complete"
	JobStatusFailed       JobStatus = "failed"
)

// statusOrder gives each pipeline state a rank so forward-only transitions
// can be checked with a comparison.
var statusOrder = map[JobStatus]int{
	JobStatusQueued:       0,
	JobStatusPlanning:     1,
	JobStatusGenerating:   2,
	JobStatusRendering:    3,
	JobStatusSynthesizing: 4,
	JobStatusMerging:      5,
	JobStatusComplete:     6,
	JobStatusFailed:       7,
}

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed
}

// CanTransition reports whether a job in state s may move to state to.
// Allowed moves are strictly forward through the pipeline, plus failed
// from any non-terminal state.
func (s JobStatus) CanTransition(to JobStatus) bool {
	if s.Terminal() {
		return false
	}
	if to == JobStatusFailed {
		return true
	}
	from, ok := statusOrder[s]
	if !ok {
		return false
	}
	next, ok := statusOrder[to]
	if !ok {
		return false
	}
	return next > from
}

// Engine identifies which of the two rendering technologies a scene's
// source targets. The set is closed: adding an engine means touching
// every switch on this type.
type Engine string

const (
	// EngineManim is the primary, declarative engine (Python, LaTeX-capable).
	EngineManim Engine = "manim"
	// EngineRemotion is the secondary, component-based engine (React/TypeScript).
	EngineRemotion Engine = "remotion"
)

// RenderStatus is the per-scene rendering outcome.
type RenderStatus string

const (
	RenderStatusPending       RenderStatus = "pending"
	RenderStatusRendered      RenderStatus = "rendered"
	RenderStatusFailedPrimary RenderStatus = "failed_primary"
	RenderStatusFailedAll     RenderStatus = "failed_all"
)

// ErrorKind classifies the fatal job failure modes. Non-fatal conditions
// (per-scene render failures, narration failures, dropped clips) never
// produce a JobError.
type ErrorKind string

const (
	ErrPlanningFailed     ErrorKind = "planning_failed"
	ErrPersistenceFailed  ErrorKind = "persistence_failed"
	ErrNoRenderableScenes ErrorKind = "no_renderable_scenes"
)

// JobError is set exactly once, when a job reaches the failed state.
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Scene is one planned unit of visual content within a job.
type Scene struct {
	Index          int          `json:"index"` // 1-based, unique within a job
	Title          string       `json:"title"`
	Engine         Engine       `json:"engine"`
	Description    string       `json:"description"`
	Narration      string       `json:"narration,omitempty"`
	RenderAttempts int          `json:"render_attempts"`
	RenderStatus   RenderStatus `json:"render_status"`
	ClipRef        *string      `json:"clip_ref,omitempty"`
	AudioRef       *string      `json:"audio_ref,omitempty"`

	// Identifiers derived deterministically from index + title at parse time.
	ClassName string `json:"class_name"` // Manim scene class
	CompID    string `json:"comp_id"`    // Remotion composition id
	CompName  string `json:"comp_name"`  // Remotion component name
}

// SwitchToFallback flips the scene to the secondary engine. The switch is
// one-directional and happens at most once per scene.
func (s *Scene) SwitchToFallback() error {
	if s.Engine != EngineManim {
		return fmt.Errorf("scene %d: no fallback path from engine %q", s.Index, s.Engine)
	}
	s.Engine = EngineRemotion
	return nil
}

// SceneList wraps []Scene so it can live in a single JSONB column; the
// store persists jobs as whole records, never field-by-field.
type SceneList []Scene

func (s SceneList) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

func (s *SceneList) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("scenes: cannot scan %T", value)
	}
	return json.Unmarshal(bytes, s)
}

// Job is one end-to-end request to produce a video from a topic. A job is
// owned exclusively by the one pipeline worker processing it; everyone
// else only reads.
type Job struct {
	ID              string    `json:"job_id"`
	Owner           *string   `json:"owner,omitempty"`
	Topic           string    `json:"topic"`
	Status          JobStatus `json:"status"`
	ProgressMessage string    `json:"progress_message"`
	Scenes          SceneList `json:"scenes,omitempty"`
	OutputDir       string    `json:"output_dir,omitempty"`
	FinalArtifact   *string   `json:"final_artifact,omitempty"`
	Error           *JobError `json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Scene returns the scene with the given 1-based index, or nil.
func (j *Job) Scene(index int) *Scene {
	for i := range j.Scenes {
		if j.Scenes[i].Index == index {
			return &j.Scenes[i]
		}
	}
	return nil
}

// RenderedScenes returns the scenes eligible for merging, in ascending
// index order. Scenes that exhausted both engines never appear here.
func (j *Job) RenderedScenes() []Scene {
	out := make([]Scene, 0, len(j.Scenes))
	for _, s := range j.Scenes {
		if s.RenderStatus == RenderStatusRendered {
			out = append(out, s)
		}
	}
	return out
}

// DTOs for API requests and responses

type SubmitJobRequest struct {
	Topic       string   `json:"topic"`
	ContextRefs []string `json:"context_refs,omitempty"`
	Owner       *string  `json:"owner,omitempty"`
}

type SubmitJobResponse struct {
	JobID  string    `json:"job_id"`
	Status JobStatus `json:"status"`
}

// SceneSummary is the flattened per-scene shape returned by status polling.
type SceneSummary struct {
	Index        int          `json:"index"`
	Title        string       `json:"title"`
	Engine       Engine       `json:"engine"`
	RenderStatus RenderStatus `json:"render_status"`
}

// JobStatusResponse is the flat job record returned by the status endpoint.
type JobStatusResponse struct {
	JobID           string         `json:"job_id"`
	Topic           string         `json:"topic"`
	Status          JobStatus      `json:"status"`
	ProgressMessage string         `json:"progress_message"`
	Scenes          []SceneSummary `json:"scenes,omitempty"`
	OutputDir       string         `json:"output_dir,omitempty"`
	FinalArtifact   *string        `json:"final_artifact,omitempty"`
	Error           *JobError      `json:"error,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// StatusResponse flattens a job into the polling shape.
func StatusResponse(j *Job) JobStatusResponse {
	resp := JobStatusResponse{
		JobID:           j.ID,
		Topic:           j.Topic,
		Status:          j.Status,
		ProgressMessage: j.ProgressMessage,
		OutputDir:       j.OutputDir,
		FinalArtifact:   j.FinalArtifact,
		Error:           j.Error,
		CreatedAt:       j.CreatedAt,
	}
	for _, s := range j.Scenes {
		resp.Scenes = append(resp.Scenes, SceneSummary{
			Index:        s.Index,
			Title:        s.Title,
			Engine:       s.Engine,
			RenderStatus: s.RenderStatus,
		})
	}
	return resp
}
