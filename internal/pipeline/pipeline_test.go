package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brightboard/videoforge/internal/media"
	"github.com/brightboard/videoforge/internal/models"
	"github.com/brightboard/videoforge/internal/oracle"
	"github.com/brightboard/videoforge/internal/queue"
	"github.com/brightboard/videoforge/internal/render"
	"github.com/brightboard/videoforge/internal/store"
)

const samplePlan = `# Video Plan: Pythagorean theorem

## Scenes

### Scene 1: Right Triangles [MANIM]
- Duration: 10s
- Content: introduce the triangle
- Narration: "A right triangle hides a simple secret."

### Scene 2: Square Areas [MANIM]
- Content: squares on each side
- Narration: "Build a square on every side."

### Scene 3: Visual Proof [REMOTION]
- Content: rearrangement proof
- Narration: "Watch the squares rearrange."

### Scene 4: Applications [MANIM]
- Content: where it shows up
`

type fakeOracle struct {
	plan            string
	planErr         error
	fallbackPrompts []string
}

func (f *fakeOracle) Generate(_ context.Context, req oracle.Request) (string, error) {
	switch {
	case strings.Contains(req.UserPrompt, "Create a video about"):
		return f.plan, f.planErr
	case strings.Contains(req.UserPrompt, "SCENES TO IMPLEMENT IN MANIM"):
		return "```python\nfrom manim import *\n```", nil
	case strings.Contains(req.UserPrompt, "SCENES TO IMPLEMENT IN REMOTION"):
		return "```tsx\nroot\n```\n```tsx\ncomp\n```", nil
	case strings.Contains(req.UserPrompt, "failed to render with its original engine"):
		f.fallbackPrompts = append(f.fallbackPrompts, req.UserPrompt)
		return "```tsx\nfallback root\n```\n```tsx\nfallback comp\n```", nil
	case strings.Contains(req.UserPrompt, "Summarize the following video topic"):
		return "Short Title", nil
	}
	return "", fmt.Errorf("unexpected prompt: %.60s", req.UserPrompt)
}

type fakeKnowledge struct{}

func (fakeKnowledge) SystemPrompt() (string, error) { return "system knowledge", nil }

type fakeRenderer struct {
	engine models.Engine
	fail   map[int]error
	calls  int
}

func (f *fakeRenderer) Render(_ context.Context, scene models.Scene, workdir string) (string, error) {
	f.calls++
	if err, ok := f.fail[scene.Index]; ok {
		return "", err
	}
	return filepath.Join(workdir, "clips", fmt.Sprintf("clip_%02d.mp4", scene.Index)), nil
}

type fakeStager struct {
	staged  []int
	cleaned bool
}

func (f *fakeStager) StageSceneSources(_ string, sceneIndex int, _, _ string) error {
	f.staged = append(f.staged, sceneIndex)
	return nil
}

func (f *fakeStager) Cleanup(string) { f.cleaned = true }

type fakeSynth struct {
	fail bool
}

func (f *fakeSynth) Synthesize(_ context.Context, _, outPath string) error {
	if f.fail {
		return fmt.Errorf("voice service unavailable")
	}
	return os.WriteFile(outPath, []byte("audio"), 0o644)
}

type fakeMerger struct {
	clips []media.ClipInput
	err   error
}

func (m *fakeMerger) Merge(_ context.Context, workdir string, clips []media.ClipInput) (string, error) {
	m.clips = clips
	if m.err != nil {
		return "", m.err
	}
	final := filepath.Join(workdir, "final_video.mp4")
	if err := os.WriteFile(final, []byte("final"), 0o644); err != nil {
		return "", err
	}
	return final, nil
}

type flakyStore struct {
	store.Store
	saves  int
	failOn int
}

func (s *flakyStore) SaveJob(ctx context.Context, job *models.Job) error {
	s.saves++
	if s.saves == s.failOn {
		return fmt.Errorf("connection reset")
	}
	return s.Store.SaveJob(ctx, job)
}

type recordingStore struct {
	store.Store
	sceneStates [][]models.Scene
}

func (s *recordingStore) SaveJob(ctx context.Context, job *models.Job) error {
	scenes := make([]models.Scene, len(job.Scenes))
	copy(scenes, job.Scenes)
	s.sceneStates = append(s.sceneStates, scenes)
	return s.Store.SaveJob(ctx, job)
}

type env struct {
	oracle   *fakeOracle
	manim    *fakeRenderer
	remotion *fakeRenderer
	stager   *fakeStager
	merger   *fakeMerger
	store    store.Store
	orch     *Orchestrator
}

func newEnv(t *testing.T, st store.Store) *env {
	t.Helper()
	e := &env{
		oracle:   &fakeOracle{plan: samplePlan},
		manim:    &fakeRenderer{engine: models.EngineManim, fail: map[int]error{}},
		remotion: &fakeRenderer{engine: models.EngineRemotion, fail: map[int]error{}},
		stager:   &fakeStager{},
		merger:   &fakeMerger{},
		store:    st,
	}
	e.orch = NewOrchestrator(Deps{
		Store:     st,
		Oracle:    e.oracle,
		Knowledge: fakeKnowledge{},
		Manim:     e.manim,
		Remotion:  e.remotion,
		Stager:    e.stager,
		Synth:     &fakeSynth{},
		Merger:    e.merger,
		OutputDir: t.TempDir(),
	})
	return e
}

func submit(t *testing.T, e *env, topic string) *queue.Task {
	t.Helper()
	job := &models.Job{ID: "job-1", Topic: topic, Status: models.JobStatusQueued}
	if err := e.store.CreateJob(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	return &queue.Task{JobID: job.ID, Topic: topic}
}

func getJob(t *testing.T, e *env) *models.Job {
	t.Helper()
	job, err := e.store.GetJob(context.Background(), "job-1")
	if err != nil {
		t.Fatal(err)
	}
	return job
}

func renderFailure(engine models.Engine, index int) error {
	return &render.RenderFailure{Engine: engine, SceneIndex: index, Diagnostic: "LaTeX Error: missing $"}
}

func TestAllScenesRenderClean(t *testing.T) {
	e := newEnv(t, store.NewMemoryStore())
	task := submit(t, e, "Pythagorean theorem")

	e.orch.Process(context.Background(), task)

	job := getJob(t, e)
	if job.Status != models.JobStatusComplete {
		t.Fatalf("status = %s (%s)", job.Status, job.ProgressMessage)
	}
	if job.FinalArtifact == nil {
		t.Fatal("final artifact is nil")
	}
	if job.Error != nil {
		t.Fatalf("unexpected error: %v", job.Error)
	}
	if len(job.Scenes) != 4 {
		t.Fatalf("got %d scenes", len(job.Scenes))
	}
	for _, s := range job.Scenes {
		if s.RenderStatus != models.RenderStatusRendered {
			t.Errorf("scene %d status = %s", s.Index, s.RenderStatus)
		}
		if s.RenderAttempts != 1 {
			t.Errorf("scene %d attempts = %d", s.Index, s.RenderAttempts)
		}
	}
	if len(e.merger.clips) != 4 {
		t.Errorf("merged %d clips, want 4", len(e.merger.clips))
	}
	if !e.stager.cleaned {
		t.Error("staged remotion sources were not cleaned up")
	}
}

func TestPrimaryFailureFallsBackToSecondary(t *testing.T) {
	e := newEnv(t, store.NewMemoryStore())
	e.manim.fail[2] = renderFailure(models.EngineManim, 2)
	task := submit(t, e, "Pythagorean theorem")

	e.orch.Process(context.Background(), task)

	job := getJob(t, e)
	if job.Status != models.JobStatusComplete {
		t.Fatalf("status = %s", job.Status)
	}

	scene := job.Scene(2)
	if scene.Engine != models.EngineRemotion {
		t.Errorf("scene 2 engine = %s, want engine switched", scene.Engine)
	}
	if scene.RenderStatus != models.RenderStatusRendered {
		t.Errorf("scene 2 status = %s", scene.RenderStatus)
	}
	if scene.RenderAttempts != 2 {
		t.Errorf("scene 2 attempts = %d", scene.RenderAttempts)
	}
	if len(e.merger.clips) != 4 {
		t.Errorf("merged %d clips, want 4", len(e.merger.clips))
	}

	if len(e.oracle.fallbackPrompts) != 1 {
		t.Fatalf("got %d fallback generations, want 1", len(e.oracle.fallbackPrompts))
	}
	if !strings.Contains(e.oracle.fallbackPrompts[0], "LaTeX Error: missing $") {
		t.Error("fallback prompt missing the failure diagnostic")
	}
}

func TestSceneExhaustingBothEnginesDegradesJobOnly(t *testing.T) {
	e := newEnv(t, store.NewMemoryStore())
	e.manim.fail[2] = renderFailure(models.EngineManim, 2)
	e.remotion.fail[2] = renderFailure(models.EngineRemotion, 2)
	task := submit(t, e, "Pythagorean theorem")

	e.orch.Process(context.Background(), task)

	job := getJob(t, e)
	if job.Status != models.JobStatusComplete {
		t.Fatalf("status = %s", job.Status)
	}
	if job.Error != nil {
		t.Fatalf("degraded scene must not set job error, got %v", job.Error)
	}

	scene := job.Scene(2)
	if scene.RenderStatus != models.RenderStatusFailedAll {
		t.Errorf("scene 2 status = %s", scene.RenderStatus)
	}
	if scene.RenderAttempts != 2 {
		t.Errorf("scene 2 attempts = %d", scene.RenderAttempts)
	}

	if len(e.merger.clips) != 3 {
		t.Fatalf("merged %d clips, want 3", len(e.merger.clips))
	}
	for _, c := range e.merger.clips {
		if c.SceneIndex == 2 {
			t.Error("failed scene leaked into the merge set")
		}
	}
}

func TestAllScenesFailIsFatal(t *testing.T) {
	e := newEnv(t, store.NewMemoryStore())
	for i := 1; i <= 4; i++ {
		e.manim.fail[i] = renderFailure(models.EngineManim, i)
		e.remotion.fail[i] = renderFailure(models.EngineRemotion, i)
	}
	task := submit(t, e, "Pythagorean theorem")

	e.orch.Process(context.Background(), task)

	job := getJob(t, e)
	if job.Status != models.JobStatusFailed {
		t.Fatalf("status = %s", job.Status)
	}
	if job.Error == nil || job.Error.Kind != models.ErrNoRenderableScenes {
		t.Fatalf("error = %v", job.Error)
	}
	if job.FinalArtifact != nil {
		t.Error("failed job must not carry a final artifact")
	}
}

func TestUnplannableTopicIsFatal(t *testing.T) {
	e := newEnv(t, store.NewMemoryStore())
	// No scene headers and no paragraph long enough for the heuristic.
	e.oracle.plan = "no.\n\nstill no.\n\nnothing here."
	task := submit(t, e, "Pythagorean theorem")

	e.orch.Process(context.Background(), task)

	job := getJob(t, e)
	if job.Status != models.JobStatusFailed {
		t.Fatalf("status = %s", job.Status)
	}
	if job.Error == nil || job.Error.Kind != models.ErrPlanningFailed {
		t.Fatalf("error = %v", job.Error)
	}
	if len(job.Scenes) != 0 {
		t.Errorf("scenes should stay empty, got %d", len(job.Scenes))
	}
}

func TestFailedPrimaryPersistedBeforeFallback(t *testing.T) {
	rec := &recordingStore{Store: store.NewMemoryStore()}
	e := newEnv(t, rec)
	e.manim.fail[2] = renderFailure(models.EngineManim, 2)
	task := submit(t, e, "Pythagorean theorem")

	e.orch.Process(context.Background(), task)

	failedAt, renderedAt := -1, -1
	for i, scenes := range rec.sceneStates {
		for _, s := range scenes {
			if s.Index != 2 {
				continue
			}
			if failedAt == -1 && s.RenderStatus == models.RenderStatusFailedPrimary &&
				s.Engine == models.EngineManim && s.RenderAttempts == 1 {
				failedAt = i
			}
			if renderedAt == -1 && s.RenderStatus == models.RenderStatusRendered {
				renderedAt = i
			}
		}
	}
	if failedAt == -1 {
		t.Fatal("no save captured scene 2 failed on the primary engine before the fallback ran")
	}
	if renderedAt == -1 || renderedAt <= failedAt {
		t.Fatalf("failed-primary saved at %d, rendered saved at %d", failedAt, renderedAt)
	}
}

func TestStoreWriteFailureIsFatal(t *testing.T) {
	flaky := &flakyStore{Store: store.NewMemoryStore(), failOn: 2}
	e := newEnv(t, flaky)
	task := submit(t, e, "Pythagorean theorem")

	e.orch.Process(context.Background(), task)

	job := getJob(t, e)
	if job.Status != models.JobStatusFailed {
		t.Fatalf("status = %s", job.Status)
	}
	if job.Error == nil || job.Error.Kind != models.ErrPersistenceFailed {
		t.Fatalf("error = %v", job.Error)
	}
}

func TestToolchainMissingShortCircuitsSameEngine(t *testing.T) {
	e := newEnv(t, store.NewMemoryStore())
	for i := 1; i <= 4; i++ {
		e.manim.fail[i] = fmt.Errorf("manim: %w", render.ErrToolchainMissing)
	}
	task := submit(t, e, "Pythagorean theorem")

	e.orch.Process(context.Background(), task)

	job := getJob(t, e)
	if job.Status != models.JobStatusComplete {
		t.Fatalf("status = %s", job.Status)
	}

	// Scenes 1, 2, 4 were planned for manim; only the first may hit the
	// subprocess before the short-circuit kicks in.
	if e.manim.calls != 1 {
		t.Errorf("manim invoked %d times, want 1", e.manim.calls)
	}
	for _, idx := range []int{1, 2, 4} {
		s := job.Scene(idx)
		if s.Engine != models.EngineRemotion || s.RenderStatus != models.RenderStatusRendered {
			t.Errorf("scene %d: engine=%s status=%s", idx, s.Engine, s.RenderStatus)
		}
	}
}

func TestMergeFailureStillCompletesWithoutArtifact(t *testing.T) {
	e := newEnv(t, store.NewMemoryStore())
	e.merger.err = fmt.Errorf("no clips could be normalized")
	task := submit(t, e, "Pythagorean theorem")

	e.orch.Process(context.Background(), task)

	job := getJob(t, e)
	if job.Status != models.JobStatusComplete {
		t.Fatalf("status = %s", job.Status)
	}
	if job.FinalArtifact != nil {
		t.Error("final artifact must be nil when merging fails")
	}
	if job.Error != nil {
		t.Errorf("merge failure must not set job error, got %v", job.Error)
	}
	if !strings.Contains(job.ProgressMessage, "could not be merged") {
		t.Errorf("progress message = %q", job.ProgressMessage)
	}
}

func TestMergeInputKeepsSceneOrder(t *testing.T) {
	e := newEnv(t, store.NewMemoryStore())
	task := submit(t, e, "Pythagorean theorem")

	e.orch.Process(context.Background(), task)

	for i := 1; i < len(e.merger.clips); i++ {
		if e.merger.clips[i-1].SceneIndex >= e.merger.clips[i].SceneIndex {
			t.Fatalf("merge input out of order: %+v", e.merger.clips)
		}
	}
}

func TestNarrationFailureIsNonFatal(t *testing.T) {
	e := newEnv(t, store.NewMemoryStore())
	e.orch.deps.Synth = &fakeSynth{fail: true}
	task := submit(t, e, "Pythagorean theorem")

	e.orch.Process(context.Background(), task)

	job := getJob(t, e)
	if job.Status != models.JobStatusComplete {
		t.Fatalf("status = %s", job.Status)
	}
	for _, s := range job.Scenes {
		if s.AudioRef != nil {
			t.Errorf("scene %d has audio despite synthesis failures", s.Index)
		}
	}
	for _, c := range e.merger.clips {
		if c.AudioPath != "" {
			t.Errorf("scene %d clip paired with audio", c.SceneIndex)
		}
	}
}

func TestLongTopicIsSummarized(t *testing.T) {
	e := newEnv(t, store.NewMemoryStore())
	long := strings.Repeat("the history of mathematics ", 4)
	task := submit(t, e, long)

	e.orch.Process(context.Background(), task)

	job := getJob(t, e)
	if job.Topic != "Short Title" {
		t.Errorf("topic = %q, want summarized title", job.Topic)
	}
}
