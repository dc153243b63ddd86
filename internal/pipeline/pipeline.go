package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/brightboard/videoforge/internal/codegen"
	"github.com/brightboard/videoforge/internal/media"
	"github.com/brightboard/videoforge/internal/models"
	"github.com/brightboard/videoforge/internal/narrate"
	"github.com/brightboard/videoforge/internal/oracle"
	"github.com/brightboard/videoforge/internal/plan"
	"github.com/brightboard/videoforge/internal/queue"
	"github.com/brightboard/videoforge/internal/render"
	"github.com/brightboard/videoforge/internal/store"
	"github.com/brightboard/videoforge/internal/workspace"
)

// topicTitleLimit is the topic length above which the oracle is asked for a
// short display title instead.
const topicTitleLimit = 50

// RemotionStager installs generated TSX into the shared render project.
// *render.RemotionRenderer satisfies both this and render.Renderer.
type RemotionStager interface {
	StageSceneSources(workdir string, sceneIndex int, rootTSX, compTSX string) error
	Cleanup(workdir string)
}

// Merger combines rendered clips into the final artifact.
type Merger interface {
	Merge(ctx context.Context, workdir string, clips []media.ClipInput) (string, error)
}

// SystemPromptSource provides the memoized generation system prompt.
type SystemPromptSource interface {
	SystemPrompt() (string, error)
}

// ContextRetriever resolves submitted context refs into plain text fed to
// the planning prompt. The retrieval subsystem lives behind this boundary.
type ContextRetriever interface {
	Retrieve(ctx context.Context, refs []string) (string, error)
}

// Deps wires the orchestrator's collaborators. Synth and Retriever are
// optional; everything else is required.
type Deps struct {
	Store     store.Store
	Oracle    oracle.Client
	Knowledge SystemPromptSource
	Manim     render.Renderer
	Remotion  render.Renderer
	Stager    RemotionStager
	Synth     narrate.Synthesizer
	Merger    Merger
	Retriever ContextRetriever
	OutputDir string
}

// Orchestrator owns one job at a time from dequeue to terminal state. All
// external calls are sequential and timeout-bounded; the job record is
// persisted whole after every transition and every scene-level change.
type Orchestrator struct {
	deps Deps
}

func NewOrchestrator(deps Deps) *Orchestrator {
	return &Orchestrator{deps: deps}
}

// Process runs the full pipeline for one submitted task. It never returns an
// error: every fatal condition ends up recorded on the job itself.
func (o *Orchestrator) Process(ctx context.Context, task *queue.Task) {
	job, err := o.deps.Store.GetJob(ctx, task.JobID)
	if err != nil {
		log.Printf("[Pipeline] Job %s: cannot load: %v", task.JobID, err)
		return
	}

	log.Printf("[Pipeline] Job %s: started (topic: %q)", job.ID, job.Topic)

	planText, jerr := o.planStage(ctx, job, task)
	if jerr != nil {
		o.failJob(ctx, job, jerr)
		return
	}

	ws := workspace.Open(job.OutputDir)
	if o.deps.Stager != nil {
		defer o.deps.Stager.Cleanup(ws.Dir)
	}

	if jerr := o.generateStage(ctx, job, ws, planText); jerr != nil {
		o.failJob(ctx, job, jerr)
		return
	}
	if jerr := o.renderStage(ctx, job, ws, planText); jerr != nil {
		o.failJob(ctx, job, jerr)
		return
	}
	if jerr := o.synthesizeStage(ctx, job, ws); jerr != nil {
		o.failJob(ctx, job, jerr)
		return
	}
	if jerr := o.mergeStage(ctx, job, ws); jerr != nil {
		o.failJob(ctx, job, jerr)
		return
	}

	log.Printf("[Pipeline] Job %s: complete (artifact: %v)", job.ID, job.FinalArtifact != nil)
}

// planStage takes the job from Queued through Planning: short title,
// retrieved context, oracle plan, parse with heuristic fallback, workspace
// creation. On success the job holds its scene list and output dir.
func (o *Orchestrator) planStage(ctx context.Context, job *models.Job, task *queue.Task) (string, *models.JobError) {
	if jerr := o.transition(ctx, job, models.JobStatusPlanning, "planning"); jerr != nil {
		return "", jerr
	}

	if len(job.Topic) > topicTitleLimit {
		o.summarizeTitle(ctx, job)
	}

	systemPrompt, err := o.deps.Knowledge.SystemPrompt()
	if err != nil {
		return "", &models.JobError{Kind: models.ErrPlanningFailed, Message: fmt.Sprintf("load knowledge sources: %v", err)}
	}

	userPrompt := codegen.PlanPrompt(job.Topic)
	if o.deps.Retriever != nil && len(task.ContextRefs) > 0 {
		if contextText, err := o.deps.Retriever.Retrieve(ctx, task.ContextRefs); err != nil {
			log.Printf("[Pipeline] Job %s: context retrieval failed: %v", job.ID, err)
		} else if contextText != "" {
			userPrompt += "\n## RETRIEVED CONTEXT\nGround the video in this material:\n" + contextText
		}
	}

	raw, err := o.deps.Oracle.Generate(ctx, oracle.Request{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.8,
	})
	if err != nil {
		return "", &models.JobError{Kind: models.ErrPlanningFailed, Message: fmt.Sprintf("planning oracle: %v", err)}
	}

	planText := codegen.ExtractScenePlan(raw)
	scenes, err := plan.Parse(planText)
	if err != nil || len(scenes) == 0 {
		log.Printf("[Pipeline] Job %s: plan unparsable, trying heuristic fallback", job.ID)
		scenes = plan.FallbackScenes(planText)
	}
	if len(scenes) == 0 {
		return "", &models.JobError{Kind: models.ErrPlanningFailed, Message: "oracle output yielded no scenes"}
	}

	ws, err := workspace.Create(o.deps.OutputDir, job.Topic)
	if err != nil {
		return "", &models.JobError{Kind: models.ErrPersistenceFailed, Message: fmt.Sprintf("create job directory: %v", err)}
	}
	if err := ws.SaveScenePlan(planText); err != nil {
		return "", &models.JobError{Kind: models.ErrPersistenceFailed, Message: err.Error()}
	}

	// Scene list is fixed from here on; only element fields mutate.
	job.Scenes = scenes
	job.OutputDir = ws.Dir
	if err := o.persist(ctx, job); err != nil {
		return "", persistenceError(err)
	}

	log.Printf("[Pipeline] Job %s: planned %d scenes", job.ID, len(scenes))
	return planText, nil
}

// summarizeTitle replaces an overlong topic with an oracle-generated short
// title. Best effort: any failure keeps the original topic.
func (o *Orchestrator) summarizeTitle(ctx context.Context, job *models.Job) {
	resp, err := o.deps.Oracle.Generate(ctx, oracle.Request{
		UserPrompt:  codegen.TitlePrompt(job.Topic),
		Temperature: 0.3,
		MaxTokens:   60,
	})
	if err != nil {
		log.Printf("[Pipeline] Job %s: title summarization failed: %v", job.ID, err)
		return
	}
	title := strings.TrimSpace(strings.Trim(strings.TrimSpace(resp), `"'`))
	if title == "" || len(title) > topicTitleLimit*2 {
		return
	}
	job.Topic = title
}

// generateStage produces and persists the per-engine source artifacts. An
// oracle failure here is not fatal: affected scenes simply fail their
// primary render and take the fallback path. Failing to write an artifact
// to disk is fatal.
func (o *Orchestrator) generateStage(ctx context.Context, job *models.Job, ws *workspace.Job, planText string) *models.JobError {
	if jerr := o.transition(ctx, job, models.JobStatusGenerating, "generating scene sources"); jerr != nil {
		return jerr
	}

	systemPrompt, err := o.deps.Knowledge.SystemPrompt()
	if err != nil {
		return &models.JobError{Kind: models.ErrPlanningFailed, Message: fmt.Sprintf("load knowledge sources: %v", err)}
	}

	manimScenes := scenesByEngine(job.Scenes, models.EngineManim)
	if len(manimScenes) > 0 {
		resp, err := o.deps.Oracle.Generate(ctx, oracle.Request{
			SystemPrompt: systemPrompt,
			UserPrompt:   codegen.ManimPrompt(planText, manimScenes),
			Temperature:  0.5,
			MaxTokens:    16000,
		})
		if err != nil {
			log.Printf("[Pipeline] Job %s: manim generation failed: %v", job.ID, err)
		} else {
			code := codegen.StripCodeFences(codegen.ExtractCodeBlock(resp, "python"))
			if err := ws.SaveManimCode(code); err != nil {
				return &models.JobError{Kind: models.ErrPersistenceFailed, Message: err.Error()}
			}
		}
	}

	remotionScenes := scenesByEngine(job.Scenes, models.EngineRemotion)
	if len(remotionScenes) > 0 {
		resp, err := o.deps.Oracle.Generate(ctx, oracle.Request{
			SystemPrompt: systemPrompt,
			UserPrompt:   codegen.RemotionPrompt(planText, remotionScenes),
			Temperature:  0.5,
			MaxTokens:    16000,
		})
		if err != nil {
			log.Printf("[Pipeline] Job %s: remotion generation failed: %v", job.ID, err)
		} else {
			rootTSX, compTSX := codegen.SplitRemotionResponse(resp, remotionScenes)
			if err := ws.SaveRemotionFiles(rootTSX, compTSX); err != nil {
				return &models.JobError{Kind: models.ErrPersistenceFailed, Message: err.Error()}
			}
			if o.deps.Stager != nil {
				for _, s := range remotionScenes {
					if err := o.deps.Stager.StageSceneSources(ws.Dir, s.Index, rootTSX, compTSX); err != nil {
						log.Printf("[Pipeline] Job %s: staging scene %d failed: %v", job.ID, s.Index, err)
					}
				}
			}
		}
	}

	return nil
}

// renderStage renders every scene sequentially in index order, applying the
// one-shot fallback per scene. Zero rendered scenes at the end is fatal.
func (o *Orchestrator) renderStage(ctx context.Context, job *models.Job, ws *workspace.Job, planText string) *models.JobError {
	if jerr := o.transition(ctx, job, models.JobStatusRendering, "rendering scenes"); jerr != nil {
		return jerr
	}

	// Engine -> short-circuit diagnostic, set once a toolchain turns out
	// to be missing so remaining same-engine scenes skip the subprocess.
	missing := map[models.Engine]string{}

	for i := range job.Scenes {
		if jerr := o.renderScene(ctx, job, ws, &job.Scenes[i], planText, missing); jerr != nil {
			return jerr
		}

		job.ProgressMessage = fmt.Sprintf("rendering scenes (%d/%d)", i+1, len(job.Scenes))
		if err := o.persist(ctx, job); err != nil {
			return persistenceError(err)
		}
	}

	if len(job.RenderedScenes()) == 0 {
		return &models.JobError{Kind: models.ErrNoRenderableScenes, Message: "every scene failed to render"}
	}
	return nil
}

func (o *Orchestrator) renderScene(ctx context.Context, job *models.Job, ws *workspace.Job, scene *models.Scene, planText string, missing map[models.Engine]string) *models.JobError {
	diag, ok := missing[scene.Engine]
	if ok {
		scene.RenderAttempts++
	} else {
		var clip string
		scene.RenderAttempts++
		clip, diag = o.renderOnce(ctx, scene, ws, missing)
		if diag == "" {
			scene.RenderStatus = models.RenderStatusRendered
			scene.ClipRef = &clip
			return nil
		}
	}

	if scene.Engine == models.EngineRemotion {
		// Secondary-planned scenes have nowhere left to fall back to.
		log.Printf("[Pipeline] Job %s: scene %d failed on secondary engine: %s", job.ID, scene.Index, firstLine(diag))
		scene.RenderStatus = models.RenderStatusFailedAll
		return nil
	}

	scene.RenderStatus = models.RenderStatusFailedPrimary
	log.Printf("[Pipeline] Job %s: scene %d failed primary render, falling back: %s", job.ID, scene.Index, firstLine(diag))
	// Record the failed primary attempt before the fallback runs, so a
	// crash mid-fallback does not lose the scene's attempt history.
	if err := o.persist(ctx, job); err != nil {
		return persistenceError(err)
	}
	o.fallbackScene(ctx, job, ws, scene, planText, diag, missing)
	return nil
}

// renderOnce runs one render attempt on the scene's current engine and
// returns the clip path, or a non-empty diagnostic on failure.
func (o *Orchestrator) renderOnce(ctx context.Context, scene *models.Scene, ws *workspace.Job, missing map[models.Engine]string) (string, string) {
	clip, err := o.rendererFor(scene.Engine).Render(ctx, *scene, ws.Dir)
	if err == nil {
		return clip, ""
	}

	if errors.Is(err, render.ErrToolchainMissing) {
		missing[scene.Engine] = err.Error()
		return "", err.Error()
	}
	var rf *render.RenderFailure
	if errors.As(err, &rf) {
		return "", rf.Diagnostic
	}
	return "", err.Error()
}

// fallbackScene regenerates the scene as a Remotion composition with the
// primary failure diagnostic in the prompt, switches the engine, and renders
// exactly once more.
func (o *Orchestrator) fallbackScene(ctx context.Context, job *models.Job, ws *workspace.Job, scene *models.Scene, planText, diag string, missing map[models.Engine]string) {
	if _, gone := missing[models.EngineRemotion]; gone {
		scene.RenderStatus = models.RenderStatusFailedAll
		return
	}

	systemPrompt, err := o.deps.Knowledge.SystemPrompt()
	if err != nil {
		log.Printf("[Pipeline] Job %s: scene %d fallback aborted: %v", job.ID, scene.Index, err)
		scene.RenderStatus = models.RenderStatusFailedAll
		return
	}

	resp, err := o.deps.Oracle.Generate(ctx, oracle.Request{
		SystemPrompt: systemPrompt,
		UserPrompt:   codegen.RemotionFallbackPrompt(planText, *scene, diag),
		Temperature:  0.5,
		MaxTokens:    16000,
	})
	if err != nil {
		log.Printf("[Pipeline] Job %s: scene %d fallback generation failed: %v", job.ID, scene.Index, err)
		scene.RenderStatus = models.RenderStatusFailedAll
		return
	}

	if err := scene.SwitchToFallback(); err != nil {
		log.Printf("[Pipeline] Job %s: scene %d: %v", job.ID, scene.Index, err)
		scene.RenderStatus = models.RenderStatusFailedAll
		return
	}

	rootTSX, compTSX := codegen.SplitRemotionResponse(resp, []models.Scene{*scene})
	if o.deps.Stager != nil {
		if err := o.deps.Stager.StageSceneSources(ws.Dir, scene.Index, rootTSX, compTSX); err != nil {
			log.Printf("[Pipeline] Job %s: scene %d fallback staging failed: %v", job.ID, scene.Index, err)
			scene.RenderStatus = models.RenderStatusFailedAll
			return
		}
	}

	scene.RenderAttempts++
	clip, failDiag := o.renderOnce(ctx, scene, ws, missing)
	if failDiag != "" {
		log.Printf("[Pipeline] Job %s: scene %d failed fallback render: %s", job.ID, scene.Index, firstLine(failDiag))
		scene.RenderStatus = models.RenderStatusFailedAll
		return
	}
	scene.RenderStatus = models.RenderStatusRendered
	scene.ClipRef = &clip
}

// synthesizeStage attempts narration for every scene that has any. Failures
// only cost the scene its audio track.
func (o *Orchestrator) synthesizeStage(ctx context.Context, job *models.Job, ws *workspace.Job) *models.JobError {
	if jerr := o.transition(ctx, job, models.JobStatusSynthesizing, "synthesizing narration"); jerr != nil {
		return jerr
	}
	if o.deps.Synth == nil {
		return nil
	}

	for i := range job.Scenes {
		scene := &job.Scenes[i]
		if strings.TrimSpace(scene.Narration) == "" {
			continue
		}

		out := ws.AudioPath(scene.Index)
		if err := o.deps.Synth.Synthesize(ctx, scene.Narration, out); err != nil {
			log.Printf("[Pipeline] Job %s: scene %d narration failed: %v", job.ID, scene.Index, err)
			continue
		}
		if fi, err := os.Stat(out); err != nil || fi.Size() == 0 {
			log.Printf("[Pipeline] Job %s: scene %d narration produced no audio", job.ID, scene.Index)
			continue
		}

		scene.AudioRef = &out
		if err := o.persist(ctx, job); err != nil {
			return persistenceError(err)
		}
	}
	return nil
}

// mergeStage combines the rendered clips. A merge failure still completes
// the job, with a nil final artifact marking best-effort partial success.
func (o *Orchestrator) mergeStage(ctx context.Context, job *models.Job, ws *workspace.Job) *models.JobError {
	if jerr := o.transition(ctx, job, models.JobStatusMerging, "merging clips"); jerr != nil {
		return jerr
	}

	rendered := job.RenderedScenes()
	clips := make([]media.ClipInput, 0, len(rendered))
	for _, s := range rendered {
		in := media.ClipInput{SceneIndex: s.Index, ClipPath: *s.ClipRef}
		if s.AudioRef != nil {
			in.AudioPath = *s.AudioRef
		}
		clips = append(clips, in)
	}

	message := fmt.Sprintf("complete (%d/%d scenes)", len(rendered), len(job.Scenes))
	final, err := o.deps.Merger.Merge(ctx, ws.Dir, clips)
	if err != nil {
		log.Printf("[Pipeline] Job %s: merge failed: %v", job.ID, err)
		message = fmt.Sprintf("complete without final video: %d clips rendered but could not be merged", len(rendered))
	} else {
		job.FinalArtifact = &final
	}

	return o.transition(ctx, job, models.JobStatusComplete, message)
}

func (o *Orchestrator) rendererFor(engine models.Engine) render.Renderer {
	if engine == models.EngineRemotion {
		return o.deps.Remotion
	}
	return o.deps.Manim
}

// transition moves the job forward and persists the whole record.
func (o *Orchestrator) transition(ctx context.Context, job *models.Job, to models.JobStatus, message string) *models.JobError {
	if !job.Status.CanTransition(to) {
		return &models.JobError{
			Kind:    models.ErrPersistenceFailed,
			Message: fmt.Sprintf("illegal transition %s -> %s", job.Status, to),
		}
	}
	job.Status = to
	job.ProgressMessage = message
	if err := o.persist(ctx, job); err != nil {
		return persistenceError(err)
	}
	return nil
}

func (o *Orchestrator) persist(ctx context.Context, job *models.Job) error {
	job.UpdatedAt = time.Now().UTC()
	return o.deps.Store.SaveJob(ctx, job)
}

// failJob records the single fatal error and moves the job to failed. If
// even that write fails there is nothing left to do but log.
func (o *Orchestrator) failJob(ctx context.Context, job *models.Job, jerr *models.JobError) {
	log.Printf("[Pipeline] Job %s: failed: %s", job.ID, jerr.Error())
	job.Error = jerr
	job.Status = models.JobStatusFailed
	job.ProgressMessage = jerr.Message
	if err := o.persist(ctx, job); err != nil {
		log.Printf("[Pipeline] Job %s: could not persist failure: %v", job.ID, err)
	}
}

func persistenceError(err error) *models.JobError {
	return &models.JobError{Kind: models.ErrPersistenceFailed, Message: err.Error()}
}

func scenesByEngine(scenes []models.Scene, engine models.Engine) []models.Scene {
	var out []models.Scene
	for _, s := range scenes {
		if s.Engine == engine {
			out = append(out, s)
		}
	}
	return out
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
