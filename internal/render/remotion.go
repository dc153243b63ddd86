package render

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brightboard/videoforge/internal/models"
)

// remotionEntryTS registers the generated root so the CLI can render the
// job's compositions without touching the project's own entry point.
const remotionEntryTS = `import {registerRoot} from 'remotion';
import {RemotionRoot} from './Root';

registerRoot(RemotionRoot);
`

// RemotionRenderer renders compositions out of a shared Remotion project.
// Each scene gets its own entry point under src/jobs/<job dir name>/scene_NN/
// so concurrent jobs never overwrite one another's sources and a fallback
// regeneration never clobbers an earlier scene's staged files.
type RemotionRenderer struct {
	npx        string
	projectDir string
	timeout    time.Duration
}

func NewRemotionRenderer(npx, projectDir string, timeout time.Duration) *RemotionRenderer {
	return &RemotionRenderer{npx: npx, projectDir: projectDir, timeout: timeout}
}

func (r *RemotionRenderer) entryDir(workdir string, sceneIndex int) string {
	return filepath.Join(r.projectDir, "src", "jobs", filepath.Base(workdir), fmt.Sprintf("scene_%02d", sceneIndex))
}

// StageSceneSources installs the generated TSX files into the project under
// the scene's private entry directory. Oracle output sometimes exports `Root`
// instead of `RemotionRoot`; the export name is patched to match the entry
// point.
func (r *RemotionRenderer) StageSceneSources(workdir string, sceneIndex int, rootTSX, compTSX string) error {
	if _, err := os.Stat(r.projectDir); err != nil {
		return fmt.Errorf("remotion project %s: %w", r.projectDir, ErrToolchainMissing)
	}

	rootTSX = strings.ReplaceAll(rootTSX, "export const Root:", "export const RemotionRoot:")
	rootTSX = strings.ReplaceAll(rootTSX, "export const Root ", "export const RemotionRoot ")

	entryDir := r.entryDir(workdir, sceneIndex)
	if err := os.MkdirAll(entryDir, 0o755); err != nil {
		return fmt.Errorf("create remotion entry dir: %w", err)
	}

	files := map[string]string{
		"Root.tsx":   rootTSX,
		"MyComp.tsx": compTSX,
		"index.ts":   remotionEntryTS,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(entryDir, name), []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

func (r *RemotionRenderer) Render(ctx context.Context, scene models.Scene, workdir string) (string, error) {
	entry := filepath.Join("src", "jobs", filepath.Base(workdir), fmt.Sprintf("scene_%02d", scene.Index), "index.ts")
	if _, err := os.Stat(filepath.Join(r.projectDir, entry)); err != nil {
		return "", &RenderFailure{
			Engine:     models.EngineRemotion,
			SceneIndex: scene.Index,
			Diagnostic: "remotion sources not staged for this job",
		}
	}

	clip := filepath.Join(workdir, "clips", fmt.Sprintf("clip_%02d.mp4", scene.Index))
	absClip, err := filepath.Abs(clip)
	if err != nil {
		return "", fmt.Errorf("resolve clip path: %w", err)
	}

	log.Printf("[Remotion] Rendering scene %d: %s", scene.Index, scene.CompID)

	res, err := run(ctx, r.timeout, r.projectDir, r.npx, "remotion", "render", entry, scene.CompID, absClip)
	if err != nil {
		if errors.Is(err, ErrToolchainMissing) {
			return "", err
		}
		if res.timedOut {
			return "", &RenderFailure{
				Engine:     models.EngineRemotion,
				SceneIndex: scene.Index,
				Diagnostic: fmt.Sprintf("render timed out after %s", r.timeout),
			}
		}
		return "", &RenderFailure{
			Engine:     models.EngineRemotion,
			SceneIndex: scene.Index,
			Diagnostic: outputTail(res.stderr, res.stdout),
		}
	}

	if _, err := os.Stat(clip); err != nil {
		return "", &RenderFailure{
			Engine:     models.EngineRemotion,
			SceneIndex: scene.Index,
			Diagnostic: "output artifact missing after successful exit",
		}
	}

	log.Printf("[Remotion] Scene %d rendered: %s", scene.Index, filepath.Base(clip))
	return clip, nil
}

// Cleanup removes all of the job's staged sources from the shared project.
func (r *RemotionRenderer) Cleanup(workdir string) {
	entryDir := filepath.Join(r.projectDir, "src", "jobs", filepath.Base(workdir))
	if err := os.RemoveAll(entryDir); err != nil {
		log.Printf("[Remotion] Cleanup of %s failed: %v", entryDir, err)
	}
}
