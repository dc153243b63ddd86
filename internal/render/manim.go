package render

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/brightboard/videoforge/internal/models"
)

// manimOutputDir is where manim -qh places rendered mp4s relative to the
// working directory, for a source file named scene.py.
const manimOutputDir = "media/videos/scene/1080p60"

// ManimRenderer renders a scene class out of workdir/scene.py.
type ManimRenderer struct {
	bin     string
	timeout time.Duration
}

func NewManimRenderer(bin string, timeout time.Duration) *ManimRenderer {
	return &ManimRenderer{bin: bin, timeout: timeout}
}

func (r *ManimRenderer) Render(ctx context.Context, scene models.Scene, workdir string) (string, error) {
	if _, err := os.Stat(filepath.Join(workdir, "scene.py")); err != nil {
		return "", &RenderFailure{
			Engine:     models.EngineManim,
			SceneIndex: scene.Index,
			Diagnostic: "scene.py not found in job directory",
		}
	}

	log.Printf("[Manim] Rendering scene %d: %s", scene.Index, scene.ClassName)

	res, err := run(ctx, r.timeout, workdir, r.bin, "-qh", "scene.py", scene.ClassName)
	if err != nil {
		if errors.Is(err, ErrToolchainMissing) {
			return "", err
		}
		if res.timedOut {
			return "", &RenderFailure{
				Engine:     models.EngineManim,
				SceneIndex: scene.Index,
				Diagnostic: fmt.Sprintf("render timed out after %s", r.timeout),
			}
		}
		return "", &RenderFailure{
			Engine:     models.EngineManim,
			SceneIndex: scene.Index,
			Diagnostic: outputTail(res.stderr, res.stdout),
		}
	}

	rendered := filepath.Join(workdir, filepath.FromSlash(manimOutputDir), scene.ClassName+".mp4")
	if _, err := os.Stat(rendered); err != nil {
		return "", &RenderFailure{
			Engine:     models.EngineManim,
			SceneIndex: scene.Index,
			Diagnostic: "output artifact missing after successful exit",
		}
	}

	clip := filepath.Join(workdir, "clips", fmt.Sprintf("clip_%02d.mp4", scene.Index))
	if err := copyFile(rendered, clip); err != nil {
		return "", fmt.Errorf("collect manim clip for scene %d: %w", scene.Index, err)
	}

	log.Printf("[Manim] Scene %d rendered: %s", scene.Index, filepath.Base(clip))
	return clip, nil
}
