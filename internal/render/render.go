package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/brightboard/videoforge/internal/models"
)

// ErrToolchainMissing means the engine binary is not installed on this host.
// The caller should stop attempting further scenes on the same engine.
var ErrToolchainMissing = errors.New("render toolchain not installed")

// diagnosticTailLines bounds how much subprocess output travels up into
// fallback prompts and job records.
const diagnosticTailLines = 30

// RenderFailure reports a single failed render attempt with enough subprocess
// output to feed a regeneration prompt.
type RenderFailure struct {
	Engine     models.Engine
	SceneIndex int
	Diagnostic string
}

func (f *RenderFailure) Error() string {
	return fmt.Sprintf("%s render failed for scene %d: %s", f.Engine, f.SceneIndex, firstLine(f.Diagnostic))
}

// Renderer turns one scene into an mp4 clip under workdir/clips/.
type Renderer interface {
	Render(ctx context.Context, scene models.Scene, workdir string) (string, error)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// outputTail returns the last lines of stderr, falling back to stdout when
// the tool wrote its failure there instead.
func outputTail(stderr, stdout string) string {
	text := strings.TrimSpace(stderr)
	if text == "" {
		text = strings.TrimSpace(stdout)
	}
	lines := strings.Split(text, "\n")
	if len(lines) > diagnosticTailLines {
		lines = lines[len(lines)-diagnosticTailLines:]
	}
	return strings.Join(lines, "\n")
}

// runResult carries the subprocess outcome back to the engine-specific
// failure handling.
type runResult struct {
	stdout   string
	stderr   string
	timedOut bool
}

// run executes bin with a hard deadline. On timeout the whole process group
// is killed so renderer-spawned children (browsers, LaTeX) die with it.
func run(ctx context.Context, timeout time.Duration, dir, bin string, args ...string) (runResult, error) {
	if _, err := exec.LookPath(bin); err != nil {
		return runResult{}, fmt.Errorf("%s: %w", bin, ErrToolchainMissing)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, bin, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		killProcessGroup(cmd)
		return nil
	}

	err := cmd.Run()
	res := runResult{
		stdout:   stdout.String(),
		stderr:   stderr.String(),
		timedOut: errors.Is(runCtx.Err(), context.DeadlineExceeded),
	}
	return res, err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Sync()
}
