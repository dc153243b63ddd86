package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Fixed artifact names inside a job directory.
const (
	ScenePlanFile  = "scenes.md"
	ManimFile      = "scene.py"
	RemotionDir    = "remotion"
	ClipsDir       = "clips"
	NormalizedDir  = "clips/normalized"
	AudioDir       = "audio"
	FinalVideoFile = "final_video.mp4"
)

const slugMaxLength = 40

var (
	slugStripRe    = regexp.MustCompile(`[^\w\s-]`)
	slugCollapseRe = regexp.MustCompile(`[\s_]+`)
)

// Slugify converts text to a filesystem-safe slug capped at 40 characters.
func Slugify(text string) string {
	slug := slugStripRe.ReplaceAllString(strings.ToLower(text), "")
	slug = slugCollapseRe.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > slugMaxLength {
		slug = slug[:slugMaxLength]
	}
	return slug
}

// Job is the on-disk layout for one video job.
type Job struct {
	Dir string
}

// Create builds a timestamped job directory under baseDir with the standard
// subdirectories in place.
func Create(baseDir, topic string) (*Job, error) {
	name := fmt.Sprintf("%s_%s", time.Now().Format("2006-01-02_1504"), Slugify(topic))
	dir := filepath.Join(baseDir, name)

	for _, sub := range []string{ClipsDir, NormalizedDir, AudioDir, RemotionDir} {
		if err := os.MkdirAll(filepath.Join(dir, filepath.FromSlash(sub)), 0o755); err != nil {
			return nil, fmt.Errorf("create job directory: %w", err)
		}
	}
	return &Job{Dir: dir}, nil
}

// Open wraps an existing job directory.
func Open(dir string) *Job {
	return &Job{Dir: dir}
}

func (j *Job) SaveScenePlan(content string) error {
	return j.write(ScenePlanFile, content)
}

func (j *Job) SaveManimCode(content string) error {
	return j.write(ManimFile, content)
}

// SaveRemotionFiles keeps the job's own copy of the generated TSX alongside
// whatever gets staged into the render project.
func (j *Job) SaveRemotionFiles(rootTSX, compTSX string) error {
	if err := j.write(filepath.Join(RemotionDir, "Root.tsx"), rootTSX); err != nil {
		return err
	}
	return j.write(filepath.Join(RemotionDir, "MyComp.tsx"), compTSX)
}

// ClipPath is where the renderer drops the clip for a scene.
func (j *Job) ClipPath(sceneIndex int) string {
	return filepath.Join(j.Dir, ClipsDir, fmt.Sprintf("clip_%02d.mp4", sceneIndex))
}

// AudioPath is where the synthesizer drops narration for a scene.
func (j *Job) AudioPath(sceneIndex int) string {
	return filepath.Join(j.Dir, AudioDir, fmt.Sprintf("scene_%02d.mp3", sceneIndex))
}

func (j *Job) FinalVideoPath() string {
	return filepath.Join(j.Dir, FinalVideoFile)
}

func (j *Job) write(name, content string) error {
	path := filepath.Join(j.Dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
