package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// FFmpeg clip normalization and merging
// Rendered clips arrive with mismatched resolutions, framerates, and audio
// layouts depending on the engine. Every clip is first re-encoded into a
// single canonical format so the final merge can be a lossless stream copy.
// ---------------------------------------------------------------------------

const (
	// videoFilter letterboxes any input into 1920x1080 without distortion.
	videoFilter = "scale=1920:1080:force_original_aspect_ratio=decrease,pad=1920:1080:(ow-iw)/2:(oh-ih)/2,setsar=1"

	// tpadFilter clones the last frame so the video extends to match a
	// longer narration track.
	tpadFilter = "tpad=stop_mode=clone:stop=-1"

	// silentAudioSource feeds a silent stereo track for clips without
	// narration so every normalized clip has identical stream layout.
	silentAudioSource = "anullsrc=channel_layout=stereo:sample_rate=44100"
)

// ClipInput is one rendered clip queued for the final video, with an
// optional narration track.
type ClipInput struct {
	SceneIndex int
	ClipPath   string
	AudioPath  string
}

// Service shells out to ffmpeg/ffprobe for normalization, merging, and
// duration probes.
type Service struct {
	ffmpegBin  string
	ffprobeBin string
	timeout    time.Duration
}

func NewService(ffmpegBin, ffprobeBin string, timeout time.Duration) *Service {
	return &Service{ffmpegBin: ffmpegBin, ffprobeBin: ffprobeBin, timeout: timeout}
}

// normalizeArgs builds the ffmpeg invocation that re-encodes one clip into
// the canonical format. With an audio path the narration is mapped in and
// the video padded out to its length; without one a silent track is
// generated instead.
func normalizeArgs(clipPath, audioPath, outPath string) []string {
	if audioPath != "" {
		return []string{
			"-y", "-i", clipPath, "-i", audioPath,
			"-vf", videoFilter + "," + tpadFilter,
			"-r", "30", "-c:v", "libx264", "-preset", "fast",
			"-pix_fmt", "yuv420p",
			"-c:a", "aac", "-b:a", "192k",
			"-map", "0:v:0", "-map", "1:a:0",
			"-shortest",
			outPath,
		}
	}
	return []string{
		"-y", "-i", clipPath,
		"-f", "lavfi", "-i", silentAudioSource,
		"-vf", videoFilter,
		"-r", "30", "-c:v", "libx264", "-preset", "fast",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac", "-b:a", "192k",
		"-map", "0:v:0", "-map", "1:a:0",
		"-shortest",
		outPath,
	}
}

// concatArgs builds the stream-copy merge over a concat list file.
func concatArgs(listPath, outPath string) []string {
	return []string{
		"-y", "-f", "concat", "-safe", "0",
		"-i", listPath, "-c", "copy", outPath,
	}
}

func (s *Service) runFFmpeg(ctx context.Context, args []string) error {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, s.ffmpegBin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		tail := stderr.String()
		if lines := strings.Split(strings.TrimSpace(tail), "\n"); len(lines) > 3 {
			tail = strings.Join(lines[len(lines)-3:], "\n")
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", err, tail)
	}
	return nil
}

// Merge normalizes the given clips and concatenates them in ascending scene
// order into workdir/final_video.mp4. Clips that fail normalization are
// dropped. An error means no final video could be produced; the caller
// decides whether that is fatal.
func (s *Service) Merge(ctx context.Context, workdir string, clips []ClipInput) (string, error) {
	if len(clips) == 0 {
		return "", fmt.Errorf("no clips to merge")
	}

	ordered := make([]ClipInput, len(clips))
	copy(ordered, clips)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].SceneIndex < ordered[j].SceneIndex })

	finalPath := filepath.Join(workdir, "final_video.mp4")

	// A lone clip with no narration needs no re-encode at all.
	if len(ordered) == 1 && ordered[0].AudioPath == "" {
		if err := copyFile(ordered[0].ClipPath, finalPath); err != nil {
			return "", fmt.Errorf("copy single clip: %w", err)
		}
		log.Printf("[Media] Final video (1 clip, verbatim): %s", filepath.Base(finalPath))
		return finalPath, nil
	}

	clipsDir := filepath.Join(workdir, "clips")
	normDir := filepath.Join(clipsDir, "normalized")
	if err := os.MkdirAll(normDir, 0o755); err != nil {
		return "", fmt.Errorf("create normalized dir: %w", err)
	}

	log.Printf("[Media] Normalizing %d clips...", len(ordered))

	var normalized []string
	for i, clip := range ordered {
		normPath := filepath.Join(normDir, fmt.Sprintf("norm_%02d.mp4", i))
		if err := s.runFFmpeg(ctx, normalizeArgs(clip.ClipPath, clip.AudioPath, normPath)); err != nil {
			log.Printf("[Media] Scene %d clip dropped: %v", clip.SceneIndex, err)
			continue
		}
		normalized = append(normalized, normPath)
	}

	if len(normalized) == 0 {
		return "", fmt.Errorf("no clips could be normalized")
	}

	listPath := filepath.Join(clipsDir, "concat.txt")
	var list strings.Builder
	for _, p := range normalized {
		abs, err := filepath.Abs(p)
		if err != nil {
			return "", fmt.Errorf("resolve clip path: %w", err)
		}
		fmt.Fprintf(&list, "file '%s'\n", filepath.ToSlash(abs))
	}
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return "", fmt.Errorf("write concat list: %w", err)
	}

	log.Printf("[Media] Merging %d clips...", len(normalized))

	if err := s.runFFmpeg(ctx, concatArgs(listPath, finalPath)); err != nil {
		return "", fmt.Errorf("merge clips: %w", err)
	}
	if _, err := os.Stat(finalPath); err != nil {
		return "", fmt.Errorf("merged output missing: %w", err)
	}

	_ = os.RemoveAll(normDir)

	log.Printf("[Media] Final video: %s", filepath.Base(finalPath))
	return finalPath, nil
}

// AudioDurationMs returns the duration of an audio file in milliseconds.
func (s *Service) AudioDurationMs(ctx context.Context, audioPath string) (int, error) {
	return s.probeDurationMs(ctx, audioPath)
}

// VideoDurationMs returns the duration of a video file in milliseconds.
func (s *Service) VideoDurationMs(ctx context.Context, videoPath string) (int, error) {
	return s.probeDurationMs(ctx, videoPath)
}

func (s *Service) probeDurationMs(ctx context.Context, path string) (int, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, s.ffprobeBin, args...)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	var durationSec float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(output)), "%f", &durationSec); err != nil {
		return 0, fmt.Errorf("failed to parse duration: %w", err)
	}
	return int(durationSec * 1000), nil
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
