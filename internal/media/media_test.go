//go:build !windows

package media

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNormalizeArgsWithNarration(t *testing.T) {
	args := normalizeArgs("clip.mp4", "voice.mp3", "norm.mp4")
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"-i clip.mp4 -i voice.mp3",
		"tpad=stop_mode=clone:stop=-1",
		"scale=1920:1080",
		"-map 0:v:0 -map 1:a:0",
		"-shortest",
		"-pix_fmt yuv420p",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %s", want, joined)
		}
	}
	if strings.Contains(joined, "anullsrc") {
		t.Error("narrated clip must not use the silent source")
	}
}

func TestNormalizeArgsSilent(t *testing.T) {
	args := normalizeArgs("clip.mp4", "", "norm.mp4")
	joined := strings.Join(args, " ")

	if !strings.Contains(joined, "anullsrc=channel_layout=stereo:sample_rate=44100") {
		t.Errorf("silent clip missing anullsrc: %s", joined)
	}
	if strings.Contains(joined, "tpad") {
		t.Error("silent clip must not pad past its own length")
	}
}

func TestConcatArgs(t *testing.T) {
	args := concatArgs("list.txt", "final.mp4")
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-f concat -safe 0 -i list.txt -c copy final.mp4") {
		t.Errorf("unexpected concat args: %s", joined)
	}
}

func writeStubFFmpeg(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func newWorkdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "clips", "normalized"), 0o755); err != nil {
		t.Fatal(err)
	}
	return dir
}

func writeClip(t *testing.T, workdir, name string) string {
	t.Helper()
	path := filepath.Join(workdir, "clips", name)
	if err := os.WriteFile(path, []byte("clip"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestMergeSingleClipVerbatim(t *testing.T) {
	workdir := newWorkdir(t)
	clip := writeClip(t, workdir, "clip_01.mp4")

	// The stub would fail loudly if invoked; the single-clip path must not
	// shell out at all.
	svc := NewService(writeStubFFmpeg(t, "exit 1"), "ffprobe", time.Minute)

	final, err := svc.Merge(context.Background(), workdir, []ClipInput{
		{SceneIndex: 1, ClipPath: clip},
	})
	if err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(final)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "clip" {
		t.Errorf("final video is not a verbatim copy: %q", data)
	}
}

func TestMergeOrdersClipsBySceneIndex(t *testing.T) {
	workdir := newWorkdir(t)
	clip3 := writeClip(t, workdir, "clip_03.mp4")
	clip1 := writeClip(t, workdir, "clip_01.mp4")

	// Stub: every invocation touches its last argument so output checks pass.
	stub := writeStubFFmpeg(t, `for last; do :; done
echo out > "$last"`)
	svc := NewService(stub, "ffprobe", time.Minute)

	// Deliberately out of order.
	_, err := svc.Merge(context.Background(), workdir, []ClipInput{
		{SceneIndex: 3, ClipPath: clip3},
		{SceneIndex: 1, ClipPath: clip1},
	})
	if err != nil {
		t.Fatal(err)
	}

	list, err := os.ReadFile(filepath.Join(workdir, "clips", "concat.txt"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(list)), "\n")
	if len(lines) != 2 {
		t.Fatalf("concat list has %d entries, want 2", len(lines))
	}
	// norm_00 corresponds to scene 1, norm_01 to scene 3.
	if !strings.Contains(lines[0], "norm_00.mp4") || !strings.Contains(lines[1], "norm_01.mp4") {
		t.Errorf("concat list out of order:\n%s", list)
	}
}

func TestMergeDropsFailedNormalizations(t *testing.T) {
	workdir := newWorkdir(t)
	clip1 := writeClip(t, workdir, "clip_01.mp4")
	clip2 := writeClip(t, workdir, "clip_02.mp4")

	// Fails whenever clip_01 is the input, succeeds otherwise.
	stub := writeStubFFmpeg(t, `case "$*" in
  *clip_01*) echo "broken input" >&2; exit 1 ;;
esac
for last; do :; done
echo out > "$last"`)
	svc := NewService(stub, "ffprobe", time.Minute)

	final, err := svc.Merge(context.Background(), workdir, []ClipInput{
		{SceneIndex: 1, ClipPath: clip1},
		{SceneIndex: 2, ClipPath: clip2},
	})
	if err != nil {
		t.Fatal(err)
	}
	if final == "" {
		t.Fatal("expected a final video from the surviving clip")
	}

	list, _ := os.ReadFile(filepath.Join(workdir, "clips", "concat.txt"))
	if got := strings.Count(string(list), "file '"); got != 1 {
		t.Errorf("concat list has %d entries, want 1:\n%s", got, list)
	}
}

func TestMergeAllNormalizationsFail(t *testing.T) {
	workdir := newWorkdir(t)
	clip1 := writeClip(t, workdir, "clip_01.mp4")
	clip2 := writeClip(t, workdir, "clip_02.mp4")

	svc := NewService(writeStubFFmpeg(t, "exit 1"), "ffprobe", time.Minute)

	_, err := svc.Merge(context.Background(), workdir, []ClipInput{
		{SceneIndex: 1, ClipPath: clip1},
		{SceneIndex: 2, ClipPath: clip2},
	})
	if err == nil || !strings.Contains(err.Error(), "no clips could be normalized") {
		t.Fatalf("want normalization exhaustion error, got %v", err)
	}
}
