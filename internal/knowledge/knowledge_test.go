package knowledge

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func setupSources(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	skills := filepath.Join(dir, "skills")
	writeFile(t, filepath.Join(skills, "manimce-best-practices", "SKILL.md"), "# ManimCE skill\nuse Create")
	writeFile(t, filepath.Join(skills, "manimce-best-practices", "examples.py"), "from manim import *")
	writeFile(t, filepath.Join(skills, "manimce-best-practices", "notes.txt"), "ignored extension")
	prompt := filepath.Join(dir, "RemotionSystemPrompt.txt")
	writeFile(t, prompt, "Remotion component guidance")
	return skills, prompt
}

func TestSystemPromptCombinesSources(t *testing.T) {
	skills, prompt := setupSources(t)
	l := NewLoader(skills, prompt)

	got, err := l.SystemPrompt()
	if err != nil {
		t.Fatalf("SystemPrompt: %v", err)
	}

	for _, want := range []string{
		"ManimCE skill",
		"from manim import *",
		"Remotion component guidance",
		"HYBRID PIPELINE",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(got, "ignored extension") {
		t.Error("prompt includes file with excluded extension")
	}
}

func TestSystemPromptPriorityFileFirst(t *testing.T) {
	skills, prompt := setupSources(t)
	l := NewLoader(skills, prompt)

	got, _ := l.SystemPrompt()
	skillPos := strings.Index(got, "SKILL.md")
	examplePos := strings.Index(got, "examples.py")
	if skillPos == -1 || examplePos == -1 || skillPos > examplePos {
		t.Errorf("SKILL.md should appear before examples.py (positions %d, %d)", skillPos, examplePos)
	}
}

func TestSystemPromptLoadsOnce(t *testing.T) {
	skills, prompt := setupSources(t)
	l := NewLoader(skills, prompt)

	first, err := l.SystemPrompt()
	if err != nil {
		t.Fatal(err)
	}

	// Changing the source after the first load must not change the prompt
	writeFile(t, prompt, "changed afterwards")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := l.SystemPrompt()
			if err != nil {
				t.Errorf("SystemPrompt: %v", err)
				return
			}
			if got != first {
				t.Error("prompt changed between calls")
			}
		}()
	}
	wg.Wait()
}

func TestSystemPromptMissingSources(t *testing.T) {
	l := NewLoader("/nonexistent/skills", "/nonexistent/prompt.txt")
	if _, err := l.SystemPrompt(); err == nil {
		t.Error("expected error for missing skills directory")
	}
}
