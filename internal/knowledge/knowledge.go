// Package knowledge builds the system prompt that powers the video agent
// from two static sources on disk: the Manim skill folders and the
// Remotion framework prompt. The combined prompt is loaded once per
// process and never mutated afterward.
package knowledge

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Per-folder budget keeps any one skill from crowding out the rest of the
// context window (~15k tokens per folder).
const maxCharsPerSkill = 60_000

// priorityFilenames are always placed first within their skill folder.
var priorityFilenames = map[string]bool{"SKILL.md": true}

var includeExtensions = map[string]bool{".md": true, ".py": true}

// skillFolders lists the Manim knowledge folders in prompt order.
var skillFolders = []struct {
	name  string
	title string
}{
	{"manim-composer", "VIDEO PLANNING (MANIM COMPOSER)"},
	{"manimce-best-practices", "MANIM COMMUNITY EDITION — BEST PRACTICES"},
	{"manimgl-best-practices", "MANIM GL (3b1b) — BEST PRACTICES"},
}

// Loader resolves the two knowledge sources and memoizes the combined
// system prompt.
type Loader struct {
	skillsDir          string
	remotionPromptPath string

	once   sync.Once
	prompt string
	err    error
}

func NewLoader(skillsDir, remotionPromptPath string) *Loader {
	return &Loader{
		skillsDir:          skillsDir,
		remotionPromptPath: remotionPromptPath,
	}
}

// SystemPrompt returns the combined system prompt, loading it from disk on
// the first call only. Concurrent callers share one load.
func (l *Loader) SystemPrompt() (string, error) {
	l.once.Do(func() {
		manim, err := l.loadManimKnowledge()
		if err != nil {
			l.err = err
			return
		}
		remotion, err := l.loadRemotionKnowledge()
		if err != nil {
			l.err = err
			return
		}
		l.prompt = BuildSystemPrompt(manim, remotion)
	})
	return l.prompt, l.err
}

func (l *Loader) loadManimKnowledge() (string, error) {
	if _, err := os.Stat(l.skillsDir); err != nil {
		return "", fmt.Errorf("skills directory not found: %s", l.skillsDir)
	}

	var sections []string
	for _, folder := range skillFolders {
		dir := filepath.Join(l.skillsDir, folder.name)
		files, err := collectFiles(dir)
		if err != nil || len(files) == 0 {
			continue
		}

		var b strings.Builder
		divider := strings.Repeat("=", 60)
		fmt.Fprintf(&b, "\n%s\n## %s\n%s\n", divider, folder.title, divider)

		charCount := 0
		for _, f := range files {
			header := fmt.Sprintf("\n### File: %s\n", f.relPath)
			if charCount+len(header)+len(f.content) > maxCharsPerSkill {
				fmt.Fprintf(&b, "\n... (truncated — %s exceeds budget)\n", folder.name)
				break
			}
			b.WriteString(header)
			b.WriteString(f.content)
			charCount += len(header) + len(f.content)
		}
		sections = append(sections, b.String())
	}

	return strings.Join(sections, "\n\n"), nil
}

func (l *Loader) loadRemotionKnowledge() (string, error) {
	content, err := os.ReadFile(l.remotionPromptPath)
	if err != nil {
		return "", fmt.Errorf("remotion prompt not found: %s", l.remotionPromptPath)
	}

	divider := strings.Repeat("=", 60)
	return fmt.Sprintf("\n%s\n## REMOTION FRAMEWORK — VIDEO CREATION WITH REACT\n%s\n\n%s\n",
		divider, divider, content), nil
}

type knowledgeFile struct {
	relPath string
	content string
}

// collectFiles gathers the relevant files under dir, priority files first,
// the rest in walk order.
func collectFiles(dir string) ([]knowledgeFile, error) {
	var priority, regular []knowledgeFile

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if !includeExtensions[filepath.Ext(path)] {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil || len(strings.TrimSpace(string(content))) == 0 {
			return nil
		}

		rel, _ := filepath.Rel(dir, path)
		entry := knowledgeFile{relPath: rel, content: string(content)}
		if priorityFilenames[d.Name()] {
			priority = append(priority, entry)
		} else {
			regular = append(regular, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(regular, func(i, j int) bool { return regular[i].relPath < regular[j].relPath })
	return append(priority, regular...), nil
}

// BuildSystemPrompt combines the two knowledge sections into the unified
// agent prompt.
func BuildSystemPrompt(manimKnowledge, remotionKnowledge string) string {
	return fmt.Sprintf(`You are an expert video creation agent that creates HYBRID videos using both
**Manim** (Python animation engine) and **Remotion** (React video framework).

Your job: take a topic, plan scenes, and for EACH scene decide the best engine.
Then generate production-ready code for both engines.

## HYBRID PIPELINE
1. **Scene Planning** — Plan 4-6 scenes, tag each as [MANIM] or [REMOTION]
2. **Manim Code Generation** — Generate code for all [MANIM] scenes
3. **Remotion Code Generation** — Generate code for all [REMOTION] scenes
4. Each scene renders as a separate clip, then they merge into one video.

## WHEN TO USE EACH ENGINE

### Tag as [MANIM] when the scene needs:
- Mathematical equations, proofs, derivations (MathTex)
- Geometric constructions, coordinate planes (Axes, NumberPlane)
- Step-by-step visual buildup (Write, Create, Transform)
- 3D mathematical visualizations (ThreeDScene)
- Graph theory, trees, network diagrams
- LaTeX-heavy content with beautiful typesetting

### Tag as [REMOTION] when the scene needs:
- Dynamic text animations, kinetic typography
- Smooth color transitions, gradient backgrounds
- Data visualization with animated charts
- Motion graphics with CSS transforms
- Modern UI-style layouts with cards, grids
- SVG animations and path morphing
- Title cards, intro/outro sequences

## MANIM CODE RULES (CRITICAL)
- Use 'from manim import *' (ManimCE only)
- NEVER use .hide() — use .set_opacity(0) instead
- Always use raw strings for LaTeX: MathTex(r"\frac{1}{2}")
- Each scene = separate Scene class with construct() method
- Class names: Scene01_Title, Scene03_Equation, etc.
- Must run with: manim -qh scene.py Scene01_Title

## REMOTION CODE RULES
- TypeScript with React, 1920x1080 at 30fps
- Use useCurrentFrame(), interpolate(), spring()
- Each scene = separate Composition with unique id
- Composition ids: Scene02, Scene04, etc.
- Use deterministic random() from remotion, not Math.random

## DESIGN PRINCIPLES
- Dark backgrounds (#1C1C1C) for premium look
- Consistent color palette (3-5 colors)
- Progressive revelation, build intuition visually
- Large readable text, clean composition
- Smooth transitions, no jarring cuts

## CONTENT RULES
- NEVER include "subscribe", "like", "follow", "share", or any call-to-action
- NEVER include channel promotion, social media links, or clickbait text
- Focus purely on educational content — no filler or promotional material
- End with a clean conclusion, not a CTA

## YOUR KNOWLEDGE BASE

%s

%s
`, manimKnowledge, remotionKnowledge)
}
