// Package plan turns raw planning-oracle output into typed scene records.
// The rest of the pipeline depends only on the parsed scenes, never on the
// oracle's text format; format drift is this package's contract to absorb.
package plan

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/brightboard/videoforge/internal/models"
)

// Scene indices above this are treated as oracle noise and dropped; the
// derived identifiers use two-digit formatting.
const maxSceneIndex = 99

const maxSafeTitleLen = 30

var (
	// ### Scene 3: Some Title [MANIM]
	headerRe = regexp.MustCompile(`(?i)###\s*Scene\s*(\d+)\s*:\s*(.+?)\s*\[(MANIM|REMOTION)\]`)

	// Start of any scene block, used to slice the plan into per-scene chunks.
	blockStartRe = regexp.MustCompile(`(?i)###\s*Scene\s*\d+`)

	// Narration: "..."  — tolerating bold/underscore decoration around the
	// label, capturing up to the next bulleted line or end of block.
	narrationRe = regexp.MustCompile(`(?is)[*_]*narration[*_]*\s*:[*_]*\s*(.+?)(?:\n\s*-|$)`)

	nonAlphanumRe = regexp.MustCompile(`[^a-zA-Z0-9]`)
)

// Parse scans plan text for scene headers of the form
// "### Scene N: Title [ENGINE]" and returns the typed scenes in document
// order. Unrecognized blocks are skipped; duplicate or out-of-range scene
// numbers are dropped, not renumbered. An error is returned only when not
// a single recognized scene is found.
func Parse(planText string) ([]models.Scene, error) {
	var scenes []models.Scene
	seen := make(map[int]bool)

	for _, block := range splitBlocks(planText) {
		m := headerRe.FindStringSubmatchIndex(block)
		if m == nil {
			continue
		}

		index, err := strconv.Atoi(block[m[2]:m[3]])
		if err != nil || index < 1 || index > maxSceneIndex || seen[index] {
			continue
		}
		seen[index] = true

		title := strings.TrimSpace(block[m[4]:m[5]])
		engine := models.EngineManim
		if strings.EqualFold(block[m[6]:m[7]], "REMOTION") {
			engine = models.EngineRemotion
		}

		// Everything after the header line is the description
		description := strings.TrimSpace(block[m[1]:])

		scene := models.Scene{
			Index:        index,
			Title:        title,
			Engine:       engine,
			Description:  description,
			Narration:    extractNarration(block),
			RenderStatus: models.RenderStatusPending,
		}
		applyIdentifiers(&scene)
		scenes = append(scenes, scene)
	}

	if len(scenes) == 0 {
		return nil, fmt.Errorf("no scenes with a recognized engine tag found")
	}
	return scenes, nil
}

// splitBlocks slices the plan so each chunk starts at a scene header.
func splitBlocks(planText string) []string {
	starts := blockStartRe.FindAllStringIndex(planText, -1)
	if len(starts) == 0 {
		return nil
	}

	blocks := make([]string, 0, len(starts))
	for i, loc := range starts {
		end := len(planText)
		if i+1 < len(starts) {
			end = starts[i+1][0]
		}
		blocks = append(blocks, planText[loc[0]:end])
	}
	return blocks
}

func extractNarration(block string) string {
	m := narrationRe.FindStringSubmatch(block)
	if m == nil {
		return ""
	}
	narration := strings.TrimSpace(m[1])
	narration = strings.Trim(narration, `"'`)
	return strings.TrimSpace(narration)
}

// applyIdentifiers derives the per-engine identifiers used for generated
// class/composition names. Derivation is deterministic: the same header
// always yields the same identifiers.
func applyIdentifiers(s *models.Scene) {
	safe := SafeTitle(s.Title)
	s.ClassName = fmt.Sprintf("Scene%02d_%s", s.Index, safe)
	s.CompID = fmt.Sprintf("Scene%02d", s.Index)
	s.CompName = fmt.Sprintf("Scene%02dComp", s.Index)
}

// SafeTitle reduces a scene title to an identifier-safe token: spaces and
// all non-alphanumerics stripped, capped in length.
func SafeTitle(title string) string {
	safe := nonAlphanumRe.ReplaceAllString(strings.ReplaceAll(title, " ", ""), "")
	if len(safe) > maxSafeTitleLen {
		safe = safe[:maxSafeTitleLen]
	}
	return safe
}

// FallbackScenes is the deterministic heuristic applied when Parse fails:
// the raw oracle output is split on blank lines into pseudo-scenes, each
// assigned to the primary engine so the normal fallback path still applies.
// Returns nil when the text yields nothing usable.
func FallbackScenes(raw string) []models.Scene {
	const maxFallbackScenes = 6

	var scenes []models.Scene
	for _, para := range strings.Split(raw, "\n\n") {
		para = strings.TrimSpace(para)
		if len(para) < 40 {
			continue // headers, stray lines
		}

		index := len(scenes) + 1
		scene := models.Scene{
			Index:        index,
			Title:        fallbackTitle(para, index),
			Engine:       models.EngineManim,
			Description:  para,
			RenderStatus: models.RenderStatusPending,
		}
		applyIdentifiers(&scene)
		scenes = append(scenes, scene)

		if len(scenes) == maxFallbackScenes {
			break
		}
	}
	return scenes
}

func fallbackTitle(para string, index int) string {
	line := para
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimLeft(strings.TrimSpace(line), "#-* ")
	if runes := []rune(line); len(runes) > 60 {
		line = string(runes[:60])
	}
	if line == "" {
		line = fmt.Sprintf("Part %d", index)
	}
	return line
}
