package codegen

import (
	"fmt"
	"strings"

	"github.com/brightboard/videoforge/internal/models"
)

// PlanPrompt asks the oracle for an engine-tagged scene plan.
func PlanPrompt(topic string) string {
	return fmt.Sprintf(`
Create a video about the following topic:

**%s**

Generate a scene-by-scene plan for this video. For EACH scene, decide which
engine is best: [MANIM] for math/equations/geometry or [REMOTION] for
motion graphics/typography/transitions.

IMPORTANT: For each scene, write a **Narration** field with the exact spoken
dialogue (2-4 sentences, conversational and educational). This will be
converted to speech and laid over the video.

Use this EXACT format:

`+"```markdown"+`
# Video Plan: [Topic]

## Overview
- Hook: ...
- Target Audience: ...
- Total Duration: 60-90 seconds
- Key Insight: ...

## Scenes

### Scene 1: [Title] [MANIM]
- Duration: 10-15s
- Visual Elements: ...
- Content: ...
- Narration: "The spoken words for this scene go here. Keep it concise and engaging."
- Why this engine: ...

### Scene 2: [Title] [REMOTION]
- Duration: 10-15s
- Visual Elements: ...
- Content: ...
- Narration: "Another narration line here. Match the duration to the speech length."
- Why this engine: ...

(... 4-6 scenes total)

## Color Palette
- Primary: #hex
- Secondary: #hex
- Accent: #hex
- Background: #1C1C1C
`+"```"+`

Output ONLY the plan in a markdown code block.
`, topic)
}

// TitlePrompt asks for a short display title when the submitted topic is too
// long to use verbatim.
func TitlePrompt(topic string) string {
	return fmt.Sprintf(`Summarize the following video topic into a short title of at most 8 words.
Output ONLY the title, no quotes, no punctuation at the end.

Topic: %s`, topic)
}

// ExtractScenePlan pulls the plan body out of an oracle response. Plans
// usually arrive in a markdown-tagged fence but some models tag it "md"
// or skip the fence entirely.
func ExtractScenePlan(response string) string {
	plan := ExtractCodeBlock(response, "markdown")
	if plan == strings.TrimSpace(response) {
		plan = ExtractCodeBlock(response, "md")
	}
	return plan
}

// ManimPrompt asks for one Python file implementing every primary-engine
// scene in the batch.
func ManimPrompt(scenePlan string, scenes []models.Scene) string {
	var descriptions strings.Builder
	classNames := make([]string, 0, len(scenes))
	for _, s := range scenes {
		fmt.Fprintf(&descriptions, "\n### %s (Scene %d): %s\n%s\n", s.ClassName, s.Index, s.Title, s.Description)
		classNames = append(classNames, s.ClassName)
	}

	return fmt.Sprintf(`
Based on the scene plan, generate ManimCE Python code for these SPECIFIC scenes:

## FULL SCENE PLAN (for context)
%s

## SCENES TO IMPLEMENT IN MANIM
%s

## REQUIREMENTS
- `+"`from manim import *`"+`
- Create a SEPARATE Scene class for EACH scene listed above
- Class names MUST be exactly: %s
- Each class has its own `+"`construct()`"+` method
- Use proper animations, pauses, colors
- NEVER use .hide() — use .set_opacity(0)
- Use raw strings for LaTeX: r"..."
- Each scene should be 10-20 seconds of animation
- Use the color palette from the plan
- All classes in ONE Python file

Output ONLY Python code in a `+"```python"+` code block.
`, scenePlan, descriptions.String(), strings.Join(classNames, ", "))
}

// RemotionPrompt asks for a Root.tsx plus a component file covering every
// secondary-engine scene in the batch.
func RemotionPrompt(scenePlan string, scenes []models.Scene) string {
	var descriptions strings.Builder
	compIDs := make([]string, 0, len(scenes))
	compNames := make([]string, 0, len(scenes))
	for _, s := range scenes {
		fmt.Fprintf(&descriptions, "\n### %s (Scene %d): %s\n%s\n", s.CompID, s.Index, s.Title, s.Description)
		compIDs = append(compIDs, s.CompID)
		compNames = append(compNames, s.CompName)
	}

	return fmt.Sprintf(`
Based on the scene plan, generate Remotion TypeScript code for these SPECIFIC scenes:

## FULL SCENE PLAN (for context)
%s

## SCENES TO IMPLEMENT IN REMOTION
%s

## REQUIREMENTS
Generate TWO files:

### 1. Root.tsx
- The main export MUST be named `+"`RemotionRoot`"+`: `+"`export const RemotionRoot: React.FC = () => ...`"+`
- Register a SEPARATE Composition for EACH scene
- Composition ids MUST be exactly: %s
- Each composition: 1920x1080, 30fps
- Set durationInFrames based on scene duration (30fps × seconds)

### 2. MyComp.tsx
- Create a SEPARATE React component for each scene
- Component names: %s
- Use `+"`useCurrentFrame()`, `interpolate()`, `spring()`"+`
- Dark background, vibrant colors from the palette
- Smooth animations and transitions
- Deterministic (use `+"`random()`"+` from remotion)

Output in separate code blocks:
`+"```tsx"+`
// Root.tsx
`+"```"+`
`+"```tsx"+`
// MyComp.tsx
`+"```"+`
`, scenePlan, descriptions.String(), strings.Join(compIDs, ", "), strings.Join(compNames, ", "))
}

// RemotionFallbackPrompt asks for a replacement Remotion composition for a
// single scene whose primary render failed, feeding the renderer diagnostic
// back so the oracle can avoid whatever the first attempt tripped over.
func RemotionFallbackPrompt(scenePlan string, scene models.Scene, diagnostic string) string {
	return fmt.Sprintf(`
A scene in this video failed to render with its original engine. Re-implement
it as a Remotion composition instead.

## FULL SCENE PLAN (for context)
%s

## SCENE TO RE-IMPLEMENT
### %s (Scene %d): %s
%s

## ORIGINAL RENDER FAILURE (avoid whatever caused this)
`+"```"+`
%s
`+"```"+`

## REQUIREMENTS
Generate TWO files:

### 1. Root.tsx
- The main export MUST be named `+"`RemotionRoot`"+`
- Register exactly ONE Composition with id %q, component %s
- 1920x1080, 30fps, durationInFrames matched to the scene duration

### 2. MyComp.tsx
- One React component named %s implementing the scene
- Use `+"`useCurrentFrame()`, `interpolate()`, `spring()`"+`
- Dark background, vibrant colors from the palette
- Deterministic (use `+"`random()`"+` from remotion)

Output in separate code blocks:
`+"```tsx"+`
// Root.tsx
`+"```"+`
`+"```tsx"+`
// MyComp.tsx
`+"```"+`
`, scenePlan, scene.CompID, scene.Index, scene.Title, scene.Description, diagnostic,
		scene.CompID, scene.CompName, scene.CompName)
}

// DefaultRootTSX builds a minimal Root.tsx when the oracle returned only a
// component file.
func DefaultRootTSX(scenes []models.Scene) string {
	var compositions strings.Builder
	imports := make([]string, 0, len(scenes))
	for _, s := range scenes {
		fmt.Fprintf(&compositions, `
            <Composition
                id="%s"
                component={%s}
                durationInFrames={300}
                width={1920}
                height={1080}
                fps={30}
            />`, s.CompID, s.CompName)
		imports = append(imports, s.CompName)
	}

	return fmt.Sprintf(`import {Composition} from 'remotion';
import {%s} from './MyComp';

export const RemotionRoot: React.FC = () => {
    return (
        <>%s
        </>
    );
};
`, strings.Join(imports, ", "), compositions.String())
}

// SplitRemotionResponse resolves a Remotion generation response into
// (rootTSX, compTSX), falling back through the tag variants models actually
// emit and finally to a synthesized Root.tsx.
func SplitRemotionResponse(response string, scenes []models.Scene) (string, string) {
	if blocks := ExtractCodeBlocks(response, "tsx"); len(blocks) >= 2 {
		return blocks[0], blocks[1]
	} else if len(blocks) == 1 {
		if comp := ExtractCodeBlock(response, "typescript"); comp != strings.TrimSpace(response) {
			return blocks[0], comp
		}
		return blocks[0], blocks[0]
	}

	if blocks := ExtractCodeBlocks(response, "typescript"); len(blocks) >= 2 {
		return blocks[0], blocks[1]
	}

	return DefaultRootTSX(scenes), ExtractCodeBlock(response, "")
}
