package narrate

import "context"

// Synthesizer converts narration text to an audio file at outPath.
// Implementations are best-effort from the pipeline's point of view: a
// synthesis failure costs the scene its narration track, never the job.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, outPath string) error
}
