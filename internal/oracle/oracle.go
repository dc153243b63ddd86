// Package oracle adapts text-generation providers behind the one signature
// the pipeline depends on. The pipeline never sees provider SDK types.
package oracle

import "context"

// Request carries one generation call's parameters.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

// Client is the planning-oracle contract: prompt in, text out.
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
}
