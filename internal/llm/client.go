// Package llm provides text generation clients.
package llm

import (
	"context"
	"fmt"
)

// Client sends a prompt to a text generation model and returns the completion.
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// MessageClient is a Client that also accepts the prompt split into a system
// message (instructions and context) and a user message (the query).
type MessageClient interface {
	Client
	GenerateMessages(ctx context.Context, system, user string) (string, error)
}

// GenerationError reports a failed call to a text generation provider.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// EchoClient returns the prompt unchanged. It stands in for a model in tests
// and offline runs, making the assembled prompt visible to the caller.
type EchoClient struct{}

// NewEchoClient returns an EchoClient.
func NewEchoClient() *EchoClient {
	return &EchoClient{}
}

// Generate returns prompt verbatim.
func (EchoClient) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return prompt, nil
}
