package model

import (
	"context"
	"fmt"
)

// Request captures the normalized generation input produced by pipeline steps.
type Request struct {
	System string `json:"system,omitempty"` // Optional system instructions
	Prompt string `json:"prompt"`           // User prompt text
	Stream bool   `json:"stream,omitempty"` // Request incremental partial responses
}

// Response is a (partial or final) chunk emitted by a generator. A stream
// consists of zero or more partial responses followed by exactly one final
// response carrying the full accumulated text.
type Response struct {
	Text         string `json:"text"`
	Partial      bool   `json:"partial"`
	FinishReason string `json:"finish_reason,omitempty"` // "stop", "length", etc.
}

// Info contains metadata about a generator implementation.
type Info struct {
	Name             string `json:"name"`
	Provider         string `json:"provider"` // "openai", "anthropic", "mock", etc.
	SupportsStreaming bool  `json:"supports_streaming"`
}

// Generator is the minimal interface the pipeline steps need to drive text
// generation.
//
// Contract: the response channel carries ordered chunks and is closed when
// generation ends; the error channel is buffered size 1 and carries at most
// one terminal error. Generators that cannot stream ignore Request.Stream and
// emit only the final response.
type Generator interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the generator implementation.
	Info() Info
}

// MockGenerator is a lightweight in-memory Generator useful for tests and
// examples.
type MockGenerator struct {
	info      Info
	responses map[string]string
}

// NewMockGenerator constructs a MockGenerator with streaming support enabled.
func NewMockGenerator(name string) *MockGenerator {
	return &MockGenerator{
		info:      Info{Name: name, Provider: "mock", SupportsStreaming: true},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for a prompt.
func (m *MockGenerator) AddResponse(prompt, response string) { m.responses[prompt] = response }

// Generate implements Generator; emits optional streaming char chunks then
// the final response.
func (m *MockGenerator) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)
		if req.Prompt == "" {
			errCh <- fmt.Errorf("no prompt provided")
			return
		}
		full := m.responses[req.Prompt]
		if full == "" {
			full = fmt.Sprintf("Mock response to: %s", req.Prompt)
		}
		if req.Stream {
			for _, r := range full {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Text: string(r)}:
				}
			}
		}
		respCh <- Response{Text: full, FinishReason: "stop"}
	}()
	return respCh, errCh
}

// Info implements Generator.
func (m *MockGenerator) Info() Info { return m.info }
