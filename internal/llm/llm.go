// Package llm is the single point of contact with the generative-language provider.
// Everything above it depends only on Model: a prompt plus a system instruction in,
// generated text out.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Sentinels returned as text, not errors: the provider answered but produced nothing usable.
const (
	NoResponse = "No response generated."
	NoText     = "No text found."
)

// Request is one prompt/system-instruction pair.
type Request struct {
	Prompt            string
	SystemInstruction string
}

// Model generates text for a Request.
type Model interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// ModelFunc adapts a function to Model.
type ModelFunc func(ctx context.Context, req Request) (string, error)

func (f ModelFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// RemoteModelError is a provider failure: a non-retryable HTTP status, a transport
// error, or rate limiting that outlasted the retry policy.
type RemoteModelError struct {
	StatusCode int
	Body       string
	Attempts   int
	Exhausted  bool
	Err        error
}

func (e *RemoteModelError) Error() string {
	switch {
	case e.Exhausted:
		return fmt.Sprintf("remote model: rate limited after %d attempts", e.Attempts)
	case e.StatusCode != 0:
		if e.Body != "" {
			return fmt.Sprintf("remote model: status %d: %s", e.StatusCode, e.Body)
		}
		return fmt.Sprintf("remote model: status %d", e.StatusCode)
	case e.Err != nil:
		return "remote model: " + e.Err.Error()
	default:
		return "remote model: request failed"
	}
}

func (e *RemoteModelError) Unwrap() error { return e.Err }

// IsRemoteModelError reports whether err came from the provider layer.
func IsRemoteModelError(err error) bool {
	var rme *RemoteModelError
	return errors.As(err, &rme)
}
