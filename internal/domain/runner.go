package domain

import "context"

// FragmentKind discriminates the pieces of a capability response stream.
type FragmentKind string

const (
	// FragmentAssistant carries intermediate assistant text.
	FragmentAssistant FragmentKind = "assistant"
	// FragmentResult carries the terminal result text, when the capability
	// reports one.
	FragmentResult FragmentKind = "result"
)

// Fragment is one piece of a capability response stream.
type Fragment struct {
	Kind FragmentKind
	Text string
}

// Invocation is one single-turn agent request.
type Invocation struct {
	SystemPrompt string
	Query        string
	Model        string
	WorkspaceDir string
}

// Runner is the opaque agent capability: submit a prompt plus configuration,
// receive a stream of response fragments. Implementations send fragments on
// out and close it before returning; the returned error reports stream-level
// failure, not fragment content.
type Runner interface {
	Stream(ctx context.Context, inv Invocation, out chan<- Fragment) error
}
