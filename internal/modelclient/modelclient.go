// Package modelclient defines the narrow interface the Orchestrator uses to
// drive the code-generating language model. genaiclient is the one
// production implementation, wrapping google.golang.org/genai.
package modelclient

import "context"

// Message is one turn of the conversation the Orchestrator maintains for a
// job: the user's question, the assembled context, and each round's
// generated-code observation feed back in as further messages.
type Message struct {
	Role string // "user", "model", "observation"
	Text string
}

// Reply is the model's response to one Complete call. Exactly one of Code
// or Answer is meaningful, selected by HasCode.
type Reply struct {
	HasCode bool
	Code    string
	Answer  string
}

// Client is the model-invocation contract the Orchestrator's generate state
// calls once per round.
type Client interface {
	Complete(ctx context.Context, messages []Message) (Reply, error)
}
