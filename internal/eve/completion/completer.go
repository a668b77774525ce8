// Package completion abstracts the language-model text-completion service
// the bot forwards qualifying messages to.
//
// The core treats the service as a black-box function from prompt to text.
// Providers that retain conversation history server-side report an opaque
// exchange ref with each result; callers hand the previous ref back on the
// next request so the provider can chain them. Providers without
// server-side history simply ignore ParentRef — the prompt already carries
// the prior turns when the full-history store strategy is active.
package completion

import (
	"context"
	"errors"
)

// ErrRateLimit is returned when the upstream API reports a rate-limiting
// condition (HTTP 429). Callers surface a user-visible message rather than
// retrying in a tight loop.
var ErrRateLimit = errors.New("completion: upstream rate limit exceeded")

// Request is the input to a single completion call.
type Request struct {
	// Prompt is the assembled text: prior turns (full-history strategy)
	// followed by the new utterance.
	Prompt string

	// ParentRef chains this call to the prior exchange for providers with
	// server-side history. Empty on the first exchange or when the
	// full-history strategy is active and no ref was recorded.
	ParentRef string
}

// Result is the provider's reply.
type Result struct {
	// Text is the completion text.
	Text string

	// Ref is the provider's identifier for this exchange, when reported.
	// The chained context-store strategy persists it; otherwise it rides
	// along on the stored turn unused.
	Ref string
}

// Completer is the completion collaborator contract. Implementations must
// be safe for concurrent use; calls may fail with network, timeout, or
// rate-limit errors and callers degrade to a user-visible apology.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Result, error)
}
