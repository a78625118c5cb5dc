// Package push defines the contract with the external push-delivery service
// and the caller-side token pruning it requires. Actual delivery is out of
// scope; only the boundary lives here.
package push

import (
	"context"

	apperrors "github.com/kychiang/studydeck/internal/errors"
	"github.com/kychiang/studydeck/internal/logging"
)

// Message is one notification batch payload.
type Message struct {
	Title string            `json:"title,omitempty"`
	Body  string            `json:"body,omitempty"`
	Data  map[string]string `json:"data,omitempty"`
}

// Result is the per-token delivery outcome. Err distinguishes permanently
// invalid tokens (prune) from transient failures (retry later).
type Result struct {
	Token string
	Err   error
}

// Sender is the external delivery service boundary: one batch request in,
// per-token outcomes out.
type Sender interface {
	Send(ctx context.Context, tokens []string, msg Message) ([]Result, error)
}

// TokenStore removes dead tokens from wherever they are registered.
type TokenStore interface {
	RemoveToken(ctx context.Context, token string) error
}

// SendAndPrune delivers a batch and prunes every token the service reports as
// permanently invalid. Transient failures are logged and left registered.
// Returns the number of pruned tokens.
func SendAndPrune(ctx context.Context, sender Sender, store TokenStore, tokens []string, msg Message) (int, error) {
	if len(tokens) == 0 {
		return 0, nil
	}

	results, err := sender.Send(ctx, tokens, msg)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrPushFailed, "batch send", err)
	}

	pruned := 0
	for _, res := range results {
		if res.Err == nil {
			continue
		}
		if !apperrors.IsTokenInvalid(res.Err) {
			logging.Warn("push delivery failed, keeping token",
				map[string]interface{}{"error": res.Err.Error()})
			continue
		}
		if err := store.RemoveToken(ctx, res.Token); err != nil {
			logging.Error("prune of invalid push token failed", err)
			continue
		}
		pruned++
	}

	if pruned > 0 {
		logging.Info("pruned invalid push tokens", map[string]interface{}{"count": pruned})
	}
	return pruned, nil
}
