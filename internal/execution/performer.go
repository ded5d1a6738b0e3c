package execution

import (
	"context"
	"fmt"

	"github.com/marketpilot/marketpilot/internal/core"
)

// Simulated returns a performer that applies no external side effects and
// reports success. It stands in for platform adapters in development and in
// deployments where MarketPilot only orchestrates and a downstream system
// consumes the executed-action feed.
func Simulated() Performer {
	return PerformerFunc(func(ctx context.Context, a *core.Action) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		return fmt.Sprintf("simulated %s for client %s", a.ActionType, a.ClientID), nil
	})
}
