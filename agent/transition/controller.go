package transition

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/crewflow/agent/contract"
	crewx "github.com/tanpawarit/crewflow/agent/crew"
)

// MaxTransferHops bounds a single turn's pre-transfer chain. The chain is an
// explicit loop with a hop counter, never recursion, so the bound is enforced
// in one place.
const MaxTransferHops = 5

// Controller computes and applies transition decisions. It owns the only code
// path through which a conversation's active crew may change.
type Controller struct{}

func NewController() *Controller {
	return &Controller{}
}

// RunPreTransfers evaluates the active crew's pre-transfer rule and follows
// the transfer chain until a crew elects to keep the turn. It returns the crew
// that generation should run under and the number of hops taken.
//
// On any error the caller must leave the conversation on the crew it was on
// before the chain began; nothing here is committed.
func (c *Controller) RunPreTransfers(
	ctx context.Context,
	snap *crewx.Snapshot,
	view contractx.TurnView,
	activeCrew string,
) (string, int, error) {
	current := activeCrew
	for hops := 0; ; hops++ {
		if hops > MaxTransferHops {
			return "", hops, fmt.Errorf("%w: agent=%s started at crew=%s, still transferring after %d hops",
				contractx.ErrTransitionLoop, snap.AgentName(), activeCrew, MaxTransferHops)
		}

		def, err := snap.Resolve(current)
		if err != nil {
			return "", hops, err
		}

		fire, err := c.evaluate(ctx, def, def.PreTransfer, view, current)
		if err != nil {
			return "", hops, err
		}
		if !fire {
			return current, hops, nil
		}

		log.Debug().
			Str("agent", snap.AgentName()).
			Str("from", current).
			Str("to", def.TransitionTo).
			Int("hop", hops+1).
			Msg("pre-message transfer")
		current = def.TransitionTo
		view.CrewName = current
	}
}

// RunPostTransfer evaluates the crew's post-transfer rule after the reply has
// been delivered. On true the returned crew becomes active for the next
// inbound message; the delivered reply is unaffected either way.
func (c *Controller) RunPostTransfer(
	ctx context.Context,
	snap *crewx.Snapshot,
	view contractx.TurnView,
	activeCrew string,
) (string, bool, error) {
	def, err := snap.Resolve(activeCrew)
	if err != nil {
		return "", false, err
	}

	fire, err := c.evaluate(ctx, def, def.PostTransfer, view, activeCrew)
	if err != nil || !fire {
		return activeCrew, false, err
	}

	log.Debug().
		Str("agent", snap.AgentName()).
		Str("from", activeCrew).
		Str("to", def.TransitionTo).
		Msg("post-message transfer")
	return def.TransitionTo, true, nil
}

// evaluate runs one transfer rule. A nil rule never fires. A terminal crew
// whose rule fires has nowhere to go: that is a configuration fault, not a
// transfer.
func (c *Controller) evaluate(
	ctx context.Context,
	def *crewx.Definition,
	rule crewx.TransferRule,
	view contractx.TurnView,
	crewName string,
) (bool, error) {
	if rule == nil {
		return false, nil
	}

	fire, err := rule.ShouldTransfer(ctx, view)
	if err != nil {
		// A failed context-store write inside the rule means the transfer is
		// not yet safe; the turn fails rather than proceeding unconfirmed.
		return false, fmt.Errorf("transfer rule for crew=%s: %w", crewName, err)
	}
	if fire && def.Terminal() {
		return false, fmt.Errorf("%w: terminal crew=%s fired a transfer hook", contractx.ErrConfiguration, crewName)
	}
	return fire, nil
}
