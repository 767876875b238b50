package governance

import (
	"context"
	"errors"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/events"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/policy"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/telemetry/health"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// RegisterHealthChecks adds readiness checks for the policy snapshot, the
// event log and the ledger backend.
func (c *Core) RegisterHealthChecks(h *health.Checker) {
	h.RegisterCheck("policies", func(context.Context) error {
		snap := c.policies.Snapshot()
		if snap == nil || snap.Global() == nil {
			return policy.ErrNoGlobalPolicy
		}
		return nil
	})

	h.RegisterCheck("events", func(ctx context.Context) error {
		if p, ok := c.events.(pinger); ok {
			return p.Ping(ctx)
		}
		_, err := c.events.Count(ctx, &events.Query{Limit: 1})
		return err
	})

	h.RegisterCheck("ledger", func(ctx context.Context) error {
		_, err := c.ledger.Usage(ctx, policy.GlobalTarget())
		return err
	})

	h.RegisterCheck("recorder", func(context.Context) error {
		if st := c.recorder.Stats(); st.Pending >= c.cfg.Events.Recorder.AsyncBuffer {
			return errors.New("event recorder buffer is full")
		}
		return nil
	})
}
