// Package calls owns the lifecycle of relayed calls.
//
// A [Manager] admits calls up to a concurrency cap. Each [Call] pairs one
// relay.Handler (the upstream leg) with one [Transport] (the browser leg) and
// runs both until either side ends, the call is hung up or its time limit
// expires. Finished transcript lines are persisted to a transcript.Store as
// they arrive, fanned out to subscribers, and archived as JSON lines when the
// call ends.
//
// Usage:
//
//	m := calls.NewManager(calls.Config{
//	    Factory:  relay.NewFactory(dialer, opts),
//	    MaxCalls: 5,
//	    Store:    store,
//	})
//	defer m.Close()
//
//	call, err := m.Start(ctx, "", func(ctx context.Context, c *calls.Call) (calls.Transport, error) {
//	    return newBridge(c.Handler(), c.Record), nil
//	})
package calls
