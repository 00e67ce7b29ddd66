// Package process supervises the service's periodic background jobs.
//
// A Loop runs one job on a fixed interval until its context is cancelled.
// The watchdog tick, the escalation sweep and the SLA sweep each run in
// their own Loop, owned by the serve command's errgroup.
//
// Features:
//   - Panic recovery: a panicking run is logged and counted, and the loop
//     carries on with the next tick
//   - Errors from a run are logged and counted, never fatal
//   - Per-run timeout derived from the loop context
//   - Run/failure statistics for the health endpoint
//   - Cancellable waits: Run returns as soon as the context is done
//
// Example usage:
//
//	loop := process.NewLoop(process.Config{
//	    Name:     "escalation",
//	    Interval: 5 * time.Minute,
//	}, func(ctx context.Context) error {
//	    _, err := escalator.Escalate(ctx)
//	    return err
//	})
//	loop.SetLogger(logger)
//
//	g.Go(func() error { return loop.Run(ctx) })
package process
