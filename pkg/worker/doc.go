// Package worker provides a generic, bounded worker pool.
//
// A Pool runs a fixed number of goroutines over a bounded queue. Submit
// never blocks: a full queue rejects the item with ErrQueueFull, which gives
// callers backpressure they can report upstream.
//
//	pool, err := worker.NewPool[request](
//	    8,   // workers
//	    256, // queue size
//	    func(ctx context.Context, r request) error {
//	        return r.serve(ctx)
//	    },
//	    worker.WithDiscard[request](func(r request) { r.reject() }),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := pool.Start(ctx); err != nil {
//	    return err
//	}
//	defer pool.Stop(5 * time.Second)
//
// # Shutdown
//
// Stop closes the queue and waits for the workers, which finish what is
// queued. If ctx was cancelled first the workers exit early; the items they
// did not reach go to the WithDiscard callback so every item is accounted
// for.
//
// # Observability
//
// Stats is always available. WithMetricsRegistry additionally registers
// prefix_queue_depth, prefix_utilization, prefix_submitted_total,
// prefix_processed_total, prefix_failed_total, prefix_dropped_total and
// prefix_processing_duration_seconds.
//
// A panicking processor is recovered and counted as a failure.
package worker
