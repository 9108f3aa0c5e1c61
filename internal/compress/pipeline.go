package compress

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ordered tags a job or result with its position in the input stream.
type ordered[T any] struct {
	seqNum int
	value  T
}

// workerFactory creates one worker's processing function and its cleanup.
// Each worker owns its own zstd encoder or decoder.
type workerFactory[J, R any] func() (work func(J) (R, error), cleanup func(), err error)

// runOrdered feeds jobs from produce through workers and hands the results to
// emit in production order. With workers <= 1 everything runs on the calling
// goroutine.
func runOrdered[J, R any](
	workers int,
	produce func(send func(J) error) error,
	newWorker workerFactory[J, R],
	emit func(R) error,
) error {
	if workers <= 1 {
		work, cleanup, err := newWorker()
		if err != nil {
			return err
		}
		defer cleanup()

		return produce(func(job J) error {
			result, err := work(job)
			if err != nil {
				return err
			}
			return emit(result)
		})
	}

	jobs := make(chan ordered[J], workers*2)
	results := make(chan ordered[R], workers*2)

	base, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(base)

	// Start workers
	for range workers {
		g.Go(func() error {
			return runWorker(ctx, newWorker, jobs, results)
		})
	}

	// Producer
	g.Go(func() error {
		defer close(jobs)
		seqNum := 0
		return produce(func(job J) error {
			select {
			case jobs <- ordered[J]{seqNum: seqNum, value: job}:
				seqNum++
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	})

	// Collector: emit results in order
	var collectorErr error
	var collectorWG sync.WaitGroup
	collectorWG.Add(1)
	go func() {
		defer collectorWG.Done()
		collectorErr = collectInOrder(results, emit)
		if collectorErr != nil {
			cancel()
			// Keep draining so no worker blocks on a send
			for range results {
			}
		}
	}()

	workerErr := g.Wait()
	close(results)
	collectorWG.Wait()

	if collectorErr != nil {
		return collectorErr
	}
	return workerErr
}

func runWorker[J, R any](ctx context.Context, newWorker workerFactory[J, R], jobs <-chan ordered[J], results chan<- ordered[R]) error {
	work, cleanup, err := newWorker()
	if err != nil {
		return err
	}
	defer cleanup()

	for job := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}

		result, err := work(job.value)
		if err != nil {
			return err
		}

		select {
		case results <- ordered[R]{seqNum: job.seqNum, value: result}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// collectInOrder buffers out-of-order results until their turn comes.
func collectInOrder[R any](results <-chan ordered[R], emit func(R) error) error {
	pending := make(map[int]R)
	nextSeqNum := 0

	for result := range results {
		pending[result.seqNum] = result.value

		// Emit all sequential results available
		for {
			value, ok := pending[nextSeqNum]
			if !ok {
				break
			}
			if err := emit(value); err != nil {
				return err
			}
			delete(pending, nextSeqNum)
			nextSeqNum++
		}
	}

	return nil
}
