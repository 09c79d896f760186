package bootstrap

import (
	"context"
	"sync"
	"time"

	"github.com/artpar/llmgate/domain/usage"
	"github.com/artpar/llmgate/ports"
	"github.com/rs/zerolog"
)

// LocalUsageRecorder buffers usage events and writes them in batches to the store.
type LocalUsageRecorder struct {
	store         ports.UsageStore
	logger        zerolog.Logger
	buffer        []usage.Event
	mu            sync.Mutex
	batchSize     int
	flushInterval time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup
	closeOnce     sync.Once
}

// NewLocalUsageRecorder creates a new local usage recorder.
func NewLocalUsageRecorder(store ports.UsageStore, batchSize int, flushInterval time.Duration, logger zerolog.Logger) *LocalUsageRecorder {
	if batchSize == 0 {
		batchSize = 100
	}
	if flushInterval == 0 {
		flushInterval = 10 * time.Second
	}

	r := &LocalUsageRecorder{
		store:         store,
		logger:        logger,
		buffer:        make([]usage.Event, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
	}

	r.wg.Add(1)
	go r.flushLoop()

	return r
}

// Record queues a usage event. Filling the batch triggers a background
// write so the request path never waits on the store.
func (r *LocalUsageRecorder) Record(e usage.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buffer = append(r.buffer, e)

	if len(r.buffer) >= r.batchSize {
		events := r.take()
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.write(events)
		}()
	}
}

// Flush writes queued events and waits for them to reach the store.
// The usage report flushes before reading daily totals, so events
// recorded just before the call are visible in the result.
func (r *LocalUsageRecorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	events := r.take()
	r.mu.Unlock()

	if len(events) == 0 {
		return nil
	}
	return r.store.RecordBatch(ctx, events)
}

// take drains the buffer. Callers hold r.mu.
func (r *LocalUsageRecorder) take() []usage.Event {
	if len(r.buffer) == 0 {
		return nil
	}
	events := make([]usage.Event, len(r.buffer))
	copy(events, r.buffer)
	r.buffer = r.buffer[:0]
	return events
}

func (r *LocalUsageRecorder) write(events []usage.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := r.store.RecordBatch(ctx, events); err != nil {
		r.logger.Error().Err(err).Int("events", len(events)).Msg("usage batch write failed")
	}
}

func (r *LocalUsageRecorder) flushLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.Flush(context.Background()); err != nil {
				r.logger.Error().Err(err).Msg("usage flush failed")
			}
		case <-r.stopCh:
			return
		}
	}
}

// Close stops the recorder, waits for in-flight batch writes, and
// flushes remaining events.
func (r *LocalUsageRecorder) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.stopCh)
		r.wg.Wait()

		// Final flush with timeout
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err = r.Flush(ctx)
	})
	return err
}

// Ensure interface compliance.
var _ ports.UsageRecorder = (*LocalUsageRecorder)(nil)
