package recorder

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/events"
)

// Config contains configuration for the event recorder.
type Config struct {
	// AsyncBuffer is the size of the async write channel buffer.
	// Default: 1000
	AsyncBuffer int

	// WriteTimeout bounds both enqueueing and each storage write.
	// Default: 5 seconds
	WriteTimeout time.Duration
}

// DefaultConfig returns the default recorder configuration.
func DefaultConfig() *Config {
	return &Config{
		AsyncBuffer:  1000,
		WriteTimeout: 5 * time.Second,
	}
}

// Stats counts recorder activity.
type Stats struct {
	Written int64 `json:"written"`
	Failed  int64 `json:"failed"`
	Dropped int64 `json:"dropped"`
	Pending int   `json:"pending"`
}

// Recorder writes events to a store from a background worker so the request
// path never waits on storage.
type Recorder struct {
	store     events.Store
	config    *Config
	eventChan chan *events.Event
	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger

	written atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// NewRecorder creates a recorder and starts its worker.
func NewRecorder(store events.Store, config *Config) *Recorder {
	if config == nil {
		config = DefaultConfig()
	}
	if config.AsyncBuffer <= 0 {
		config.AsyncBuffer = DefaultConfig().AsyncBuffer
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultConfig().WriteTimeout
	}

	r := &Recorder{
		store:     store,
		config:    config,
		eventChan: make(chan *events.Event, config.AsyncBuffer),
		done:      make(chan struct{}),
		logger:    slog.Default().With("component", "events.recorder"),
	}

	r.wg.Add(1)
	go r.worker()

	r.logger.Info("event recorder initialized",
		"async_buffer", config.AsyncBuffer,
		"write_timeout", config.WriteTimeout,
	)
	return r
}

// Append enqueues e for writing. It returns once the event is queued, or
// with a RecorderError when the buffer stays full for WriteTimeout or the
// recorder is closed.
func (r *Recorder) Append(ctx context.Context, e *events.Event) error {
	select {
	case <-r.done:
		r.dropped.Add(1)
		return events.NewRecorderError(e.ID, context.Canceled)
	default:
	}

	timer := time.NewTimer(r.config.WriteTimeout)
	defer timer.Stop()

	select {
	case r.eventChan <- e:
		return nil
	case <-timer.C:
		r.dropped.Add(1)
		r.logger.Error("event channel full, dropping event",
			"event_id", e.ID,
			"event_type", e.Type,
			"channel_capacity", r.config.AsyncBuffer,
		)
		return events.NewRecorderError(e.ID, context.DeadlineExceeded)
	case <-ctx.Done():
		r.dropped.Add(1)
		return events.NewRecorderError(e.ID, ctx.Err())
	case <-r.done:
		r.dropped.Add(1)
		r.logger.Warn("recorder shutting down, dropping event", "event_id", e.ID)
		return events.NewRecorderError(e.ID, context.Canceled)
	}
}

// Stats returns a snapshot of the recorder counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		Written: r.written.Load(),
		Failed:  r.failed.Load(),
		Dropped: r.dropped.Load(),
		Pending: len(r.eventChan),
	}
}

// Close stops accepting events, drains the buffer and waits for the worker.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		r.logger.Info("shutting down event recorder")
		close(r.done)
		r.wg.Wait()
		r.logger.Info("event recorder shut down complete")
	})
	return nil
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case e := <-r.eventChan:
			r.write(e)

		case <-r.done:
			r.logger.Info("draining event channel before shutdown",
				"pending_count", len(r.eventChan),
			)
			for {
				select {
				case e := <-r.eventChan:
					r.write(e)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(e *events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	if err := r.store.Append(ctx, e); err != nil {
		r.failed.Add(1)
		r.logger.Error("failed to store event",
			"event_id", e.ID,
			"event_type", e.Type,
			"error", err,
		)
		return
	}
	r.written.Add(1)

	duration := time.Since(start)
	r.logger.Debug("event recorded",
		"event_id", e.ID,
		"event_type", e.Type,
		"feature", e.Feature,
		"duration_ms", duration.Milliseconds(),
	)
	if duration > r.config.WriteTimeout/2 {
		r.logger.Warn("slow event write",
			"event_id", e.ID,
			"duration_ms", duration.Milliseconds(),
			"threshold_ms", (r.config.WriteTimeout / 2).Milliseconds(),
		)
	}
}
