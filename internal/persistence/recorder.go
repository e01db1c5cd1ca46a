package persistence

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/batterylab/ctigo/internal/bus"
)

// Recorder stores every reading published on the bus.
type Recorder struct {
	logger   *slog.Logger
	readings *ReadingRepo
	writer   *WriterQueue
}

func NewRecorder(logger *slog.Logger, db *sql.DB, writer *WriterQueue) *Recorder {
	if logger == nil {
		logger = slog.Default().With("component", "recorder")
	}

	return &Recorder{
		logger:   logger,
		readings: NewReadingRepo(db),
		writer:   writer,
	}
}

// Start subscribes to readings before it returns, then stores them until ctx
// is done. Readings published before that are still stored. The returned
// channel closes once the recorder has stopped.
func (r *Recorder) Start(ctx context.Context, b bus.MessageBus) <-chan struct{} {
	sub := b.Subscribe(bus.TopicReading)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.consume(ctx, b, sub)
	}()

	return done
}

func (r *Recorder) consume(ctx context.Context, b bus.MessageBus, sub bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			bus.Flush(b, sub, r.store)

			return
		case msg, ok := <-sub:
			if !ok {
				return
			}
			r.store(msg)
		}
	}
}

func (r *Recorder) store(msg any) {
	reading, ok := msg.(bus.Reading)
	if !ok {
		r.logger.Debug("ignoring unexpected payload", "topic", bus.TopicReading)

		return
	}
	r.writer.Enqueue("insert reading", func(ctx context.Context) error {
		return r.readings.Insert(ctx, reading.RunID, reading.At, reading.Status)
	})
}
