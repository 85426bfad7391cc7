package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
	RequeueDelay = 2 * time.Second
	ShutdownWait = 5 * time.Second
)

// DB is the subset of *pgxpool.Pool the workers write through.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

// Batcher drains a Redis list into PostgreSQL. Items are flushed when the batch
// is full or BatchTimeout has passed since the last flush. A failed bulk write
// falls back to row-by-row writes, and rows that still fail go back on the queue.
type Batcher[T any] struct {
	Queue  string
	Bulk   func(ctx context.Context, batch []T) error
	Single func(ctx context.Context, item T) error

	Size         int
	Timeout      time.Duration
	Poll         time.Duration
	RequeueDelay time.Duration

	rdb *redis.Client
	log zerolog.Logger
}

func newBatcher[T any](rdb *redis.Client, log zerolog.Logger, queue string) *Batcher[T] {
	return &Batcher[T]{
		Queue:        queue,
		Size:         BatchSize,
		Timeout:      BatchTimeout,
		Poll:         PollTimeout,
		RequeueDelay: RequeueDelay,
		rdb:          rdb,
		log:          log,
	}
}

// Run consumes the queue until ctx is cancelled, then flushes what is buffered.
func (b *Batcher[T]) Run(ctx context.Context) {
	b.log.Info().Str("queue", b.Queue).Msg("Worker started")

	buffer := make([]T, 0, b.Size)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 && (len(buffer) >= b.Size || time.Since(lastFlush) >= b.Timeout) {
			b.Flush(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			b.shutdown(buffer)
			return
		default:
		}

		result, err := b.rdb.BLPop(ctx, b.Poll, b.Queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				b.shutdown(buffer)
				return
			}
			b.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			sleep(ctx, 3*time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var item T
		if err := json.Unmarshal([]byte(result[1]), &item); err != nil {
			b.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
			continue
		}
		buffer = append(buffer, item)
	}
}

// Flush writes one batch: bulk first, then row by row, then requeue.
func (b *Batcher[T]) Flush(ctx context.Context, batch []T) {
	if len(batch) == 0 {
		return
	}
	err := b.Bulk(ctx, batch)
	if err == nil {
		return
	}
	b.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk write failed, attempting row-by-row recovery")

	var failed []T
	for _, item := range batch {
		if err := b.Single(ctx, item); err != nil {
			b.log.Error().Err(err).Msg("Row write failed, requeueing")
			failed = append(failed, item)
		}
	}
	if len(failed) > 0 {
		b.requeue(ctx, failed)
	}
}

func (b *Batcher[T]) requeue(ctx context.Context, items []T) {
	pipe := b.rdb.Pipeline()
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			b.log.Error().Err(err).Msg("Dropping unencodable item")
			continue
		}
		pipe.RPush(ctx, b.Queue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		b.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue items to Redis. Data loss occurred.")
		return
	}
	b.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
	sleep(ctx, b.RequeueDelay)
}

func (b *Batcher[T]) shutdown(buffer []T) {
	b.log.Info().Int("buffered", len(buffer)).Msg("Worker stopping, flushing remaining buffer...")
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownWait)
	defer cancel()
	b.Flush(ctx, buffer)
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
