package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exot-sync/internal/config"
)

// ActivityTrimmer deletes all but the newest activity entries.
type ActivityTrimmer interface {
	TrimActivity(ctx context.Context, keep int) (int64, error)
}

// TrimRequest is the queue payload asking for a trim.
type TrimRequest struct {
	Keep int `json:"keep"`
}

// EnqueueTrim asks the worker to trim the activity log down to keep entries.
func EnqueueTrim(ctx context.Context, rdb *redis.Client, keep int) error {
	payload, err := json.Marshal(TrimRequest{Keep: keep})
	if err != nil {
		return err
	}
	return rdb.RPush(ctx, config.WorkerKey.ActivityTrimQueue, payload).Err()
}

// ActivityTrimWorker consumes activity_trim_queue so activity pushes never pay
// for the trim inside their transaction.
type ActivityTrimWorker struct {
	trimmer ActivityTrimmer
	rdb     *redis.Client
	log     zerolog.Logger
}

// NewActivityTrimWorker creates a new ActivityTrimWorker.
func NewActivityTrimWorker(trimmer ActivityTrimmer, rdb *redis.Client, log zerolog.Logger) *ActivityTrimWorker {
	return &ActivityTrimWorker{
		trimmer: trimmer,
		rdb:     rdb,
		log:     log.With().Str("component", "activity_trim_worker").Logger(),
	}
}

// Start begins the infinite worker loop. Call in a goroutine.
func (w *ActivityTrimWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *ActivityTrimWorker) processNext(ctx context.Context) {
	result, err := w.rdb.BLPop(ctx, time.Second, config.WorkerKey.ActivityTrimQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}
	if len(result) < 2 {
		return
	}

	keep, ok := w.decode(result[1])
	if !ok {
		return
	}

	// Requests queued behind this one ask for the same thing.
	w.coalesce(ctx, &keep)

	if err := w.trim(ctx, keep); err != nil {
		w.log.Error().Err(err).Int("keep", keep).Msg("Trim error, retrying in 5s")
		w.rdb.RPush(ctx, config.WorkerKey.ActivityTrimQueue, result[1])
		time.Sleep(5 * time.Second)
	}
}

func (w *ActivityTrimWorker) coalesce(ctx context.Context, keep *int) {
	for {
		raw, err := w.rdb.LPop(ctx, config.WorkerKey.ActivityTrimQueue).Result()
		if err != nil {
			return
		}
		if k, ok := w.decode(raw); ok && k > *keep {
			*keep = k
		}
	}
}

func (w *ActivityTrimWorker) decode(raw string) (int, bool) {
	var req TrimRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error")
		return 0, false
	}
	if req.Keep <= 0 {
		return 0, false
	}
	return req.Keep, true
}

func (w *ActivityTrimWorker) trim(ctx context.Context, keep int) error {
	n, err := w.trimmer.TrimActivity(ctx, keep)
	if err != nil {
		return err
	}
	if n > 0 {
		w.log.Info().Int64("deleted", n).Int("keep", keep).Msg("Activity log trimmed")
	}
	return nil
}

// drain runs one final trim if any request is still queued.
func (w *ActivityTrimWorker) drain(ctx context.Context) {
	keep := 0
	w.coalesce(ctx, &keep)
	if keep == 0 {
		return
	}
	if err := w.trim(ctx, keep); err != nil {
		w.log.Error().Err(err).Msg("Drain trim error")
		w.rdb.RPush(ctx, config.WorkerKey.ActivityTrimQueue, mustTrimPayload(keep))
	}
}

func mustTrimPayload(keep int) string {
	b, _ := json.Marshal(TrimRequest{Keep: keep})
	return string(b)
}
