package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exot-sync/internal/config"
	"github.com/stemsi/exot-sync/internal/model"
	"github.com/stemsi/exot-sync/internal/syncerr"
)

// maxSettingRetries bounds optimistic-lock retries of a settings key merge.
const maxSettingRetries = 10

// slotDoc is the JSON stored in each collection's slot.
type slotDoc struct {
	Payload   json.RawMessage `json:"payload"`
	UpdatedAt int64           `json:"updatedAt"`
	Origin    string          `json:"origin,omitempty"`
}

// RedisAdapter uses Redis as a document store: one slot per collection,
// overwritten wholesale, with PubSub change notifications.
type RedisAdapter struct {
	rdb     *redis.Client
	origin  string
	timeout time.Duration
	log     zerolog.Logger

	mu   sync.Mutex
	subs map[*redis.PubSub]struct{}
}

// NewRedisAdapter wraps an existing client.
func NewRedisAdapter(rdb *redis.Client, origin string, timeout time.Duration, log zerolog.Logger) *RedisAdapter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &RedisAdapter{
		rdb:     rdb,
		origin:  origin,
		timeout: timeout,
		log:     log.With().Str("component", "redis_adapter").Logger(),
		subs:    make(map[*redis.PubSub]struct{}),
	}
}

func (a *RedisAdapter) Name() string   { return "redis" }
func (a *RedisAdapter) Realtime() bool { return true }

// Close ends every open subscription. The client itself belongs to the caller.
func (a *RedisAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for ps := range a.subs {
		ps.Close()
		delete(a.subs, ps)
	}
	return nil
}

func (a *RedisAdapter) PullAll(ctx context.Context) (map[model.Collection]model.Envelope, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	keys := make([]string, len(model.Collections))
	for i, c := range model.Collections {
		keys[i] = config.CacheKey.DocumentSlotKey(string(c))
	}

	vals, err := a.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, syncerr.FromTransport("pull", err)
	}

	envs := make(map[model.Collection]model.Envelope, len(model.Collections))
	for i, c := range model.Collections {
		s, ok := vals[i].(string)
		if !ok {
			envs[c] = model.Envelope{Collection: c}
			continue
		}
		env, err := decodeSlot(c, []byte(s))
		if err != nil {
			return nil, err
		}
		envs[c] = env
	}
	return envs, nil
}

func (a *RedisAdapter) PushCollection(ctx context.Context, env model.Envelope) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	doc, err := json.Marshal(slotDoc{Payload: env.Payload, UpdatedAt: env.UpdatedAt, Origin: a.origin})
	if err != nil {
		return syncerr.New(syncerr.KindMalformedResponse, "encode slot", err)
	}

	c := string(env.Collection)
	_, err = a.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, config.CacheKey.DocumentSlotKey(c), doc, 0)
		pipe.Publish(ctx, config.CacheKey.DocumentChangesChannel(c), doc)
		return nil
	})
	if err != nil {
		return syncerr.FromTransport("push "+c, err)
	}
	return nil
}

// PushKeyedValue merges one key into the settings slot under WATCH so that
// concurrent desks writing different keys do not lose each other's values.
func (a *RedisAdapter) PushKeyedValue(ctx context.Context, key string, value json.RawMessage, updatedAt int64) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	c := string(model.CollectionSettings)
	slot := config.CacheKey.DocumentSlotKey(c)

	merge := func(tx *redis.Tx) error {
		settings := model.Settings{}
		cur, err := tx.Get(ctx, slot).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var doc slotDoc
			if err := json.Unmarshal(cur, &doc); err != nil {
				return syncerr.New(syncerr.KindMalformedResponse, "settings slot", err)
			}
			if len(doc.Payload) > 0 && string(doc.Payload) != "null" {
				if err := json.Unmarshal(doc.Payload, &settings); err != nil {
					return syncerr.New(syncerr.KindMalformedResponse, "settings payload", err)
				}
			}
			if doc.UpdatedAt > updatedAt {
				updatedAt = doc.UpdatedAt
			}
		}
		settings[key] = value

		payload, err := json.Marshal(settings)
		if err != nil {
			return err
		}
		doc, err := json.Marshal(slotDoc{Payload: payload, UpdatedAt: updatedAt, Origin: a.origin})
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, slot, doc, 0)
			pipe.Publish(ctx, config.CacheKey.DocumentChangesChannel(c), doc)
			return nil
		})
		return err
	}

	for i := 0; i < maxSettingRetries; i++ {
		err := a.rdb.Watch(ctx, merge, slot)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return syncerr.FromTransport("push setting "+key, err)
	}
	return syncerr.New(syncerr.KindAuthorityRejected, "push setting "+key+": too much contention", nil)
}

// Subscribe delivers the slot's current value, then every published change.
func (a *RedisAdapter) Subscribe(ctx context.Context, c model.Collection, fn func(model.Envelope)) (Unsubscribe, error) {
	channel := config.CacheKey.DocumentChangesChannel(string(c))
	pubsub := a.rdb.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, syncerr.FromTransport("subscribe "+string(c), err)
	}

	a.mu.Lock()
	a.subs[pubsub] = struct{}{}
	a.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.subs, pubsub)
			a.mu.Unlock()
			pubsub.Close()
		})
	}

	// Current value first, as a snapshot listener would.
	initCtx, cancel := context.WithTimeout(ctx, a.timeout)
	cur, err := a.rdb.Get(initCtx, config.CacheKey.DocumentSlotKey(string(c))).Bytes()
	cancel()
	switch {
	case errors.Is(err, redis.Nil):
		fn(model.Envelope{Collection: c})
	case err != nil:
		unsubscribe()
		return nil, syncerr.FromTransport("subscribe "+string(c), err)
	default:
		env, err := decodeSlot(c, cur)
		if err != nil {
			unsubscribe()
			return nil, err
		}
		fn(env)
	}

	go func() {
		defer unsubscribe()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				env, err := decodeSlot(c, []byte(msg.Payload))
				if err != nil {
					a.log.Warn().Err(err).Str("collection", string(c)).Msg("Dropping malformed change")
					continue
				}
				fn(env)
			}
		}
	}()

	return unsubscribe, nil
}

func decodeSlot(c model.Collection, raw []byte) (model.Envelope, error) {
	var doc slotDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return model.Envelope{}, syncerr.New(syncerr.KindMalformedResponse, fmt.Sprintf("slot %s", c), err)
	}
	if len(doc.Payload) == 0 || string(doc.Payload) == "null" {
		return model.Envelope{Collection: c}, nil
	}
	return model.Envelope{Collection: c, Payload: doc.Payload, UpdatedAt: doc.UpdatedAt, Exists: true}, nil
}
