// Package syncengine keeps a desk's local cache converged with the authority.
// Every change source (poll, subscription, peer broadcast, authority signal)
// ends in the same reconcile step, which asks the resolver who wins.
package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exot-sync/internal/bus"
	"github.com/stemsi/exot-sync/internal/localcache"
	"github.com/stemsi/exot-sync/internal/metrics"
	"github.com/stemsi/exot-sync/internal/model"
	"github.com/stemsi/exot-sync/internal/remote"
	"github.com/stemsi/exot-sync/internal/resolver"
	"github.com/stemsi/exot-sync/internal/syncerr"
	ws "github.com/stemsi/exot-sync/internal/websocket"
)

const (
	DefaultPollInterval = 10 * time.Second
	DefaultDebounce     = 1500 * time.Millisecond
)

// SignalFeed is the authority's cross-device "something changed" feed.
type SignalFeed interface {
	Run(ctx context.Context, fn func(ws.SignalMessage))
}

// Options configures an Engine. Zero values pick the defaults.
type Options struct {
	// Origin identifies this desk to peers and to the authority.
	Origin       string
	PollInterval time.Duration
	Debounce     time.Duration
	Resolver     *resolver.Resolver
	// Broadcaster reaches peers on the same device. Optional.
	Broadcaster bus.Broadcaster
	// Signals triggers immediate pulls on non-realtime backends. Optional.
	Signals SignalFeed
	// OnError receives failures that need operator attention.
	OnError func(error)
}

// Engine owns the sync loop for one desk.
type Engine struct {
	store     *localcache.Store
	adapter   remote.Adapter
	resolver  *resolver.Resolver
	debouncer *bus.Debouncer
	opts      Options
	log       zerolog.Logger

	pullMu   sync.Mutex
	inflight atomic.Int32

	stMu        sync.Mutex
	status      StatusInfo
	stListeners map[int]func(StatusInfo)
	stNextID    int

	runMu   sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	removeL func()

	subMu  sync.Mutex
	unsubs []remote.Unsubscribe
}

// New wires an engine. Nothing runs until Start.
func New(store *localcache.Store, adapter remote.Adapter, opts Options, log zerolog.Logger) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Resolver == nil {
		opts.Resolver = &resolver.Resolver{}
	}
	if opts.Origin == "" {
		opts.Origin = model.NewID()
	}
	return &Engine{
		store:       store,
		adapter:     adapter,
		resolver:    opts.Resolver,
		debouncer:   bus.NewDebouncer(opts.Debounce),
		opts:        opts,
		log:         log.With().Str("component", "sync_engine").Str("origin", opts.Origin).Logger(),
		status:      StatusInfo{Status: StatusConnecting, Backend: adapter.Name()},
		stListeners: make(map[int]func(StatusInfo)),
	}
}

// Origin returns this desk's identity.
func (e *Engine) Origin() string { return e.opts.Origin }

// Start begins syncing in the background. Callers must Stop the engine.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.cancel != nil {
		return errors.New("sync engine already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.debouncer.Reset()
	e.setStatus(StatusConnecting, nil)

	e.removeL = e.store.OnChange(func(ch localcache.Change) {
		if ch.Origin != localcache.OriginLocal {
			return
		}
		e.onLocalWrite(ctx, ch)
	})

	if e.opts.Broadcaster != nil {
		if err := e.opts.Broadcaster.Subscribe(ctx, func(msg bus.Message) { e.onPeerMessage(ctx, msg) }); err != nil {
			e.log.Warn().Err(err).Msg("Peer broadcast unavailable")
		}
	}

	if e.adapter.Realtime() {
		e.wg.Add(1)
		go e.runSubscriptions(ctx)
	} else {
		e.wg.Add(1)
		go e.runPolling(ctx)

		if e.opts.Signals != nil {
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				e.opts.Signals.Run(ctx, func(msg ws.SignalMessage) {
					if msg.Origin == e.opts.Origin {
						return
					}
					if err := e.PullNow(ctx); err != nil {
						e.log.Debug().Err(err).Msg("Signal-triggered pull failed")
					}
				})
			}()
		}
	}

	e.log.Info().
		Str("backend", e.adapter.Name()).
		Dur("poll_interval", e.opts.PollInterval).
		Dur("debounce", e.opts.Debounce).
		Msg("Sync engine started")
	return nil
}

// Stop ends every background activity. Debounced pushes that have not fired
// yet are dropped; the next start pushes them because the local copy is newer.
// A stopped engine can be started again.
func (e *Engine) Stop() {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.cancel == nil {
		return
	}

	e.cancel()
	e.debouncer.Stop()
	if e.removeL != nil {
		e.removeL()
	}
	e.wg.Wait()

	e.subMu.Lock()
	for _, u := range e.unsubs {
		u()
	}
	e.unsubs = nil
	e.subMu.Unlock()

	e.cancel = nil
	e.log.Info().Msg("Sync engine stopped")
}

// ─── Change sources ────────────────────────────────────────────────────────

func (e *Engine) onLocalWrite(ctx context.Context, ch localcache.Change) {
	if e.opts.Broadcaster != nil {
		if snap, err := e.store.Read(ctx, ch.Collection); err == nil {
			msg := bus.Message{
				Type:       bus.MessageTypeDataUpdated,
				Collection: ch.Collection,
				Origin:     e.opts.Origin,
				Payload:    snap.Data,
				UpdatedAt:  snap.UpdatedAt,
			}
			go func() {
				if err := e.opts.Broadcaster.Publish(ctx, msg); err != nil {
					e.log.Warn().Err(err).Msg("Peer broadcast failed")
				}
			}()
		}
	}

	c := ch.Collection
	e.debouncer.Schedule(string(c), func() {
		if ctx.Err() != nil {
			return
		}
		if err := e.Push(ctx, c); err != nil {
			e.log.Debug().Err(err).Str("collection", string(c)).Msg("Debounced push failed")
		}
	})
}

func (e *Engine) onPeerMessage(ctx context.Context, msg bus.Message) {
	if msg.Origin == e.opts.Origin || msg.Type != bus.MessageTypeDataUpdated {
		return
	}
	if len(msg.Payload) > 0 {
		env := model.Envelope{Collection: msg.Collection, Payload: msg.Payload, UpdatedAt: msg.UpdatedAt, Exists: true}
		if err := e.Reconcile(ctx, env); err != nil {
			e.log.Warn().Err(err).Msg("Applying peer change failed")
		}
		return
	}
	if err := e.PullNow(ctx); err != nil {
		e.log.Debug().Err(err).Msg("Peer-triggered pull failed")
	}
}

func (e *Engine) runPolling(ctx context.Context) {
	defer e.wg.Done()

	_ = e.PullNow(ctx)

	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = e.PullNow(ctx)
		}
	}
}

// runSubscriptions keeps one listener per collection, retrying at the poll
// interval while the store is unreachable.
func (e *Engine) runSubscriptions(ctx context.Context) {
	defer e.wg.Done()

	for {
		unsubs, err := e.subscribeAll(ctx)
		if err == nil {
			e.subMu.Lock()
			e.unsubs = unsubs
			e.subMu.Unlock()
			e.markSynced()
			return
		}
		e.handleFailure("subscribe", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(e.opts.PollInterval):
		}
	}
}

func (e *Engine) subscribeAll(ctx context.Context) ([]remote.Unsubscribe, error) {
	unsubs := make([]remote.Unsubscribe, 0, len(model.Collections))
	for _, c := range model.Collections {
		u, err := e.adapter.Subscribe(ctx, c, func(env model.Envelope) {
			if err := e.Reconcile(ctx, env); err != nil {
				e.log.Warn().Err(err).Str("collection", string(env.Collection)).Msg("Applying change failed")
			}
		})
		if err != nil {
			for _, prev := range unsubs {
				prev()
			}
			return nil, err
		}
		unsubs = append(unsubs, u)
	}
	return unsubs, nil
}

// ─── Pull / push ───────────────────────────────────────────────────────────

// PullNow fetches every collection and reconciles each one.
func (e *Engine) PullNow(ctx context.Context) error {
	e.pullMu.Lock()
	defer e.pullMu.Unlock()

	e.beginSync()
	envs, err := e.adapter.PullAll(ctx)
	if err != nil {
		e.endSync(err)
		metrics.ObservePull(outcome(err))
		e.handleFailure("pull", err)
		return err
	}
	metrics.ObservePull(metrics.OutcomeOK)

	var firstErr error
	for _, c := range model.Collections {
		env, ok := envs[c]
		if !ok {
			env = model.Envelope{Collection: c}
		}
		if err := e.Reconcile(ctx, env); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.endSync(firstErr)
	return firstErr
}

// Reconcile is the single entry point for authority or peer state. The
// resolver runs again under the collection lock right before an apply, so a
// local write that lands meanwhile is pushed instead of overwritten.
func (e *Engine) Reconcile(ctx context.Context, remoteEnv model.Envelope) error {
	c := remoteEnv.Collection
	// Materializes the default on first sight.
	if _, err := e.store.Read(ctx, c); err != nil {
		return fmt.Errorf("read %s: %w", c, err)
	}

	var (
		local    localcache.Snapshot
		decision resolver.Decision
	)
	_, err := e.store.ApplyRemoteIf(ctx, c, remoteEnv.Payload, remoteEnv.UpdatedAt, func(cur localcache.Snapshot) bool {
		local = cur
		decision = e.resolver.Resolve(cur, remoteEnv)
		return decision == resolver.DecisionApplyRemote
	})
	if err != nil {
		e.report(err)
		return fmt.Errorf("apply %s: %w", c, err)
	}
	metrics.ObserveDecision(string(c), decision.String())

	switch decision {
	case resolver.DecisionPushLocal:
		e.log.Debug().Str("collection", string(c)).
			Int64("local", local.UpdatedAt).Int64("remote", remoteEnv.UpdatedAt).
			Msg("Local copy is newer, pushing")
		return e.Push(ctx, c)
	case resolver.DecisionApplyRemote:
		e.log.Debug().Str("collection", string(c)).Int64("updated_at", remoteEnv.UpdatedAt).Msg("Applied remote state")
	case resolver.DecisionIgnoreStale:
		e.log.Info().Str("collection", string(c)).
			Int64("local", local.UpdatedAt).Int64("remote", remoteEnv.UpdatedAt).
			Msg("Ignoring stale remote state")
	}
	return nil
}

// Push sends the current local copy of c. Settings go key by key so that
// desks editing different keys do not overwrite each other.
func (e *Engine) Push(ctx context.Context, c model.Collection) error {
	snap, err := e.store.Read(ctx, c)
	if err != nil {
		return fmt.Errorf("read %s: %w", c, err)
	}

	e.beginSync()
	if c == model.CollectionSettings {
		err = e.pushSettings(ctx, snap)
	} else {
		err = e.adapter.PushCollection(ctx, model.Envelope{
			Collection: c,
			Payload:    snap.Data,
			UpdatedAt:  snap.UpdatedAt,
			Exists:     true,
		})
	}
	e.endSync(err)
	metrics.ObservePush(string(c), outcome(err))

	if err != nil {
		e.handleFailure("push "+string(c), err)
		return err
	}
	e.log.Debug().Str("collection", string(c)).Int64("updated_at", snap.UpdatedAt).Msg("Pushed")
	return nil
}

func (e *Engine) pushSettings(ctx context.Context, snap localcache.Snapshot) error {
	var settings model.Settings
	if err := json.Unmarshal(snap.Data, &settings); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := e.adapter.PushKeyedValue(ctx, k, settings[k], snap.UpdatedAt); err != nil {
			return err
		}
	}
	return nil
}

// ─── Status ────────────────────────────────────────────────────────────────

// Status returns the current indicator state.
func (e *Engine) Status() StatusInfo {
	e.stMu.Lock()
	defer e.stMu.Unlock()
	return e.status
}

// OnStatus registers fn for indicator changes. fn must not block.
func (e *Engine) OnStatus(fn func(StatusInfo)) func() {
	e.stMu.Lock()
	id := e.stNextID
	e.stNextID++
	e.stListeners[id] = fn
	e.stMu.Unlock()

	return func() {
		e.stMu.Lock()
		delete(e.stListeners, id)
		e.stMu.Unlock()
	}
}

func (e *Engine) beginSync() {
	e.inflight.Add(1)
	e.setStatus(StatusSyncing, nil)
}

func (e *Engine) endSync(err error) {
	left := e.inflight.Add(-1)
	if err != nil {
		return // handleFailure sets the status
	}
	if left == 0 {
		e.markSynced()
	}
}

func (e *Engine) markSynced() {
	e.stMu.Lock()
	e.status.LastSyncAt = model.NowMillis()
	e.stMu.Unlock()
	e.setStatus(StatusOnline, nil)
}

// handleFailure moves the indicator. Local state is never rolled back: the
// next poll or mutation retries.
func (e *Engine) handleFailure(op string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	switch {
	case syncerr.Transient(err):
		e.log.Warn().Err(err).Str("op", op).Msg("Authority unreachable")
		e.setStatus(StatusOffline, err)
	case syncerr.Is(err, syncerr.KindAuthorityRejected), syncerr.Is(err, syncerr.KindMalformedResponse):
		e.log.Error().Err(err).Str("op", op).Msg("Authority rejected sync")
		e.setStatus(StatusError, err)
		e.report(err)
	default:
		e.log.Error().Err(err).Str("op", op).Msg("Sync failed")
		e.setStatus(StatusError, err)
		e.report(err)
	}
}

func (e *Engine) report(err error) {
	if e.opts.OnError != nil {
		e.opts.OnError(err)
	}
}

func (e *Engine) setStatus(s Status, err error) {
	e.stMu.Lock()
	prev := e.status
	e.status.Status = s
	if err != nil {
		e.status.LastError = err.Error()
	} else if s == StatusOnline {
		e.status.LastError = ""
	}
	cur := e.status
	if prev.Status == cur.Status && prev.LastError == cur.LastError {
		e.stMu.Unlock()
		return
	}
	fns := make([]func(StatusInfo), 0, len(e.stListeners))
	for _, fn := range e.stListeners {
		fns = append(fns, fn)
	}
	e.stMu.Unlock()

	for _, fn := range fns {
		fn(cur)
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case syncerr.Transient(err):
		return metrics.OutcomeOffline
	}
	return metrics.OutcomeRejected
}
