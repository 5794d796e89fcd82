package syncengine

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exot-sync/internal/bus"
	"github.com/stemsi/exot-sync/internal/localcache"
	"github.com/stemsi/exot-sync/internal/model"
	"github.com/stemsi/exot-sync/internal/remote"
	"github.com/stemsi/exot-sync/internal/resolver"
	"github.com/stemsi/exot-sync/internal/syncerr"
)

type pushed struct {
	collection model.Collection
	payload    string
	updatedAt  int64
}

type fakeAdapter struct {
	mu       sync.Mutex
	envs     map[model.Collection]model.Envelope
	pullErr  error
	pushErr  error
	pushes   []pushed
	keyed    map[string]string
	pullHits int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{envs: map[model.Collection]model.Envelope{}, keyed: map[string]string{}}
}

func (f *fakeAdapter) Name() string   { return "fake" }
func (f *fakeAdapter) Realtime() bool { return false }
func (f *fakeAdapter) Close() error   { return nil }

func (f *fakeAdapter) PullAll(context.Context) (map[model.Collection]model.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pullHits++
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	out := make(map[model.Collection]model.Envelope, len(f.envs))
	for k, v := range f.envs {
		out[k] = v
	}
	return out, nil
}

func (f *fakeAdapter) PushCollection(_ context.Context, env model.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushes = append(f.pushes, pushed{env.Collection, string(env.Payload), env.UpdatedAt})
	return nil
}

func (f *fakeAdapter) PushKeyedValue(_ context.Context, key string, value json.RawMessage, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return f.pushErr
	}
	f.keyed[key] = string(value)
	return nil
}

func (f *fakeAdapter) Subscribe(context.Context, model.Collection, func(model.Envelope)) (remote.Unsubscribe, error) {
	return func() {}, nil
}

func (f *fakeAdapter) pushesFor(c model.Collection) []pushed {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []pushed
	for _, p := range f.pushes {
		if p.collection == c {
			out = append(out, p)
		}
	}
	return out
}

func discard() zerolog.Logger { return zerolog.New(io.Discard) }

func newStore(t *testing.T) *localcache.Store {
	t.Helper()
	s, err := localcache.Open(context.Background(), localcache.NewMemoryPersister(), localcache.Options{}, discard())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func newEngine(store *localcache.Store, a remote.Adapter, opts Options) *Engine {
	if opts.Resolver == nil {
		opts.Resolver = resolver.New(2 * time.Second)
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Hour
	}
	if opts.Debounce == 0 {
		opts.Debounce = 20 * time.Millisecond
	}
	return New(store, a, opts, discard())
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewerLocalPushesOnceAndKeepsLocal(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	fake := newFakeAdapter()
	eng := newEngine(store, fake, Options{})

	local := `[{"id":"S1","name":"Amir"}]`
	if err := store.Write(ctx, model.CollectionStudents, json.RawMessage(local), 10_000); err != nil {
		t.Fatalf("Write: %v", err)
	}

	remoteEnv := model.Envelope{
		Collection: model.CollectionStudents,
		Payload:    json.RawMessage(`[{"id":"S1","name":"Budi"}]`),
		UpdatedAt:  7_000,
		Exists:     true,
	}
	if err := eng.Reconcile(ctx, remoteEnv); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	got := fake.pushesFor(model.CollectionStudents)
	if len(got) != 1 {
		t.Fatalf("expected exactly one push, got %d", len(got))
	}
	if got[0].payload != local || got[0].updatedAt != 10_000 {
		t.Fatalf("unexpected push: %+v", got[0])
	}

	snap, _ := store.Read(ctx, model.CollectionStudents)
	if string(snap.Data) != local || snap.UpdatedAt != 10_000 {
		t.Fatalf("local copy was overwritten: %s @ %d", snap.Data, snap.UpdatedAt)
	}
}

func TestEqualContentIsNoop(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	fake := newFakeAdapter()
	eng := newEngine(store, fake, Options{})

	if err := store.Write(ctx, model.CollectionStudents, json.RawMessage(`[{"id":"S1","name":"Amir"}]`), 5_000); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var events int
	var mu sync.Mutex
	remove := store.OnChange(func(localcache.Change) {
		mu.Lock()
		events++
		mu.Unlock()
	})
	defer remove()

	remoteEnv := model.Envelope{
		Collection: model.CollectionStudents,
		Payload:    json.RawMessage(`[{"name":"Amir","id":"S1"}]`),
		UpdatedAt:  6_000,
		Exists:     true,
	}
	if err := eng.Reconcile(ctx, remoteEnv); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if events != 0 {
		t.Fatalf("expected no change events, got %d", events)
	}
	snap, _ := store.Read(ctx, model.CollectionStudents)
	if snap.UpdatedAt != 5_000 {
		t.Fatalf("timestamp changed to %d", snap.UpdatedAt)
	}
	if n := len(fake.pushesFor(model.CollectionStudents)); n != 0 {
		t.Fatalf("expected no push, got %d", n)
	}
}

func TestNewerRemoteOverwritesLocal(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	eng := newEngine(store, newFakeAdapter(), Options{})

	local := `[{"id":"S1","name":"Amir","scores":{"english":null,"arabic":null,"alquran":null}}]`
	if err := store.Write(ctx, model.CollectionStudents, json.RawMessage(local), 1_000); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var changes []localcache.Change
	var mu sync.Mutex
	remove := store.OnChange(func(ch localcache.Change) {
		mu.Lock()
		changes = append(changes, ch)
		mu.Unlock()
	})
	defer remove()

	remotePayload := `[{"id":"S1","name":"Amir","scores":{"english":80,"arabic":null,"alquran":null}}]`
	err := eng.Reconcile(ctx, model.Envelope{
		Collection: model.CollectionStudents,
		Payload:    json.RawMessage(remotePayload),
		UpdatedAt:  2_000,
		Exists:     true,
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	students, err := localcache.Load[[]model.Student](ctx, store, model.CollectionStudents)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(students) != 1 || students[0].Scores.English == nil || *students[0].Scores.English != 80 {
		t.Fatalf("remote state not applied: %+v", students)
	}
	snap, _ := store.Read(ctx, model.CollectionStudents)
	if snap.UpdatedAt != 2_000 {
		t.Fatalf("expected remote timestamp, got %d", snap.UpdatedAt)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 1 || changes[0].Origin != localcache.OriginRemote {
		t.Fatalf("expected one remote change event, got %+v", changes)
	}
}

func TestStaleRemoteIsIgnored(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	eng := newEngine(store, newFakeAdapter(), Options{Resolver: resolver.New(5 * time.Second)})

	if err := store.Write(ctx, model.CollectionClasses, json.RawMessage(`["7A"]`), 3_000); err != nil {
		t.Fatalf("Write: %v", err)
	}
	err := eng.Reconcile(ctx, model.Envelope{
		Collection: model.CollectionClasses,
		Payload:    json.RawMessage(`["7B"]`),
		UpdatedAt:  2_000,
		Exists:     true,
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	snap, _ := store.Read(ctx, model.CollectionClasses)
	if string(snap.Data) != `["7A"]` {
		t.Fatalf("stale remote applied: %s", snap.Data)
	}
}

func TestRejectedPushKeepsLocalAndReportsError(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	fake := newFakeAdapter()
	fake.pushErr = syncerr.New(syncerr.KindAuthorityRejected, "students: record S1: bad class", nil)

	var reported error
	eng := newEngine(store, fake, Options{OnError: func(err error) { reported = err }})

	local := `[{"id":"S1","name":"Amir"}]`
	if err := store.Write(ctx, model.CollectionStudents, json.RawMessage(local), 0); err != nil {
		t.Fatalf("Write: %v", err)
	}

	err := eng.Push(ctx, model.CollectionStudents)
	if !syncerr.Is(err, syncerr.KindAuthorityRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if reported == nil {
		t.Fatal("OnError was not called")
	}
	if st := eng.Status(); st.Status != StatusError || st.LastError == "" {
		t.Fatalf("unexpected status: %+v", st)
	}
	snap, _ := store.Read(ctx, model.CollectionStudents)
	if string(snap.Data) != local {
		t.Fatalf("local copy rolled back: %s", snap.Data)
	}
}

func TestUnreachableAuthorityGoesOffline(t *testing.T) {
	ctx := context.Background()
	fake := newFakeAdapter()
	fake.pullErr = syncerr.New(syncerr.KindNetworkUnavailable, "pull", nil)
	eng := newEngine(newStore(t), fake, Options{})

	var seen []Status
	eng.OnStatus(func(s StatusInfo) { seen = append(seen, s.Status) })

	if err := eng.PullNow(ctx); err == nil {
		t.Fatal("expected pull error")
	}
	if st := eng.Status(); st.Status != StatusOffline {
		t.Fatalf("expected offline, got %s", st.Status)
	}
	if len(seen) < 2 || seen[0] != StatusSyncing || seen[len(seen)-1] != StatusOffline {
		t.Fatalf("unexpected status sequence: %v", seen)
	}

	fake.mu.Lock()
	fake.pullErr = nil
	fake.mu.Unlock()
	if err := eng.PullNow(ctx); err != nil {
		t.Fatalf("PullNow: %v", err)
	}
	if st := eng.Status(); st.Status != StatusOnline || st.LastError != "" || st.LastSyncAt == 0 {
		t.Fatalf("expected online after recovery, got %+v", st)
	}
}

func TestAbsentRemotePushesTouchedCollections(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	fake := newFakeAdapter()
	eng := newEngine(store, fake, Options{})

	if err := store.Write(ctx, model.CollectionQuestions, json.RawMessage(`[]`), 4_000); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := eng.PullNow(ctx); err != nil {
		t.Fatalf("PullNow: %v", err)
	}

	if n := len(fake.pushesFor(model.CollectionQuestions)); n != 1 {
		t.Fatalf("expected questions pushed once, got %d", n)
	}
	if n := len(fake.pushesFor(model.CollectionStudents)); n != 0 {
		t.Fatalf("untouched default was pushed %d times", n)
	}
}

func TestSettingsPushedPerKey(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	fake := newFakeAdapter()
	eng := newEngine(store, fake, Options{})

	if err := store.Write(ctx, model.CollectionSettings, json.RawMessage(`{"darkMode":true,"sessionTimeout":30}`), 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := eng.Push(ctx, model.CollectionSettings); err != nil {
		t.Fatalf("Push: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.keyed) != 2 || fake.keyed["darkMode"] != "true" || fake.keyed["sessionTimeout"] != "30" {
		t.Fatalf("unexpected keyed pushes: %v", fake.keyed)
	}
	if len(fake.pushes) != 0 {
		t.Fatalf("settings pushed as a blob: %+v", fake.pushes)
	}
}

func TestBurstOfWritesCoalescesIntoOnePush(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	fake := newFakeAdapter()
	eng := newEngine(store, fake, Options{Debounce: 50 * time.Millisecond})

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop()
	waitFor(t, "initial pull", func() bool { return eng.Status().Status == StatusOnline })

	var last string
	for i := 0; i < 5; i++ {
		last = `[{"id":"S1","name":"Amir","n":` + string(rune('0'+i)) + `}]`
		if err := store.Write(ctx, model.CollectionStudents, json.RawMessage(last), 0); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	waitFor(t, "debounced push", func() bool { return len(fake.pushesFor(model.CollectionStudents)) > 0 })
	time.Sleep(150 * time.Millisecond)

	got := fake.pushesFor(model.CollectionStudents)
	if len(got) != 1 {
		t.Fatalf("expected one push, got %d", len(got))
	}
	if got[0].payload != last {
		t.Fatalf("pushed %s, want the latest state %s", got[0].payload, last)
	}
}

func TestPeerWriteReachesOtherDesk(t *testing.T) {
	ctx := context.Background()
	b := bus.NewMemoryBroadcaster()

	storeA, storeB := newStore(t), newStore(t)
	engA := newEngine(storeA, newFakeAdapter(), Options{Origin: "desk-a", Broadcaster: b})
	engB := newEngine(storeB, newFakeAdapter(), Options{Origin: "desk-b", Broadcaster: b})

	for _, e := range []*Engine{engA, engB} {
		if err := e.Start(ctx); err != nil {
			t.Fatalf("Start: %v", err)
		}
		defer e.Stop()
	}
	waitFor(t, "desks online", func() bool {
		return engA.Status().Status == StatusOnline && engB.Status().Status == StatusOnline
	})

	payload := `["7A","7B","7C","10A"]`
	if err := storeA.Write(ctx, model.CollectionClasses, json.RawMessage(payload), 0); err != nil {
		t.Fatalf("Write: %v", err)
	}

	waitFor(t, "peer apply", func() bool {
		snap, err := storeB.Read(ctx, model.CollectionClasses)
		return err == nil && string(snap.Data) == payload
	})
}

func TestLocalWriteDuringReconcileSurvives(t *testing.T) {
	ctx := context.Background()
	remotePayload := make([]map[string]any, 0, 500)
	for i := 0; i < 500; i++ {
		remotePayload = append(remotePayload, map[string]any{"id": model.NewID(), "name": "Remote"})
	}
	raw, _ := json.Marshal(remotePayload)
	local := `[{"id":"S1","name":"Edited"}]`

	for round := 0; round < 50; round++ {
		store := newStore(t)
		eng := newEngine(store, newFakeAdapter(), Options{})
		if err := store.Write(ctx, model.CollectionStudents, json.RawMessage(`[]`), 1_000); err != nil {
			t.Fatalf("Write: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			err := eng.Reconcile(ctx, model.Envelope{Collection: model.CollectionStudents, Payload: raw, UpdatedAt: 2_000, Exists: true})
			if err != nil {
				t.Errorf("Reconcile: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if err := store.Write(ctx, model.CollectionStudents, json.RawMessage(local), 5_000); err != nil {
				t.Errorf("Write: %v", err)
			}
		}()
		wg.Wait()

		snap, _ := store.Read(ctx, model.CollectionStudents)
		if string(snap.Data) != local || snap.UpdatedAt != 5_000 {
			t.Fatalf("round %d: local write at 5000 replaced by %d", round, snap.UpdatedAt)
		}
	}
}

func TestRestartedEngineStillDebouncesPushes(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	fake := newFakeAdapter()
	eng := newEngine(store, fake, Options{})

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	eng.Stop()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer eng.Stop()
	waitFor(t, "pull after restart", func() bool { return eng.Status().Status == StatusOnline })

	if err := store.Write(ctx, model.CollectionStudents, json.RawMessage(`[{"id":"S1","name":"Amir"}]`), 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	waitFor(t, "push after restart", func() bool { return len(fake.pushesFor(model.CollectionStudents)) == 1 })
}

// realtimeAdapter behaves like a document store: subscribers get the
// current value first and then every write, their own included.
type realtimeAdapter struct {
	*fakeAdapter

	subMu  sync.Mutex
	subs   map[model.Collection]func(model.Envelope)
	echoes int
}

func newRealtimeAdapter() *realtimeAdapter {
	return &realtimeAdapter{fakeAdapter: newFakeAdapter(), subs: map[model.Collection]func(model.Envelope){}}
}

func (r *realtimeAdapter) Name() string   { return "realtime" }
func (r *realtimeAdapter) Realtime() bool { return true }

func (r *realtimeAdapter) Subscribe(_ context.Context, c model.Collection, fn func(model.Envelope)) (remote.Unsubscribe, error) {
	r.subMu.Lock()
	r.subs[c] = fn
	r.subMu.Unlock()

	r.fakeAdapter.mu.Lock()
	env, ok := r.envs[c]
	r.fakeAdapter.mu.Unlock()
	if !ok {
		env = model.Envelope{Collection: c}
	}
	fn(env)

	return func() {
		r.subMu.Lock()
		delete(r.subs, c)
		r.subMu.Unlock()
	}, nil
}

func (r *realtimeAdapter) PushCollection(ctx context.Context, env model.Envelope) error {
	if err := r.fakeAdapter.PushCollection(ctx, env); err != nil {
		return err
	}
	r.fakeAdapter.mu.Lock()
	r.envs[env.Collection] = env
	r.fakeAdapter.mu.Unlock()
	r.deliver(env)
	return nil
}

func (r *realtimeAdapter) deliver(env model.Envelope) {
	r.subMu.Lock()
	fn := r.subs[env.Collection]
	if fn != nil {
		r.echoes++
	}
	r.subMu.Unlock()
	if fn != nil {
		fn(env)
	}
}

func (r *realtimeAdapter) echoCount() int {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	return r.echoes
}

func TestRealtimeOwnWriteEchoIsNoop(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	rt := newRealtimeAdapter()
	rt.envs[model.CollectionClasses] = model.Envelope{
		Collection: model.CollectionClasses,
		Payload:    json.RawMessage(`["7A","7B"]`),
		UpdatedAt:  1_000,
		Exists:     true,
	}
	eng := newEngine(store, rt, Options{})

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop()
	waitFor(t, "subscriptions", func() bool { return eng.Status().Status == StatusOnline })

	snap, _ := store.Read(ctx, model.CollectionClasses)
	if string(snap.Data) != `["7A","7B"]` || snap.UpdatedAt != 1_000 {
		t.Fatalf("initial value not applied: %s @ %d", snap.Data, snap.UpdatedAt)
	}

	var mu sync.Mutex
	var changes []localcache.Change
	remove := store.OnChange(func(ch localcache.Change) {
		mu.Lock()
		changes = append(changes, ch)
		mu.Unlock()
	})
	defer remove()

	payload := `[{"id":"S1","name":"Amir"}]`
	if err := store.Write(ctx, model.CollectionStudents, json.RawMessage(payload), 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	waitFor(t, "own write echoed", func() bool { return rt.echoCount() == 1 })
	time.Sleep(100 * time.Millisecond)

	if n := len(rt.pushesFor(model.CollectionStudents)); n != 1 {
		t.Fatalf("pushes = %d, want 1", n)
	}
	mu.Lock()
	got := append([]localcache.Change(nil), changes...)
	mu.Unlock()
	if len(got) != 1 || got[0].Origin != localcache.OriginLocal {
		t.Fatalf("changes = %+v, want only the local write", got)
	}

	// A write from another desk arrives through the same subscription.
	rt.deliver(model.Envelope{
		Collection: model.CollectionClasses,
		Payload:    json.RawMessage(`["7A","7B","7C"]`),
		UpdatedAt:  model.NowMillis() + 1_000,
		Exists:     true,
	})
	snap, _ = store.Read(ctx, model.CollectionClasses)
	if string(snap.Data) != `["7A","7B","7C"]` {
		t.Fatalf("remote change not applied: %s", snap.Data)
	}
}
