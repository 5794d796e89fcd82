// Package localcache is a desk's writable copy of every collection. It works
// with or without the network; the sync engine reconciles it with the
// authority in the background.
package localcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stemsi/exot-sync/internal/config"
	"github.com/stemsi/exot-sync/internal/model"
	"github.com/stemsi/exot-sync/internal/syncerr"
)

// ErrUnchanged lets an Update callback abort without writing.
var ErrUnchanged = errors.New("localcache: unchanged")

// Origin tells listeners who caused a write.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// Change is delivered to listeners after every successful write.
type Change struct {
	Collection model.Collection
	UpdatedAt  int64
	Origin     Origin
}

// Snapshot is a collection's payload plus the time it was last written.
// UpdatedAt is zero for untouched defaults so any authority state wins.
type Snapshot struct {
	Collection model.Collection
	Data       json.RawMessage
	UpdatedAt  int64
}

// Options tunes a Store.
type Options struct {
	// QuotaBytes caps the total payload size. Zero disables the check.
	QuotaBytes int64
	// Clock returns epoch millis. Defaults to model.NowMillis.
	Clock func() int64
}

// Store holds every collection in memory and writes through to a Persister.
type Store struct {
	persist Persister
	quota   int64
	clock   func() int64
	log     zerolog.Logger

	mu   sync.RWMutex
	data map[model.Collection]Snapshot

	// locks serialize read-modify-write cycles per collection.
	locks map[model.Collection]*sync.Mutex

	lmu       sync.Mutex
	listeners map[int]func(Change)
	nextID    int
}

// Open loads any persisted state and returns a ready store.
func Open(ctx context.Context, p Persister, opts Options, log zerolog.Logger) (*Store, error) {
	if opts.Clock == nil {
		opts.Clock = model.NowMillis
	}
	s := &Store{
		persist:   p,
		quota:     opts.QuotaBytes,
		clock:     opts.Clock,
		log:       log.With().Str("component", "local_cache").Logger(),
		data:      make(map[model.Collection]Snapshot),
		locks:     make(map[model.Collection]*sync.Mutex, len(model.Collections)),
		listeners: make(map[int]func(Change)),
	}
	for _, c := range model.Collections {
		s.locks[c] = &sync.Mutex{}
	}

	rows, err := p.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load local cache: %w", err)
	}
	for _, c := range model.Collections {
		raw, ok := rows[string(c)]
		if !ok {
			continue
		}
		ts, _ := strconv.ParseInt(rows[config.CacheKey.LocalTimestampKey(string(c))], 10, 64)
		s.data[c] = Snapshot{Collection: c, Data: json.RawMessage(raw), UpdatedAt: ts}
	}

	s.log.Debug().Int("collections", len(s.data)).Msg("Local cache loaded")
	return s, nil
}

// Read returns the current snapshot of c. The first read of a collection that
// was never written materializes and persists its default.
func (s *Store) Read(ctx context.Context, c model.Collection) (Snapshot, error) {
	if !c.Valid() {
		return Snapshot{}, fmt.Errorf("unknown collection %q", c)
	}

	s.mu.RLock()
	snap, ok := s.data[c]
	s.mu.RUnlock()
	if ok {
		return snap, nil
	}

	lock := s.locks[c]
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	snap, ok = s.data[c]
	s.mu.RUnlock()
	if ok {
		return snap, nil
	}

	snap = Snapshot{Collection: c, Data: defaultPayload(c)}
	if err := s.commit(ctx, snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Write replaces c with data on behalf of the local user. ts of zero means now.
func (s *Store) Write(ctx context.Context, c model.Collection, data json.RawMessage, ts int64) error {
	return s.write(ctx, c, data, ts, OriginLocal)
}

// ApplyRemote replaces c with authority state, keeping the authority's time.
func (s *Store) ApplyRemote(ctx context.Context, c model.Collection, data json.RawMessage, ts int64) error {
	return s.write(ctx, c, data, ts, OriginRemote)
}

// ApplyRemoteIf replaces c with authority state only when accept approves
// the current snapshot. The check and the write happen under the collection
// lock, so a local write cannot slip in between them. It reports whether the
// remote state was applied.
func (s *Store) ApplyRemoteIf(ctx context.Context, c model.Collection, data json.RawMessage, ts int64, accept func(Snapshot) bool) (bool, error) {
	if !c.Valid() {
		return false, fmt.Errorf("unknown collection %q", c)
	}
	lock := s.locks[c]
	lock.Lock()

	s.mu.RLock()
	cur, ok := s.data[c]
	s.mu.RUnlock()
	if !ok {
		cur = Snapshot{Collection: c, Data: defaultPayload(c)}
	}
	if !accept(cur) {
		lock.Unlock()
		return false, nil
	}

	snap, err := s.writeLocked(ctx, c, data, ts)
	lock.Unlock()
	if err != nil {
		return false, err
	}
	s.notify(Change{Collection: c, UpdatedAt: snap.UpdatedAt, Origin: OriginRemote})
	return true, nil
}

func (s *Store) write(ctx context.Context, c model.Collection, data json.RawMessage, ts int64, origin Origin) error {
	if !c.Valid() {
		return fmt.Errorf("unknown collection %q", c)
	}
	lock := s.locks[c]
	lock.Lock()
	snap, err := s.writeLocked(ctx, c, data, ts)
	lock.Unlock()
	if err != nil {
		return err
	}
	s.notify(Change{Collection: c, UpdatedAt: snap.UpdatedAt, Origin: origin})
	return nil
}

// Update runs fn on the current payload of c and writes its result as a
// local change. fn returning ErrUnchanged skips the write; any other error
// is returned as is.
func (s *Store) Update(ctx context.Context, c model.Collection, fn func(json.RawMessage) (json.RawMessage, error)) error {
	if !c.Valid() {
		return fmt.Errorf("unknown collection %q", c)
	}
	lock := s.locks[c]
	lock.Lock()

	s.mu.RLock()
	cur, ok := s.data[c]
	s.mu.RUnlock()
	if !ok {
		cur = Snapshot{Collection: c, Data: defaultPayload(c)}
	}

	next, err := fn(cur.Data)
	if err != nil {
		lock.Unlock()
		if errors.Is(err, ErrUnchanged) {
			return nil
		}
		return err
	}

	snap, err := s.writeLocked(ctx, c, next, 0)
	lock.Unlock()
	if err != nil {
		return err
	}
	s.notify(Change{Collection: c, UpdatedAt: snap.UpdatedAt, Origin: OriginLocal})
	return nil
}

func (s *Store) writeLocked(ctx context.Context, c model.Collection, data json.RawMessage, ts int64) (Snapshot, error) {
	if ts == 0 {
		ts = s.clock()
	}
	if !json.Valid(data) {
		return Snapshot{}, fmt.Errorf("write %s: payload is not valid JSON", c)
	}
	if err := s.checkQuota(c, len(data)); err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{Collection: c, Data: append(json.RawMessage(nil), data...), UpdatedAt: ts}
	if err := s.commit(ctx, snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// commit persists snap then publishes it in memory. Readers never see a
// snapshot that failed to persist.
func (s *Store) commit(ctx context.Context, snap Snapshot) error {
	entries := map[string]string{
		string(snap.Collection): string(snap.Data),
		config.CacheKey.LocalTimestampKey(string(snap.Collection)): strconv.FormatInt(snap.UpdatedAt, 10),
	}
	if err := s.persist.Save(ctx, entries); err != nil {
		s.log.Error().Err(err).Str("collection", string(snap.Collection)).Msg("Persist failed")
		return fmt.Errorf("persist %s: %w", snap.Collection, err)
	}

	s.mu.Lock()
	s.data[snap.Collection] = snap
	s.mu.Unlock()
	return nil
}

func (s *Store) checkQuota(c model.Collection, size int) error {
	if s.quota <= 0 {
		return nil
	}
	s.mu.RLock()
	total := int64(size)
	for other, snap := range s.data {
		if other != c {
			total += int64(len(snap.Data))
		}
	}
	s.mu.RUnlock()

	if total > s.quota {
		return syncerr.New(syncerr.KindQuotaExceeded,
			fmt.Sprintf("writing %s needs %d bytes, quota is %d", c, total, s.quota), nil)
	}
	return nil
}

// Size returns the total payload bytes currently held.
func (s *Store) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, snap := range s.data {
		total += int64(len(snap.Data))
	}
	return total
}

// OnChange registers fn for every successful write. fn runs on the writer's
// goroutine and must not block. The returned func unregisters it.
func (s *Store) OnChange(fn func(Change)) func() {
	s.lmu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.lmu.Unlock()

	return func() {
		s.lmu.Lock()
		delete(s.listeners, id)
		s.lmu.Unlock()
	}
}

func (s *Store) notify(ch Change) {
	s.lmu.Lock()
	fns := make([]func(Change), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.lmu.Unlock()

	for _, fn := range fns {
		fn(ch)
	}
}
