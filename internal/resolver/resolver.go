// Package resolver decides, per collection, whether local or authority state
// wins. It is last-writer-wins at collection granularity with a skew buffer
// that keeps a freshly written local copy from being clobbered by an echo of
// older authority state.
package resolver

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/stemsi/exot-sync/internal/localcache"
	"github.com/stemsi/exot-sync/internal/model"
)

// DefaultSkew is the grace window, in millis, a local write gets over the
// authority's copy before it is pushed instead of overwritten.
const DefaultSkew = 2000

// Decision is the outcome of comparing a local snapshot to a remote envelope.
type Decision int

const (
	// DecisionPushLocal: the local copy is clearly newer, push it.
	DecisionPushLocal Decision = iota
	// DecisionNoop: contents are equal, nothing to do.
	DecisionNoop
	// DecisionApplyRemote: overwrite the local copy with the authority's.
	DecisionApplyRemote
	// DecisionIgnoreStale: remote is older but inside the skew window.
	DecisionIgnoreStale
)

func (d Decision) String() string {
	switch d {
	case DecisionPushLocal:
		return "push_local"
	case DecisionNoop:
		return "noop"
	case DecisionApplyRemote:
		return "apply_remote"
	case DecisionIgnoreStale:
		return "ignore_stale"
	}
	return "unknown"
}

// Resolver compares snapshots. The zero value uses DefaultSkew.
type Resolver struct {
	SkewMillis int64
}

// New returns a resolver with the given skew buffer.
func New(skew time.Duration) *Resolver {
	return &Resolver{SkewMillis: skew.Milliseconds()}
}

func (r *Resolver) skew() int64 {
	if r == nil || r.SkewMillis <= 0 {
		return DefaultSkew
	}
	return r.SkewMillis
}

// Resolve applies, in order: local newer than remote plus skew pushes;
// equal content is a no-op; remote at least as new as local applies;
// anything else is a stale remote and is ignored.
func (r *Resolver) Resolve(local localcache.Snapshot, remote model.Envelope) Decision {
	if !remote.Exists {
		if local.UpdatedAt > 0 {
			return DecisionPushLocal
		}
		return DecisionNoop
	}
	if local.UpdatedAt > remote.UpdatedAt+r.skew() {
		return DecisionPushLocal
	}
	if Equal(local.Data, remote.Payload) {
		return DecisionNoop
	}
	if remote.UpdatedAt >= local.UpdatedAt {
		return DecisionApplyRemote
	}
	return DecisionIgnoreStale
}

// Equal compares two JSON documents structurally: object key order and
// insignificant whitespace do not matter, number text is compared exactly.
func Equal(a, b json.RawMessage) bool {
	if bytes.Equal(a, b) {
		return true
	}
	ca, err := Canonical(a)
	if err != nil {
		return false
	}
	cb, err := Canonical(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ca, cb)
}

// Canonical re-encodes raw with sorted object keys and compact spacing.
func Canonical(raw json.RawMessage) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	// encoding/json writes map keys in sorted order.
	return json.Marshal(v)
}
