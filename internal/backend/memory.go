package backend

import (
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/edirooss/opcua-historian/internal/hdtypes"
	"go.uber.org/zap"
)

// entry is one stored sample; ts is its effective timestamp, captured
// once at insert time so later reads never need to recompute it.
type entry struct {
	ts  hdtypes.Timestamp
	val hdtypes.DataValue
}

// nodeStore is the per-node ordered array: entries sorted ascending by
// ts, growth by doubling from MemoryBackend.initialCapacity, no shrink.
type nodeStore struct {
	entries []entry
}

// MemoryBackend is the reference, non-durable Backend: an append-sorted
// dynamic array per node behind a single map, guarded by one RWMutex.
// Concurrent inserts on the same node are serialized by that mutex;
// concurrent inserts on different nodes still contend on the map lock
// today (a sharded-lock variant is a pluggable future backend, not this
// one).
type MemoryBackend struct {
	log *zap.Logger

	mu     sync.RWMutex
	stores map[hdtypes.NodeId]*nodeStore

	initialCapacity int
	now             func() hdtypes.Timestamp
}

// Options configures a MemoryBackend.
type Options struct {
	// InitialCapacity is the starting slice capacity for a node's first
	// insert. Defaults to 64.
	InitialCapacity int
	// Now supplies the "current clock" timestamp used when a DataValue
	// has neither a source nor a server timestamp. Defaults to the
	// system clock via hdtypes.TimestampFromTime(time.Now()).
	Now func() hdtypes.Timestamp
}

func (o *Options) setDefaults() {
	if o.InitialCapacity <= 0 {
		o.InitialCapacity = 64
	}
	if o.Now == nil {
		o.Now = func() hdtypes.Timestamp { return hdtypes.TimestampFromTime(time.Now()) }
	}
}

// NewMemoryBackend constructs a ready-to-use MemoryBackend.
func NewMemoryBackend(log *zap.Logger, opts Options) *MemoryBackend {
	if log == nil {
		log = zap.NewNop()
	}
	opts.setDefaults()
	return &MemoryBackend{
		log:             log.Named("backend.memory"),
		stores:          make(map[hdtypes.NodeId]*nodeStore),
		initialCapacity: opts.InitialCapacity,
		now:             opts.Now,
	}
}

var _ Backend = (*MemoryBackend)(nil)

// Insert places value at the position preserving ascending effective-
// timestamp order. Among entries sharing a timestamp, a new insert is
// placed after all existing ones, so iteration order among ties matches
// insertion order.
func (b *MemoryBackend) Insert(node hdtypes.NodeId, value hdtypes.DataValue) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.stores[node]
	if !ok {
		st = &nodeStore{entries: make([]entry, 0, b.initialCapacity)}
		b.stores[node] = st
	}

	ts := value.EffectiveTimestamp(b.now())

	// Insertion point: first index whose timestamp is strictly greater
	// than ts, i.e. one past any existing run of equal timestamps.
	idx := sort.Search(len(st.entries), func(i int) bool { return st.entries[i].ts > ts })

	if len(st.entries) == cap(st.entries) {
		grown := make([]entry, len(st.entries), 2*cap(st.entries))
		copy(grown, st.entries)
		st.entries = grown
	}
	st.entries = append(st.entries, entry{})
	copy(st.entries[idx+1:], st.entries[idx:])
	st.entries[idx] = entry{ts: ts, val: value}
	return nil
}

// FirstIndex returns 0 if the node's store is non-empty, End otherwise.
func (b *MemoryBackend) FirstIndex(node hdtypes.NodeId) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, ok := b.stores[node]
	if !ok || len(st.entries) == 0 {
		return End
	}
	return 0
}

// LastIndex returns storeEnd-1 if the node's store is non-empty, End otherwise.
func (b *MemoryBackend) LastIndex(node hdtypes.NodeId) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, ok := b.stores[node]
	if !ok || len(st.entries) == 0 {
		return End
	}
	return uint64(len(st.entries) - 1)
}

// End returns storeEnd: the count of entries, i.e. one past the last
// valid index. Unknown nodes report 0, matching an empty store.
func (b *MemoryBackend) End(node hdtypes.NodeId) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, ok := b.stores[node]
	if !ok {
		return 0
	}
	return uint64(len(st.entries))
}

// MatchTimestamp resolves ts to an index via binary search. Ties on
// exact equality resolve to the first equal entry for EQUAL/EqualOrAfter
// and to the last equal entry for EqualOrBefore. A query against an
// unknown node returns End rather than an error, so the read engine can
// report a standard bound-not-found status.
func (b *MemoryBackend) MatchTimestamp(node hdtypes.NodeId, ts hdtypes.Timestamp, strategy hdtypes.MatchStrategy) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st, ok := b.stores[node]
	if !ok {
		return End
	}
	n := len(st.entries)
	if n == 0 {
		return End
	}

	// lower: first index with entries[i].ts >= ts.
	lower := sort.Search(n, func(i int) bool { return st.entries[i].ts >= ts })
	// upper: first index with entries[i].ts > ts.
	upper := sort.Search(n, func(i int) bool { return st.entries[i].ts > ts })
	exact := lower < n && st.entries[lower].ts == ts

	switch strategy {
	case hdtypes.MatchEqual:
		if exact {
			return uint64(lower)
		}
		return End

	case hdtypes.MatchAfter:
		if upper < n {
			return uint64(upper)
		}
		return End

	case hdtypes.MatchEqualOrAfter:
		if lower < n {
			return uint64(lower)
		}
		return End

	case hdtypes.MatchBefore:
		if lower > 0 {
			return uint64(lower - 1)
		}
		return End

	case hdtypes.MatchEqualOrBefore:
		if exact {
			return uint64(upper - 1) // last of the equal run
		}
		if lower > 0 {
			return uint64(lower - 1)
		}
		return End

	default:
		return End
	}
}

// ResultSize returns endIdx-startIdx+1, or 0 if either bound is End or
// the range is empty/inverted.
func (b *MemoryBackend) ResultSize(node hdtypes.NodeId, startIdx, endIdx uint64) uint64 {
	if startIdx == End || endIdx == End || startIdx > endIdx {
		return 0
	}
	return endIdx - startIdx + 1
}

// CopyValues walks [startIdx,endIdx] forward or, if reverse, from
// startIdx down to endIdx, skipping the first skip matches and writing
// at most max entries. A NumericRange, if valid, slices any
// slice-valued sample (e.g. an array-valued DataValue.Value).
func (b *MemoryBackend) CopyValues(node hdtypes.NodeId, startIdx, endIdx uint64, reverse bool, skip, max uint64, rng *hdtypes.NumericRange) ([]hdtypes.DataValue, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st, ok := b.stores[node]
	if !ok {
		return nil, nil
	}
	n := uint64(len(st.entries))
	if startIdx >= n || endIdx >= n {
		return nil, nil
	}

	out := make([]hdtypes.DataValue, 0, max)
	skipped := uint64(0)
	idx := startIdx

	for {
		if uint64(len(out)) >= max {
			break
		}
		if reverse {
			if idx < endIdx {
				break
			}
		} else {
			if idx > endIdx {
				break
			}
		}

		if skipped >= skip {
			v := st.entries[idx].val
			if rng != nil && rng.Valid {
				v.Value = sliceRange(v.Value, rng)
			}
			out = append(out, v)
		}
		skipped++

		if reverse {
			if idx == 0 {
				break
			}
			idx--
		} else {
			idx++
		}
	}

	return out, nil
}

// GetValue returns a copy of the entry at index; ok is false for an
// unknown node or out-of-range index.
func (b *MemoryBackend) GetValue(node hdtypes.NodeId, index uint64) (hdtypes.DataValue, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, ok := b.stores[node]
	if !ok || index >= uint64(len(st.entries)) {
		return hdtypes.DataValue{}, false
	}
	return st.entries[index].val, true
}

// BoundSupported reports true: the in-memory backend always has enough
// index information to resolve before-start/after-end bounds.
func (b *MemoryBackend) BoundSupported() bool { return true }

// sliceRange applies a numeric range to a slice-typed value; non-slice
// values and out-of-bounds ranges are returned unchanged.
func sliceRange(v interface{}, rng *hdtypes.NumericRange) interface{} {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return v
	}
	low, high := rng.Low, rng.High
	if low < 0 {
		low = 0
	}
	if high >= rv.Len() {
		high = rv.Len() - 1
	}
	if low > high {
		return v
	}
	return rv.Slice(low, high+1).Interface()
}
