// Package backend defines the historian's storage contract and ships a
// reference in-memory implementation. A Backend is a per-node ordered
// store of (timestamp, DataValue) entries; it knows nothing about
// gathering strategies, request pagination, or the wire protocol.
package backend

import (
	"errors"

	"github.com/edirooss/opcua-historian/internal/hdtypes"
)

// End is the sentinel index meaning "one past the last entry" or
// "no such entry", depending on context (see each operation's doc).
const End = ^uint64(0)

// ErrOutOfMemory is returned by Insert when the backend cannot grow its
// store to accommodate a new entry.
var ErrOutOfMemory = errors.New("backend: out of memory")

// Backend is the capability object every historian storage tier must
// satisfy, whether in-memory (this package's reference implementation)
// or a durable variant backed by an external store. All operations are
// keyed by NodeId and are expected to be cheap enough to call inside a
// single request.
type Backend interface {
	// Insert places value at the unique position preserving ascending
	// effective-timestamp order; ties are broken by insertion order.
	Insert(node hdtypes.NodeId, value hdtypes.DataValue) error

	// FirstIndex returns 0 if the node's store is non-empty, End if
	// empty or unknown.
	FirstIndex(node hdtypes.NodeId) uint64

	// LastIndex returns storeEnd-1 if non-empty, End if empty or unknown.
	LastIndex(node hdtypes.NodeId) uint64

	// End returns storeEnd (one past the last valid index).
	End(node hdtypes.NodeId) uint64

	// MatchTimestamp performs a binary search for ts under strategy.
	// Returns End if no index satisfies the strategy.
	MatchTimestamp(node hdtypes.NodeId, ts hdtypes.Timestamp, strategy hdtypes.MatchStrategy) uint64

	// ResultSize returns endIdx-startIdx+1, or 0 if either bound is End.
	ResultSize(node hdtypes.NodeId, startIdx, endIdx uint64) uint64

	// CopyValues fills values, starting at startIdx and walking toward
	// endIdx (forward if !reverse, backward if reverse), skipping the
	// first skip matches, writing at most max entries, optionally
	// slicing array-valued samples by rng. Returns the copied values;
	// the number written is the length of that slice.
	CopyValues(node hdtypes.NodeId, startIdx, endIdx uint64, reverse bool, skip, max uint64, rng *hdtypes.NumericRange) ([]hdtypes.DataValue, error)

	// GetValue returns a read-only copy of the entry at index.
	// Valid only until the next mutation of that node's store.
	GetValue(node hdtypes.NodeId, index uint64) (hdtypes.DataValue, bool)

	// BoundSupported reports whether this backend can resolve
	// before-start/after-end bounding values.
	BoundSupported() bool
}
