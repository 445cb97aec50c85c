// Package readengine implements the ReadRawModified algorithm: it turns
// one decoded HistoryRead request (plus an optional continuation point)
// into a single result fragment, enforcing bounding, reverse iteration,
// and pagination per OPC UA Part 11 Table 1.
package readengine

import (
	"github.com/edirooss/opcua-historian/internal/backend"
	"github.com/edirooss/opcua-historian/internal/hdtypes"
)

// oneSecond is the OPC UA tick count for one second, used to offset a
// synthesized bound when its requested side is Unspecified (Part 11
// Table 1 marks (a)/(b)).
const oneSecond = hdtypes.Timestamp(10_000_000)

// Request is one node's slice of a decoded HistoryReadRequest /
// ReadRawModifiedDetails pair, plus the continuation point (if any)
// the client sent back from a prior fragment.
type Request struct {
	NodeId                    hdtypes.NodeId
	IsReadModified            bool
	StartTime                 hdtypes.Timestamp
	EndTime                   hdtypes.Timestamp
	NumValuesPerNode          uint32
	ReturnBounds              bool
	TimestampsToReturn        hdtypes.TimestampsToReturn
	Range                     *hdtypes.NumericRange
	ReleaseContinuationPoints bool
	ContinuationPoint         []byte
}

// NodeSettings is the subset of a gatherer registration the read engine
// needs: where the data lives and how big one fragment may be.
type NodeSettings struct {
	Backend         backend.Backend
	MaxResponseSize uint64
	// TimestampsSupported reports whether a given projection mode is
	// supported; nil means every mode is supported (the reference
	// backend's behavior).
	TimestampsSupported func(hdtypes.TimestampsToReturn) bool
}

// Options tunes behavior that differs across OPC UA revisions.
type Options struct {
	// EmitContinuationOnExactMatch controls whether a continuation
	// point is still emitted when the range has been fully delivered
	// and the client asked for exactly that many values. OPC UA
	// versions disagree here, so it is configurable. Default false.
	EmitContinuationOnExactMatch bool
}

// Result is one fragment: a status, the values delivered by this
// fragment, and an outgoing continuation point (nil if the read is
// complete).
type Result struct {
	StatusCode        hdtypes.StatusCode
	Values            []hdtypes.DataValue
	ContinuationPoint []byte
}

// Execute runs one step of a raw history read: refuse unsupported
// modes, determine direction, resume-or-initialize bounds, synthesize
// bounding entries, slice, decide on a continuation point, and project
// timestamps.
func Execute(req Request, ns NodeSettings, opts Options) Result {
	if req.IsReadModified {
		return Result{StatusCode: hdtypes.BadHistoryOperationUnsupported}
	}

	if req.ReleaseContinuationPoints {
		return Result{StatusCode: hdtypes.Good}
	}

	if req.ReturnBounds && ns.Backend != nil && !ns.Backend.BoundSupported() {
		return Result{StatusCode: hdtypes.BadBoundNotSupported}
	}

	if ns.TimestampsSupported != nil && !ns.TimestampsSupported(req.TimestampsToReturn) {
		return Result{StatusCode: hdtypes.BadTimestampNotSupported}
	}

	if ns.Backend == nil {
		return Result{StatusCode: hdtypes.BadNodeIDUnknown}
	}

	var cur continuation
	resuming := len(req.ContinuationPoint) > 0

	if resuming {
		c, err := decodeContinuation(req.ContinuationPoint)
		if err != nil {
			return Result{StatusCode: hdtypes.BadContinuationPointInvalid}
		}
		cur = c
	} else {
		direction, ok := determineDirection(req.StartTime, req.EndTime)
		if !ok {
			return Result{StatusCode: hdtypes.BadHistoryOperationInvalid}
		}

		nextIndex, endIdx := initialBounds(ns.Backend, req.NodeId, direction, req.StartTime, req.EndTime)

		cur = continuation{
			direction:    direction,
			returnBounds: req.ReturnBounds,
			nextIndex:    nextIndex,
			endIdx:       endIdx,
			unlimited:    req.NumValuesPerNode == 0,
			remaining:    req.NumValuesPerNode,
		}
	}

	var values []hdtypes.DataValue

	// Before-start bound: only ever emitted on the first fragment of a
	// logical read: bounds frame the *logical*, un-sliced result, not
	// each fragment.
	if cur.returnBounds && !cur.startBoundDone {
		if b, ok := startBound(ns.Backend, req.NodeId, req.StartTime, cur.nextIndex, cur.direction); ok {
			projectBound(&b, req.TimestampsToReturn)
			values = append(values, b)
		}
		cur.startBoundDone = true
	}

	reverse := cur.direction == hdtypes.Reverse
	remainingRange := rangeSize(cur.nextIndex, cur.endIdx, reverse)

	// Bounding entries consume fragment budget too: a fragment never
	// carries more than MaxResponseSize values, bounds included.
	cap64 := remainingRange
	if !cur.unlimited && uint64(cur.remaining) < cap64 {
		cap64 = uint64(cur.remaining)
	}
	truncatedByMaxResponse := false
	if ns.MaxResponseSize > 0 {
		budget := ns.MaxResponseSize - min(ns.MaxResponseSize, uint64(len(values)))
		if budget < cap64 {
			cap64 = budget
			truncatedByMaxResponse = cap64 < remainingRange
		}
	}

	if cap64 > 0 {
		copied, err := ns.Backend.CopyValues(req.NodeId, cur.nextIndex, cur.endIdx, reverse, 0, cap64, req.Range)
		if err != nil {
			return Result{StatusCode: hdtypes.BadInternalError}
		}
		projectTimestamps(copied, req.TimestampsToReturn)
		values = append(values, copied...)

		n := uint64(len(copied))
		if !cur.unlimited {
			cur.remaining -= uint32(n)
		}
		if reverse {
			if n > 0 && cur.nextIndex >= n {
				cur.nextIndex -= n
			} else {
				cur.nextIndex = backend.End
			}
		} else {
			cur.nextIndex += n
		}
	}

	moreRemains := rangeSize(cur.nextIndex, cur.endIdx, reverse) > 0 && cur.nextIndex != backend.End

	// After-end bound: only on the fragment that exhausts the range, and
	// only if the fragment still has budget for it; otherwise it is
	// deferred to one more continuation fragment.
	if cur.returnBounds && !cur.endBoundDone && !moreRemains {
		if ns.MaxResponseSize == 0 || uint64(len(values)) < ns.MaxResponseSize {
			if b, ok := endBound(ns.Backend, req.NodeId, req.EndTime, cur.endIdx, cur.direction); ok {
				projectBound(&b, req.TimestampsToReturn)
				values = append(values, b)
			}
			cur.endBoundDone = true
		}
	}
	endBoundPending := cur.returnBounds && !cur.endBoundDone && !moreRemains

	perNodeCapReached := !cur.unlimited && cur.remaining == 0

	emit := truncatedByMaxResponse && moreRemains
	emit = emit || (moreRemains && !perNodeCapReached)
	emit = emit || endBoundPending
	// cap64 > 0 keeps a resumed, already-empty read from re-emitting the
	// exact-match point forever.
	if !moreRemains && perNodeCapReached && cap64 > 0 && opts.EmitContinuationOnExactMatch {
		emit = true
	}

	res := Result{StatusCode: hdtypes.Good, Values: values}
	if emit {
		res.ContinuationPoint = encodeContinuation(cur)
	}
	return res
}

// determineDirection picks the iteration order. Both sides Unspecified
// is invalid; one side Unspecified is unbounded on that side, which
// always compares as forward.
func determineDirection(start, end hdtypes.Timestamp) (hdtypes.Direction, bool) {
	if start == hdtypes.Unspecified && end == hdtypes.Unspecified {
		return 0, false
	}
	if start == hdtypes.Unspecified || end == hdtypes.Unspecified {
		return hdtypes.Forward, true
	}
	if start <= end {
		return hdtypes.Forward, true
	}
	return hdtypes.Reverse, true
}

// initialBounds computes the (cursor, farBoundary) index pair for a
// fresh (non-resumed) read. Forward reads walk cursor -> farBoundary
// ascending; reverse reads walk cursor -> farBoundary descending.
func initialBounds(b backend.Backend, node hdtypes.NodeId, dir hdtypes.Direction, start, end hdtypes.Timestamp) (cursor, farBoundary uint64) {
	if dir == hdtypes.Forward {
		if start == hdtypes.Unspecified {
			cursor = b.FirstIndex(node)
		} else {
			cursor = b.MatchTimestamp(node, start, hdtypes.MatchEqualOrAfter)
		}
		if end == hdtypes.Unspecified {
			farBoundary = b.LastIndex(node)
		} else {
			farBoundary = b.MatchTimestamp(node, end, hdtypes.MatchEqualOrBefore)
		}
		return
	}

	// Reverse: begin at the high bound (StartTime), stop at the low
	// bound (EndTime) — the strategies swap symmetrically.
	if start == hdtypes.Unspecified {
		cursor = b.LastIndex(node)
	} else {
		cursor = b.MatchTimestamp(node, start, hdtypes.MatchEqualOrBefore)
	}
	if end == hdtypes.Unspecified {
		farBoundary = b.FirstIndex(node)
	} else {
		farBoundary = b.MatchTimestamp(node, end, hdtypes.MatchEqualOrAfter)
	}
	return
}

// rangeSize reports how many entries remain between cursor and
// farBoundary inclusive, walking in the direction implied by reverse.
// Either sentinel End collapses the range to empty.
func rangeSize(cursor, farBoundary uint64, reverse bool) uint64 {
	if cursor == backend.End || farBoundary == backend.End {
		return 0
	}
	if reverse {
		if cursor < farBoundary {
			return 0
		}
		return cursor - farBoundary + 1
	}
	if cursor > farBoundary {
		return 0
	}
	return farBoundary - cursor + 1
}

// startBound synthesizes or resolves the bounding entry framing the
// start side. Forward reads look strictly before startTime; reverse
// reads start at the high side, so they look strictly after it. A
// missing bound synthesizes one at the requested time; an Unspecified
// side synthesizes one at the nearest real neighbor offset by one
// second, per OPC UA Part 11 Table 1.
func startBound(b backend.Backend, node hdtypes.NodeId, startTime hdtypes.Timestamp, cursor uint64, dir hdtypes.Direction) (hdtypes.DataValue, bool) {
	strategy, offset := hdtypes.MatchBefore, -oneSecond
	if dir == hdtypes.Reverse {
		strategy, offset = hdtypes.MatchAfter, +oneSecond
	}

	if startTime == hdtypes.Unspecified {
		anchorTs, ok := anchorTimestamp(b, node, cursor)
		if !ok {
			return hdtypes.DataValue{}, false
		}
		return syntheticBound(anchorTs + offset), true
	}

	idx := b.MatchTimestamp(node, startTime, strategy)
	if idx == backend.End {
		return syntheticBound(startTime), true
	}
	dv, ok := b.GetValue(node, idx)
	if !ok {
		return syntheticBound(startTime), true
	}
	return dv, true
}

// endBound synthesizes or resolves the bounding entry framing the end
// side, mirroring startBound.
func endBound(b backend.Backend, node hdtypes.NodeId, endTime hdtypes.Timestamp, farBoundary uint64, dir hdtypes.Direction) (hdtypes.DataValue, bool) {
	strategy, offset := hdtypes.MatchAfter, +oneSecond
	if dir == hdtypes.Reverse {
		strategy, offset = hdtypes.MatchBefore, -oneSecond
	}

	if endTime == hdtypes.Unspecified {
		anchorTs, ok := anchorTimestamp(b, node, farBoundary)
		if !ok {
			return hdtypes.DataValue{}, false
		}
		return syntheticBound(anchorTs + offset), true
	}

	idx := b.MatchTimestamp(node, endTime, strategy)
	if idx == backend.End {
		return syntheticBound(endTime), true
	}
	dv, ok := b.GetValue(node, idx)
	if !ok {
		return syntheticBound(endTime), true
	}
	return dv, true
}

// anchorTimestamp reads the effective timestamp of the real entry at
// idx, used to offset a synthesized bound when its side was Unspecified.
func anchorTimestamp(b backend.Backend, node hdtypes.NodeId, idx uint64) (hdtypes.Timestamp, bool) {
	if idx == backend.End {
		return 0, false
	}
	dv, ok := b.GetValue(node, idx)
	if !ok {
		return 0, false
	}
	if dv.HasSourceTimestamp {
		return dv.SourceTimestamp, true
	}
	if dv.HasServerTimestamp {
		return dv.ServerTimestamp, true
	}
	return 0, false
}

// syntheticBound builds the empty-value, BadBoundNotFound placeholder
// emitted when a requested bound is absent from the store.
func syntheticBound(ts hdtypes.Timestamp) hdtypes.DataValue {
	return hdtypes.DataValue{
		Status:             hdtypes.BadBoundNotFound,
		SourceTimestamp:    ts,
		HasSourceTimestamp: true,
	}
}

// projectTimestamps clears whichever timestamp field(s) the requested
// projection mode does not retain, in place.
func projectTimestamps(values []hdtypes.DataValue, mode hdtypes.TimestampsToReturn) {
	for i := range values {
		projectTimestamp(&values[i], mode)
	}
}

func projectTimestamp(v *hdtypes.DataValue, mode hdtypes.TimestampsToReturn) {
	switch mode {
	case hdtypes.TimestampsSource:
		v.HasServerTimestamp = false
		v.ServerTimestamp = 0
		v.ServerPicoseconds = 0
	case hdtypes.TimestampsServer:
		v.HasSourceTimestamp = false
		v.SourceTimestamp = 0
		v.SourcePicoseconds = 0
	case hdtypes.TimestampsBoth:
		// retain both
	case hdtypes.TimestampsNeither:
		v.HasSourceTimestamp = false
		v.SourceTimestamp = 0
		v.SourcePicoseconds = 0
		v.HasServerTimestamp = false
		v.ServerTimestamp = 0
		v.ServerPicoseconds = 0
	}
}

// projectBound projects a bounding entry like any other outgoing value.
// A synthetic bound is exempt: its timestamp is the payload of its
// BadBoundNotFound status, not a stored timestamp to filter.
func projectBound(v *hdtypes.DataValue, mode hdtypes.TimestampsToReturn) {
	if v.Status == hdtypes.BadBoundNotFound {
		return
	}
	projectTimestamp(v, mode)
}
