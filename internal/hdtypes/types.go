// Package hdtypes holds the primitive types shared by every historian
// component: timestamps, sampled values, node identifiers and the
// match/slicing enums the backend and read engine operate on.
package hdtypes

import (
	"time"

	"github.com/edirooss/opcua-historian/pkg/opcua/statuscodes"
)

// Timestamp is a signed count of 100ns ticks since the OPC UA epoch
// (1601-01-01T00:00:00Z). It mirrors UA_DateTime from the wire protocol;
// the historian never interprets it beyond ordering and arithmetic.
type Timestamp int64

// unixEpochTicks is the Unix epoch (1970-01-01T00:00:00Z) expressed as
// a Timestamp, i.e. its distance from the OPC UA/Windows FILETIME epoch.
// Conversions go through Unix time because the span back to 1601 does
// not fit in a time.Duration.
const unixEpochTicks = 116444736000000000

// TimestampFromTime converts a wall-clock time to a Timestamp.
func TimestampFromTime(t time.Time) Timestamp {
	return Timestamp(t.Unix()*10_000_000 + int64(t.Nanosecond())/100 + unixEpochTicks)
}

// Time converts a Timestamp back to a wall-clock time.
func (ts Timestamp) Time() time.Time {
	d := int64(ts) - unixEpochTicks
	return time.Unix(d/10_000_000, (d%10_000_000)*100).UTC()
}

// Unspecified is the sentinel start/end timestamp meaning "no bound on
// this side", per OPC UA Part 11 Table 1.
const Unspecified Timestamp = 0

// NodeId is an opaque, comparable identifier used as the primary key
// into the gatherer's registry and the backend's per-node store.
// It is deliberately not a struct so callers can use any comparable
// concrete type (string, numeric, or a small value struct) as their
// own wire-level NodeId representation demands.
type NodeId interface{}

// StatusCode is a protocol-level OPC UA status, surfaced verbatim on
// DataValue and HistoryReadResult; the historian never inspects it
// beyond propagating it and, for synthesized bounds, setting it.
type StatusCode uint32

// Status codes the historian core surfaces, typed aliases of the
// protocol constants in pkg/opcua/statuscodes.
const (
	Good                           StatusCode = statuscodes.Good
	BadHistoryOperationUnsupported StatusCode = statuscodes.BadHistoryOperationUnsupported
	BadHistoryOperationInvalid     StatusCode = statuscodes.BadHistoryOperationInvalid
	BadBoundNotSupported           StatusCode = statuscodes.BadBoundNotSupported
	BadBoundNotFound               StatusCode = statuscodes.BadBoundNotFound
	BadContinuationPointInvalid    StatusCode = statuscodes.BadContinuationPointInvalid
	BadNoContinuationPoints        StatusCode = statuscodes.BadNoContinuationPoints
	BadTimestampNotSupported       StatusCode = statuscodes.BadTimestampNotSupported
	BadOutOfMemory                 StatusCode = statuscodes.BadOutOfMemory
	BadNodeIDUnknown               StatusCode = statuscodes.BadNodeIDUnknown
	BadDataUnavailable             StatusCode = statuscodes.BadDataUnavailable
	BadInternalError               StatusCode = statuscodes.BadInternalError
)

// IsGood reports whether the code carries no error bit (mirrors the
// OPC UA severity-bits convention: Good codes have their top two bits clear).
func (s StatusCode) IsGood() bool { return s&0xC0000000 == 0 }

// NumericRange is an indexed sub-selection applied to array-valued
// samples, e.g. "2:4" selects elements 2 through 4 inclusive.
type NumericRange struct {
	Low, High int
	Valid     bool
}

// DataValue is the tuple the historian stores and returns: a value,
// its status, and up to two timestamp/picosecond pairs. The core does
// not interpret Value beyond opaque storage and optional NumericRange
// slicing, which the in-memory backend applies to slice-typed values
// only (see backend.sliceRange).
type DataValue struct {
	Value              interface{}
	Status             StatusCode
	SourceTimestamp    Timestamp
	HasSourceTimestamp bool
	ServerTimestamp    Timestamp
	HasServerTimestamp bool
	SourcePicoseconds  uint16
	ServerPicoseconds  uint16
}

// EffectiveTimestamp returns SourceTimestamp if present, else
// ServerTimestamp if present, else `now`. This is the ordering key the
// backend sorts on.
func (dv DataValue) EffectiveTimestamp(now Timestamp) Timestamp {
	if dv.HasSourceTimestamp {
		return dv.SourceTimestamp
	}
	if dv.HasServerTimestamp {
		return dv.ServerTimestamp
	}
	return now
}

// MatchStrategy selects how MatchTimestamp resolves a timestamp to an
// index via binary search over an ascending-sorted store.
type MatchStrategy int

const (
	// MatchEqual returns the exact hit, or End if none.
	MatchEqual MatchStrategy = iota
	// MatchAfter returns the lowest index with a strictly greater timestamp.
	MatchAfter
	// MatchEqualOrAfter returns the lowest index with timestamp >= ts.
	MatchEqualOrAfter
	// MatchBefore returns the highest index with a strictly smaller timestamp.
	MatchBefore
	// MatchEqualOrBefore returns the highest index with timestamp <= ts.
	MatchEqualOrBefore
)

// TimestampsToReturn controls which timestamp fields survive projection
// onto an outgoing DataValue.
type TimestampsToReturn int

const (
	TimestampsSource TimestampsToReturn = iota
	TimestampsServer
	TimestampsBoth
	TimestampsNeither
)

// Direction is the iteration order of a ReadRawModified request.
type Direction int

const (
	Forward Direction = iota
	Reverse
)
