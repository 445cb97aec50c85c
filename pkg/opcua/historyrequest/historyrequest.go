// Package historyrequest holds the already-decoded HistoryRead
// structures the service dispatcher hands to the historian and receives
// back. Wire encoding and decoding are the dispatcher's job; these
// structs are its in-process contract with the history service.
package historyrequest

import (
	"github.com/edirooss/opcua-historian/internal/hdtypes"
)

// ReadRawModifiedDetails selects the raw-history read variant and its
// time window, per OPC UA Part 11.
type ReadRawModifiedDetails struct {
	IsReadModified   bool
	StartTime        hdtypes.Timestamp
	EndTime          hdtypes.Timestamp
	NumValuesPerNode uint32
	ReturnBounds     bool
}

// HistoryReadValueID is one target of a HistoryRead: the node, an
// optional index range into array-valued samples, and the continuation
// point returned by a prior fragment (empty on the first request).
type HistoryReadValueID struct {
	NodeID            hdtypes.NodeId
	IndexRange        *hdtypes.NumericRange
	ContinuationPoint []byte
}

// HistoryReadRequest is a decoded HistoryRead service call.
type HistoryReadRequest struct {
	Details                   ReadRawModifiedDetails
	TimestampsToReturn        hdtypes.TimestampsToReturn
	ReleaseContinuationPoints bool
	NodesToRead               []HistoryReadValueID
}

// HistoryData carries one node's values for one response fragment.
type HistoryData struct {
	DataValues []hdtypes.DataValue
}

// HistoryReadResult is the per-node slot of a HistoryReadResponse.
type HistoryReadResult struct {
	StatusCode        hdtypes.StatusCode
	ContinuationPoint []byte
	HistoryData       HistoryData
}

// HistoryReadResponse mirrors the request's NodesToRead order: one
// result per requested node, failures reported per slot rather than
// aborting the whole call.
type HistoryReadResponse struct {
	Results []HistoryReadResult
}
