// Package statuscodes holds the protocol-level OPC UA status code
// constants the historian surfaces. Values are the 32-bit codes from
// the OPC UA specification, Part 4/Part 11; the top two bits carry the
// severity (00 Good, 01 Uncertain, 10 Bad).
package statuscodes

const (
	Good = 0x00000000

	BadInternalError               = 0x80020000
	BadOutOfMemory                 = 0x80030000
	BadNodeIDUnknown               = 0x80340000
	BadContinuationPointInvalid    = 0x804A0000
	BadNoContinuationPoints        = 0x804B0000
	BadHistoryOperationInvalid     = 0x80710000
	BadHistoryOperationUnsupported = 0x80720000
	BadTimestampNotSupported       = 0x80A10000
	BadDataUnavailable             = 0x809B0000
	BadBoundNotFound               = 0x80D70000
	BadBoundNotSupported           = 0x80D80000
)

// Name returns the symbolic name of a code this package defines, or ""
// for anything else. Intended for log fields and test failure messages,
// not for protocol decisions.
func Name(code uint32) string {
	switch code {
	case Good:
		return "Good"
	case BadInternalError:
		return "BadInternalError"
	case BadOutOfMemory:
		return "BadOutOfMemory"
	case BadNodeIDUnknown:
		return "BadNodeIdUnknown"
	case BadContinuationPointInvalid:
		return "BadContinuationPointInvalid"
	case BadNoContinuationPoints:
		return "BadNoContinuationPoints"
	case BadHistoryOperationInvalid:
		return "BadHistoryOperationInvalid"
	case BadHistoryOperationUnsupported:
		return "BadHistoryOperationUnsupported"
	case BadTimestampNotSupported:
		return "BadTimestampNotSupported"
	case BadDataUnavailable:
		return "BadDataUnavailable"
	case BadBoundNotFound:
		return "BadBoundNotFound"
	case BadBoundNotSupported:
		return "BadBoundNotSupported"
	}
	return ""
}
