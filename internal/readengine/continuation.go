package readengine

import (
	"encoding/binary"
	"errors"

	"github.com/edirooss/opcua-historian/internal/hdtypes"
)

// continuationVersion is bumped whenever the wire layout changes.
const continuationVersion = 1

// continuation flag bits.
const (
	flagStartBoundDone = 1 << iota
	flagEndBoundDone
	flagRemainingUnlimited
)

// continuationSize is the fixed wire size: version, direction, flags,
// reserved (4 bytes) + nextIndex, endIdx (8 bytes each) + remaining
// (4 bytes) + returnBounds (1 byte) = 25 bytes.
const continuationSize = 1 + 1 + 1 + 1 + 8 + 8 + 4 + 1

// ErrInvalidContinuation is returned by decodeContinuation when the
// byte string is not a well-formed token this engine produced.
var ErrInvalidContinuation = errors.New("readengine: invalid continuation point")

// continuation is the decoded payload of a continuation-point token: a
// fixed-size little-endian record. The engine is its sole interpreter;
// clients must treat the bytes as fully opaque.
type continuation struct {
	direction      hdtypes.Direction
	startBoundDone bool
	endBoundDone   bool
	returnBounds   bool
	nextIndex      uint64
	endIdx         uint64 // captured once at issue time; later inserts never affect an in-progress read
	remaining      uint32
	unlimited      bool
}

func encodeContinuation(c continuation) []byte {
	buf := make([]byte, continuationSize)
	buf[0] = continuationVersion
	buf[1] = byte(c.direction)

	var flags byte
	if c.startBoundDone {
		flags |= flagStartBoundDone
	}
	if c.endBoundDone {
		flags |= flagEndBoundDone
	}
	if c.unlimited {
		flags |= flagRemainingUnlimited
	}
	buf[2] = flags
	buf[3] = 0 // reserved

	binary.LittleEndian.PutUint64(buf[4:12], c.nextIndex)
	binary.LittleEndian.PutUint64(buf[12:20], c.endIdx)
	binary.LittleEndian.PutUint32(buf[20:24], c.remaining)
	if c.returnBounds {
		buf[24] = 1
	}
	return buf
}

func decodeContinuation(b []byte) (continuation, error) {
	if len(b) != continuationSize {
		return continuation{}, ErrInvalidContinuation
	}
	if b[0] != continuationVersion {
		return continuation{}, ErrInvalidContinuation
	}
	flags := b[2]
	c := continuation{
		direction:      hdtypes.Direction(b[1]),
		startBoundDone: flags&flagStartBoundDone != 0,
		endBoundDone:   flags&flagEndBoundDone != 0,
		unlimited:      flags&flagRemainingUnlimited != 0,
		nextIndex:      binary.LittleEndian.Uint64(b[4:12]),
		endIdx:         binary.LittleEndian.Uint64(b[12:20]),
		remaining:      binary.LittleEndian.Uint32(b[20:24]),
		returnBounds:   b[24] != 0,
	}
	return c, nil
}
