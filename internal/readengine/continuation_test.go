package readengine

import (
	"testing"

	"github.com/edirooss/opcua-historian/internal/hdtypes"
)

func TestContinuation_EncodeDecodeRoundTrip(t *testing.T) {
	in := continuation{
		direction:      hdtypes.Reverse,
		startBoundDone: true,
		endBoundDone:   false,
		returnBounds:   true,
		nextIndex:      42,
		endIdx:         99,
		remaining:      7,
		unlimited:      false,
	}

	out, err := decodeContinuation(encodeContinuation(in))
	if err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Fatalf("round trip mismatch:\n in: %+v\nout: %+v", in, out)
	}
}

func TestContinuation_DecodeRejectsWrongLength(t *testing.T) {
	if _, err := decodeContinuation(make([]byte, continuationSize-1)); err == nil {
		t.Fatal("short token accepted")
	}
	if _, err := decodeContinuation(make([]byte, continuationSize+1)); err == nil {
		t.Fatal("long token accepted")
	}
	if _, err := decodeContinuation(nil); err == nil {
		t.Fatal("nil token accepted")
	}
}

func TestContinuation_DecodeRejectsWrongVersion(t *testing.T) {
	buf := encodeContinuation(continuation{})
	buf[0] = continuationVersion + 1
	if _, err := decodeContinuation(buf); err == nil {
		t.Fatal("wrong-version token accepted")
	}
}
