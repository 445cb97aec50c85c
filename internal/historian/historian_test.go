package historian

import (
	"testing"
	"time"

	"github.com/edirooss/opcua-historian/internal/backend"
	"github.com/edirooss/opcua-historian/internal/gatherer"
	"github.com/edirooss/opcua-historian/internal/hdtypes"
	"github.com/edirooss/opcua-historian/pkg/opcua/historyrequest"
)

const tick = hdtypes.Timestamp(10_000_000)

type fixture struct {
	store *backend.MemoryBackend
	gth   *gatherer.Gatherer
	svc   *Service
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	store := backend.NewMemoryBackend(nil, backend.Options{})
	gth := gatherer.New(nil, gatherer.Options{})
	t.Cleanup(gth.Close)
	return &fixture{
		store: store,
		gth:   gth,
		svc:   NewService(nil, gth, opts),
	}
}

func (f *fixture) registerSeeded(t *testing.T, node string, maxResponse uint64, seconds ...int64) {
	t.Helper()
	f.gth.Register(node, gatherer.Settings{
		Backend:         f.store,
		Strategy:        gatherer.StrategyUser,
		MaxResponseSize: maxResponse,
	})
	for _, s := range seconds {
		ts := hdtypes.Timestamp(s) * tick
		dv := hdtypes.DataValue{
			Value:              int64(ts),
			Status:             hdtypes.Good,
			SourceTimestamp:    ts,
			HasSourceTimestamp: true,
		}
		if err := f.store.Insert(node, dv); err != nil {
			t.Fatalf("insert(%s, %d): %v", node, s, err)
		}
	}
}

func rangeRequest(start, end int64, nodes ...string) *historyrequest.HistoryReadRequest {
	req := &historyrequest.HistoryReadRequest{
		Details: historyrequest.ReadRawModifiedDetails{
			StartTime: hdtypes.Timestamp(start) * tick,
			EndTime:   hdtypes.Timestamp(end) * tick,
		},
		TimestampsToReturn: hdtypes.TimestampsSource,
	}
	for _, n := range nodes {
		req.NodesToRead = append(req.NodesToRead, historyrequest.HistoryReadValueID{NodeID: n})
	}
	return req
}

func assertSeconds(t *testing.T, res historyrequest.HistoryReadResult, want ...int64) {
	t.Helper()
	got := res.HistoryData.DataValues
	if len(got) != len(want) {
		t.Fatalf("got %d values, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].SourceTimestamp != hdtypes.Timestamp(w)*tick {
			t.Fatalf("value %d: ts = %d ticks, want %ds", i, got[i].SourceTimestamp, w)
		}
	}
}

func TestHistoryRead_MultiNodeFansOutPerNodeResults(t *testing.T) {
	f := newFixture(t, Options{MaxContinuationPoints: 10})
	f.registerSeeded(t, "n1", 0, 100, 200, 300)
	f.registerSeeded(t, "n2", 0, 150, 250)

	resp := f.svc.HistoryRead("s1", rangeRequest(100, 500, "n1", "n2", "ghost"))
	if len(resp.Results) != 3 {
		t.Fatalf("got %d results, want 3", len(resp.Results))
	}
	assertSeconds(t, resp.Results[0], 100, 200, 300)
	assertSeconds(t, resp.Results[1], 150, 250)
	if resp.Results[2].StatusCode != hdtypes.BadNodeIDUnknown {
		t.Fatalf("unregistered node: status = %#x, want BadNodeIdUnknown", resp.Results[2].StatusCode)
	}
	// One node failing must not poison its neighbors.
	if resp.Results[0].StatusCode != hdtypes.Good || resp.Results[1].StatusCode != hdtypes.Good {
		t.Fatal("healthy nodes affected by a failing one")
	}
}

func TestHistoryRead_ContinuationAcrossCalls(t *testing.T) {
	f := newFixture(t, Options{MaxContinuationPoints: 10})
	f.registerSeeded(t, "n1", 2, 100, 200, 300, 400, 500)

	req := rangeRequest(100, 500, "n1")
	resp := f.svc.HistoryRead("s1", req)
	assertSeconds(t, resp.Results[0], 100, 200)
	cp := resp.Results[0].ContinuationPoint
	if cp == nil {
		t.Fatal("expected continuation point")
	}

	req.NodesToRead[0].ContinuationPoint = cp
	resp = f.svc.HistoryRead("s1", req)
	assertSeconds(t, resp.Results[0], 300, 400)
	cp = resp.Results[0].ContinuationPoint
	if cp == nil {
		t.Fatal("expected continuation point")
	}

	req.NodesToRead[0].ContinuationPoint = cp
	resp = f.svc.HistoryRead("s1", req)
	assertSeconds(t, resp.Results[0], 500)
	if resp.Results[0].ContinuationPoint != nil {
		t.Fatal("unexpected continuation point on final fragment")
	}
}

func TestHistoryRead_ContinuationIsSessionScoped(t *testing.T) {
	f := newFixture(t, Options{MaxContinuationPoints: 10})
	f.registerSeeded(t, "n1", 2, 100, 200, 300, 400, 500)

	resp := f.svc.HistoryRead("s1", rangeRequest(100, 500, "n1"))
	cp := resp.Results[0].ContinuationPoint
	if cp == nil {
		t.Fatal("expected continuation point")
	}

	// Another session presenting s1's point must be refused.
	req := rangeRequest(100, 500, "n1")
	req.NodesToRead[0].ContinuationPoint = cp
	resp = f.svc.HistoryRead("s2", req)
	if resp.Results[0].StatusCode != hdtypes.BadContinuationPointInvalid {
		t.Fatalf("status = %#x, want BadContinuationPointInvalid", resp.Results[0].StatusCode)
	}
}

func TestHistoryRead_NewReadReplacesPriorPoint(t *testing.T) {
	f := newFixture(t, Options{MaxContinuationPoints: 10})
	f.registerSeeded(t, "n1", 2, 100, 200, 300, 400, 500)

	resp := f.svc.HistoryRead("s1", rangeRequest(100, 500, "n1"))
	old := resp.Results[0].ContinuationPoint
	if old == nil {
		t.Fatal("expected continuation point")
	}

	// A fresh read on the same (session, node) implicitly releases the
	// prior point.
	resp = f.svc.HistoryRead("s1", rangeRequest(200, 500, "n1"))
	if resp.Results[0].ContinuationPoint == nil {
		t.Fatal("expected continuation point from the new read")
	}

	req := rangeRequest(100, 500, "n1")
	req.NodesToRead[0].ContinuationPoint = old
	resp = f.svc.HistoryRead("s1", req)
	if resp.Results[0].StatusCode != hdtypes.BadContinuationPointInvalid {
		t.Fatalf("stale point: status = %#x, want BadContinuationPointInvalid", resp.Results[0].StatusCode)
	}
}

func TestHistoryRead_ReleaseFreesPointAndReadsNothing(t *testing.T) {
	f := newFixture(t, Options{MaxContinuationPoints: 10})
	f.registerSeeded(t, "n1", 2, 100, 200, 300, 400, 500)

	resp := f.svc.HistoryRead("s1", rangeRequest(100, 500, "n1"))
	cp := resp.Results[0].ContinuationPoint
	if cp == nil {
		t.Fatal("expected continuation point")
	}

	rel := rangeRequest(100, 500, "n1")
	rel.ReleaseContinuationPoints = true
	rel.NodesToRead[0].ContinuationPoint = cp
	resp = f.svc.HistoryRead("s1", rel)
	if resp.Results[0].StatusCode != hdtypes.Good {
		t.Fatalf("release: status = %#x, want Good", resp.Results[0].StatusCode)
	}
	if len(resp.Results[0].HistoryData.DataValues) != 0 {
		t.Fatal("release returned data")
	}

	// The released point is gone.
	req := rangeRequest(100, 500, "n1")
	req.NodesToRead[0].ContinuationPoint = cp
	resp = f.svc.HistoryRead("s1", req)
	if resp.Results[0].StatusCode != hdtypes.BadContinuationPointInvalid {
		t.Fatalf("released point: status = %#x, want BadContinuationPointInvalid", resp.Results[0].StatusCode)
	}
}

func TestHistoryRead_ContinuationDisabledDeliversTruncated(t *testing.T) {
	f := newFixture(t, Options{MaxContinuationPoints: 0})
	f.registerSeeded(t, "n1", 2, 100, 200, 300, 400, 500)

	resp := f.svc.HistoryRead("s1", rangeRequest(100, 500, "n1"))
	if resp.Results[0].StatusCode != hdtypes.BadNoContinuationPoints {
		t.Fatalf("status = %#x, want BadNoContinuationPoints", resp.Results[0].StatusCode)
	}
	assertSeconds(t, resp.Results[0], 100, 200)
	if resp.Results[0].ContinuationPoint != nil {
		t.Fatal("disabled table still handed out a continuation point")
	}
}

func TestHistoryRead_ExpiredPointRefused(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }
	f := newFixture(t, Options{
		MaxContinuationPoints: 10,
		ContinuationTimeout:   time.Minute,
		Clock:                 clock,
	})
	f.registerSeeded(t, "n1", 2, 100, 200, 300, 400, 500)

	resp := f.svc.HistoryRead("s1", rangeRequest(100, 500, "n1"))
	cp := resp.Results[0].ContinuationPoint
	if cp == nil {
		t.Fatal("expected continuation point")
	}

	now = now.Add(2 * time.Minute)

	req := rangeRequest(100, 500, "n1")
	req.NodesToRead[0].ContinuationPoint = cp
	resp = f.svc.HistoryRead("s1", req)
	if resp.Results[0].StatusCode != hdtypes.BadContinuationPointInvalid {
		t.Fatalf("expired point: status = %#x, want BadContinuationPointInvalid", resp.Results[0].StatusCode)
	}
}

func TestHistoryRead_SessionTeardownFreesPoints(t *testing.T) {
	f := newFixture(t, Options{MaxContinuationPoints: 10})
	f.registerSeeded(t, "n1", 2, 100, 200, 300, 400, 500)

	resp := f.svc.HistoryRead("s1", rangeRequest(100, 500, "n1"))
	cp := resp.Results[0].ContinuationPoint
	if cp == nil {
		t.Fatal("expected continuation point")
	}

	f.svc.ReleaseSession("s1")

	req := rangeRequest(100, 500, "n1")
	req.NodesToRead[0].ContinuationPoint = cp
	resp = f.svc.HistoryRead("s1", req)
	if resp.Results[0].StatusCode != hdtypes.BadContinuationPointInvalid {
		t.Fatalf("post-teardown point: status = %#x, want BadContinuationPointInvalid", resp.Results[0].StatusCode)
	}
}

func TestCPTable_OverflowEvictsOldest(t *testing.T) {
	base := time.Unix(0, 0)
	now := base
	tbl := newCPTable(2, 0, func() time.Time { return now })

	tbl.put("s1", "n1", []byte{1})
	now = now.Add(time.Second)
	tbl.put("s1", "n2", []byte{2})
	now = now.Add(time.Second)
	tbl.put("s1", "n3", []byte{3})

	if _, ok := tbl.get("s1", "n1"); ok {
		t.Fatal("oldest point survived eviction")
	}
	if _, ok := tbl.get("s1", "n2"); !ok {
		t.Fatal("newer point evicted")
	}
	if _, ok := tbl.get("s1", "n3"); !ok {
		t.Fatal("newest point missing")
	}
}

func TestCPTable_SessionsAreIsolated(t *testing.T) {
	now := time.Unix(0, 0)
	tbl := newCPTable(1, 0, func() time.Time { return now })

	tbl.put("s1", "n1", []byte{1})
	tbl.put("s2", "n1", []byte{2})

	// s2 filling up must not evict s1's point.
	if tok, ok := tbl.get("s1", "n1"); !ok || tok[0] != 1 {
		t.Fatal("s1's point lost to s2's allocation")
	}
	if tok, ok := tbl.get("s2", "n1"); !ok || tok[0] != 2 {
		t.Fatal("s2's point missing")
	}
}
