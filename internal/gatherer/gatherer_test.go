package gatherer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/edirooss/opcua-historian/internal/backend"
	"github.com/edirooss/opcua-historian/internal/hdtypes"
)

// StrategyUser never calls Insert from SetValue.
func TestSetValue_UserStrategyNeverInserts(t *testing.T) {
	b := backend.NewMemoryBackend(nil, backend.Options{})
	g := New(nil, Options{})
	defer g.Close()

	g.Register("n1", Settings{Backend: b, Strategy: StrategyUser})
	if err := g.SetValue(context.Background(), "n1", hdtypes.DataValue{Value: 1}); err != nil {
		t.Fatal(err)
	}
	if end := b.End("n1"); end != 0 {
		t.Fatalf("backend end = %d, want 0 (StrategyUser must not insert)", end)
	}
}

// StrategyValueSet always calls Insert from SetValue.
func TestSetValue_ValueSetStrategyAlwaysInserts(t *testing.T) {
	b := backend.NewMemoryBackend(nil, backend.Options{})
	g := New(nil, Options{})
	defer g.Close()

	g.Register("n1", Settings{Backend: b, Strategy: StrategyValueSet})
	if err := g.SetValue(context.Background(), "n1", hdtypes.DataValue{Value: 1, SourceTimestamp: 100, HasSourceTimestamp: true}); err != nil {
		t.Fatal(err)
	}
	if end := b.End("n1"); end != 1 {
		t.Fatalf("backend end = %d, want 1 (StrategyValueSet must insert)", end)
	}
}

// StrategyPoll never calls Insert from SetValue (inserts from the poll
// tick are checked by TestPolling_StartStopLifecycle).
func TestSetValue_PollStrategyNeverInsertsFromSetValue(t *testing.T) {
	b := backend.NewMemoryBackend(nil, backend.Options{})
	g := New(nil, Options{})
	defer g.Close()

	var polls int32
	pf := func(ctx context.Context, node hdtypes.NodeId) (hdtypes.DataValue, error) {
		atomic.AddInt32(&polls, 1)
		return hdtypes.DataValue{Value: 1, SourceTimestamp: hdtypes.Timestamp(atomic.LoadInt32(&polls)), HasSourceTimestamp: true}, nil
	}
	g.Register("n1", Settings{Backend: b, Strategy: StrategyPoll, PollingInterval: 10 * time.Millisecond, PollFunc: pf})

	if err := g.SetValue(context.Background(), "n1", hdtypes.DataValue{Value: 1}); err != nil {
		t.Fatal(err)
	}
	if end := b.End("n1"); end != 0 {
		t.Fatalf("backend end = %d, want 0 (StrategyPoll must not insert from SetValue)", end)
	}
}

func TestPolling_StartStopLifecycle(t *testing.T) {
	b := backend.NewMemoryBackend(nil, backend.Options{})
	g := New(nil, Options{})
	defer g.Close()

	var polls int32
	pf := func(ctx context.Context, node hdtypes.NodeId) (hdtypes.DataValue, error) {
		n := atomic.AddInt32(&polls, 1)
		return hdtypes.DataValue{Value: n, SourceTimestamp: hdtypes.Timestamp(n), HasSourceTimestamp: true}, nil
	}
	g.Register("n1", Settings{Backend: b, Strategy: StrategyPoll, PollingInterval: 10 * time.Millisecond, PollFunc: pf})

	if err := g.StartPoll("n1"); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for b.End("n1") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if end := b.End("n1"); end == 0 {
		t.Fatalf("expected at least one poll tick to have inserted a value")
	}

	if err := g.StopPoll("n1"); err != nil {
		t.Fatal(err)
	}
	countAfterStop := b.End("n1")

	time.Sleep(50 * time.Millisecond)
	if b.End("n1") != countAfterStop {
		t.Fatalf("polling continued after StopPoll: %d -> %d", countAfterStop, b.End("n1"))
	}
}

func TestDeregister_DropsSettings(t *testing.T) {
	b := backend.NewMemoryBackend(nil, backend.Options{})
	g := New(nil, Options{})
	defer g.Close()

	g.Register("n1", Settings{Backend: b, Strategy: StrategyUser})
	g.Deregister("n1")

	if _, err := g.GetSetting("n1"); err == nil {
		t.Fatal("expected ErrUnknownNode after deregister")
	}
}

func TestRegister_ReRegistrationReplacesStrategyAtomically(t *testing.T) {
	b := backend.NewMemoryBackend(nil, backend.Options{})
	g := New(nil, Options{})
	defer g.Close()

	g.Register("n1", Settings{Backend: b, Strategy: StrategyUser})
	g.Register("n1", Settings{Backend: b, Strategy: StrategyValueSet})

	s, err := g.GetSetting("n1")
	if err != nil {
		t.Fatal(err)
	}
	if s.Strategy != StrategyValueSet {
		t.Fatalf("strategy = %v, want StrategyValueSet", s.Strategy)
	}
}
