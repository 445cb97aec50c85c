// Package gatherer owns the historized-node registry, the write-through
// and polling update strategies, and the polling scheduler. It is the
// only historian component that mutates the backend outside of a
// direct user insert.
package gatherer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/edirooss/opcua-historian/internal/backend"
	"github.com/edirooss/opcua-historian/internal/hdtypes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Strategy selects how a historized node's store is kept up to date.
type Strategy int

const (
	// StrategyUser: the application inserts directly into the backend;
	// setValue and polling never write.
	StrategyUser Strategy = iota
	// StrategyValueSet: every setValue call is forwarded to the backend.
	StrategyValueSet
	// StrategyPoll: a periodic task is the sole writer.
	StrategyPoll
)

// PollFunc reads the current value of a historized node. It is supplied
// per node for StrategyPoll and is the Gatherer's only way to observe a
// node's live value — the address space itself is an external
// collaborator the Gatherer never reaches into directly.
type PollFunc func(ctx context.Context, node hdtypes.NodeId) (hdtypes.DataValue, error)

// Settings is a historized node's registration: its backend handle,
// update strategy, response cap, polling cadence, and (for
// StrategyPoll) its value source.
type Settings struct {
	Backend         backend.Backend
	Strategy        Strategy
	MaxResponseSize uint64
	PollingInterval time.Duration
	PollFunc        PollFunc
	UserContext     interface{}
}

// pollState is a node's polling lifecycle: idle until StartPoll,
// running until StopPoll or deregistration.
type pollState int

const (
	pollIdle pollState = iota
	pollRunning
)

type nodeEntry struct {
	settings Settings
	poll     pollState
}

var (
	// ErrUnknownNode is returned by operations referencing a node that
	// is not (or no longer) registered.
	ErrUnknownNode = errors.New("gatherer: unknown node")
)

// Gatherer is the node registry plus polling scheduler. Safe for
// concurrent use: register/deregister/updateSetting take the registry
// write lock; lookups take the read lock; the poll loop takes the write
// lock only while reading/mutating an entry's pollState.
type Gatherer struct {
	log *zap.Logger

	mu       sync.RWMutex
	nodes    map[hdtypes.NodeId]*nodeEntry
	sched    *scheduler
	wake     chan struct{}
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	// clock lets tests substitute a controllable time source; defaults
	// to time.Now.
	clock func() time.Time
}

// Options configures a Gatherer.
type Options struct {
	Clock func() time.Time
}

func (o *Options) setDefaults() {
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

// New constructs a Gatherer and starts its polling loop goroutine.
// Callers must call Close when done to stop that goroutine.
func New(log *zap.Logger, opts Options) *Gatherer {
	if log == nil {
		log = zap.NewNop()
	}
	opts.setDefaults()

	g := &Gatherer{
		log:    log.Named("gatherer"),
		nodes:  make(map[hdtypes.NodeId]*nodeEntry),
		sched:  newScheduler(),
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		clock:  opts.Clock,
	}
	go g.loop()
	return g
}

// Close stops the polling loop. Idempotent.
func (g *Gatherer) Close() {
	g.stopOnce.Do(func() { close(g.stopCh) })
	<-g.doneCh
}

// Register adds or replaces a node's settings. Idempotent:
// re-registration atomically replaces the prior settings and the new
// strategy takes effect immediately. If strategy is StrategyPoll
// and PollingInterval > 0, a poll task is created but not started —
// the caller must call StartPoll.
func (g *Gatherer) Register(node hdtypes.NodeId, settings Settings) {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, exists := g.nodes[node]
	if !exists {
		entry = &nodeEntry{}
		g.nodes[node] = entry
	}
	entry.settings = settings
	if !exists {
		entry.poll = pollIdle
	}
	// A running poll picks up the new interval at its next tick; if it
	// isn't running, leave it idle until StartPoll.
	if entry.poll == pollRunning && settings.Strategy == StrategyPoll && settings.PollingInterval > 0 {
		g.sched.push(node, g.clock().Add(settings.PollingInterval))
		g.kick()
	}
}

// Deregister removes node's settings and stops any poll task. The
// backend handle itself is surrendered to the caller for disposal; the
// gatherer never owns backend storage.
func (g *Gatherer) Deregister(node hdtypes.NodeId) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.nodes, node)
	g.sched.remove(node)
}

// StartPoll transitions node to RUNNING, scheduling its first tick
// immediately (missed ticks never accumulate: the cadence restarts from
// "now" rather than from some stale reference point). Idempotent;
// no-op for non-poll strategies. Returns ErrUnknownNode (wrapped) for a
// node that is not registered.
func (g *Gatherer) StartPoll(node hdtypes.NodeId) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.nodes[node]
	if !ok {
		return fmt.Errorf("start poll: %w", ErrUnknownNode)
	}
	if entry.settings.Strategy != StrategyPoll {
		return nil
	}
	if entry.poll == pollRunning {
		return nil
	}
	entry.poll = pollRunning
	g.sched.push(node, g.clock())
	g.kick()
	return nil
}

// StopPoll transitions node to IDLE, cancelling any pending tick.
// Idempotent.
func (g *Gatherer) StopPoll(node hdtypes.NodeId) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.nodes[node]
	if !ok {
		return fmt.Errorf("stop poll: %w", ErrUnknownNode)
	}
	entry.poll = pollIdle
	g.sched.remove(node)
	return nil
}

// UpdateSetting atomically replaces node's settings. A running poll
// transitions to the new interval at its next tick.
func (g *Gatherer) UpdateSetting(node hdtypes.NodeId, settings Settings) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.nodes[node]
	if !ok {
		return fmt.Errorf("update setting: %w", ErrUnknownNode)
	}
	entry.settings = settings
	if entry.poll == pollRunning && settings.Strategy == StrategyPoll && settings.PollingInterval > 0 {
		g.sched.push(node, g.clock().Add(settings.PollingInterval))
		g.kick()
	} else if entry.poll == pollRunning {
		g.sched.remove(node)
	}
	return nil
}

// GetSetting returns node's current settings. The returned value is a
// copy, valid independent of subsequent mutation.
func (g *Gatherer) GetSetting(node hdtypes.NodeId) (Settings, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	entry, ok := g.nodes[node]
	if !ok {
		return Settings{}, fmt.Errorf("get setting: %w", ErrUnknownNode)
	}
	return entry.settings, nil
}

// SetValue is invoked by the address-space layer whenever a historized
// variable is written. Behavior depends on the node's strategy:
// StrategyUser ignores it (the application inserts directly);
// StrategyValueSet forwards it to the backend; StrategyPoll ignores it
// (the poll task is the sole writer).
func (g *Gatherer) SetValue(ctx context.Context, node hdtypes.NodeId, value hdtypes.DataValue) error {
	g.mu.RLock()
	entry, ok := g.nodes[node]
	g.mu.RUnlock()
	if !ok {
		return fmt.Errorf("set value: %w", ErrUnknownNode)
	}

	if entry.settings.Strategy != StrategyValueSet {
		return nil
	}
	if entry.settings.Backend == nil {
		return errors.New("set value: node has no backend")
	}
	return entry.settings.Backend.Insert(node, value)
}

// kick wakes the poll loop if it's sleeping on a stale deadline.
func (g *Gatherer) kick() {
	select {
	case g.wake <- struct{}{}:
	default:
	}
}

// loop is the single goroutine driving every node's poll schedule. It
// sleeps until the next due tick (or is kicked early by a Register/
// StartPoll/UpdateSetting that changed the schedule), then fires every
// event whose deadline has passed.
func (g *Gatherer) loop() {
	defer close(g.doneCh)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		g.mu.Lock()
		_, when, ok := g.sched.next()
		g.mu.Unlock()

		var wait time.Duration
		if ok {
			wait = time.Until(when)
			if wait < 0 {
				wait = 0
			}
		} else {
			wait = time.Hour
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-g.stopCh:
			return
		case <-g.wake:
			continue
		case <-timer.C:
			g.fireDue()
		}
	}
}

// fireDue pops and executes every event whose deadline has arrived,
// reading each node's current value and inserting it, then reschedules
// each for its next tick (relative to now, so a paused host's next tick
// fires immediately instead of accumulating a backlog).
func (g *Gatherer) fireDue() {
	now := g.clock()

	type due struct {
		node     hdtypes.NodeId
		settings Settings
	}
	var ready []due

	g.mu.Lock()
	for {
		node, when, ok := g.sched.next()
		if !ok || when.After(now) {
			break
		}
		g.sched.pop()
		entry, ok := g.nodes[node]
		if !ok || entry.poll != pollRunning || entry.settings.Strategy != StrategyPoll {
			continue
		}
		ready = append(ready, due{node: node, settings: entry.settings})
	}
	g.mu.Unlock()

	if len(ready) == 0 {
		return
	}

	ctx := context.Background()
	eg, egCtx := errgroup.WithContext(ctx)
	for _, d := range ready {
		d := d
		eg.Go(func() error {
			return g.tick(egCtx, d.node, d.settings)
		})
	}
	if err := eg.Wait(); err != nil {
		g.log.Warn("poll tick batch reported errors", zap.Error(err))
	}

	g.mu.Lock()
	for _, d := range ready {
		if entry, ok := g.nodes[d.node]; ok && entry.poll == pollRunning {
			g.sched.push(d.node, now.Add(d.settings.PollingInterval))
		}
	}
	g.mu.Unlock()
}

// tick reads one node's current value and inserts it into its backend.
func (g *Gatherer) tick(ctx context.Context, node hdtypes.NodeId, settings Settings) error {
	if settings.PollFunc == nil || settings.Backend == nil {
		return nil
	}
	value, err := settings.PollFunc(ctx, node)
	if err != nil {
		g.log.Warn("poll read failed", zap.Any("node", node), zap.Error(err))
		return err
	}
	if err := settings.Backend.Insert(node, value); err != nil {
		g.log.Warn("poll insert failed", zap.Any("node", node), zap.Error(err))
		return err
	}
	return nil
}
