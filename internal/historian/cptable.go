package historian

import (
	"sync"
	"time"

	"github.com/edirooss/opcua-historian/internal/hdtypes"
)

// cpKey identifies one live continuation point: at most one exists per
// (session, node) pair.
type cpKey struct {
	session string
	node    hdtypes.NodeId
}

type cpEntry struct {
	token  []byte
	issued time.Time
}

// cpTable is the server-side continuation-point bookkeeping: a bounded
// per-session map with idle-timeout expiry and oldest-first eviction on
// overflow. The token bytes themselves are produced and interpreted by
// the read engine; the table only decides whether a client-presented
// token is still live.
type cpTable struct {
	mu      sync.Mutex
	entries map[cpKey]*cpEntry

	maxPerSession int
	timeout       time.Duration
	now           func() time.Time
}

func newCPTable(maxPerSession int, timeout time.Duration, now func() time.Time) *cpTable {
	if now == nil {
		now = time.Now
	}
	return &cpTable{
		entries:       make(map[cpKey]*cpEntry),
		maxPerSession: maxPerSession,
		timeout:       timeout,
		now:           now,
	}
}

// put stores token for (session, node), replacing any prior point for
// the pair. When the session is at capacity the oldest point is
// evicted. Returns false if the table cannot hold continuation points
// at all (maxPerSession <= 0).
func (t *cpTable) put(session string, node hdtypes.NodeId, token []byte) bool {
	if t.maxPerSession <= 0 {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := cpKey{session: session, node: node}
	if e, ok := t.entries[key]; ok {
		e.token = token
		e.issued = t.now()
		return true
	}

	count := 0
	var oldestKey cpKey
	var oldest *cpEntry
	for k, e := range t.entries {
		if k.session != session {
			continue
		}
		count++
		if oldest == nil || e.issued.Before(oldest.issued) {
			oldestKey, oldest = k, e
		}
	}
	if count >= t.maxPerSession && oldest != nil {
		delete(t.entries, oldestKey)
	}

	t.entries[key] = &cpEntry{token: token, issued: t.now()}
	return true
}

// get returns the live token for (session, node). An expired point is
// dropped and reported as absent.
func (t *cpTable) get(session string, node hdtypes.NodeId) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := cpKey{session: session, node: node}
	e, ok := t.entries[key]
	if !ok {
		return nil, false
	}
	if t.timeout > 0 && t.now().Sub(e.issued) > t.timeout {
		delete(t.entries, key)
		return nil, false
	}
	return e.token, true
}

// release drops the point for (session, node), if any.
func (t *cpTable) release(session string, node hdtypes.NodeId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, cpKey{session: session, node: node})
}

// releaseSession drops every point the session holds. Called when the
// session terminates.
func (t *cpTable) releaseSession(session string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.entries {
		if k.session == session {
			delete(t.entries, k)
		}
	}
}
