package client

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/luma/beacon/internal/clock"
)

// ErrTimeout rejects a request that received no response within the
// configured window.
var ErrTimeout = errors.New("Timed out waiting for a command response")

type result struct {
	data json.RawMessage
	err  error
}

type pendingRequest struct {
	id        string
	createdAt time.Time
	done      chan result
	timer     clock.Timer
}

// pendingTable tracks every in-flight request until it is resolved,
// rejected, or evicted by timeout. Whichever happens first wins;
// settlement is atomic with removal so a request can never settle
// twice, even when a late response races its own timeout.
type pendingTable struct {
	clock   clock.Clock
	timeout time.Duration

	mu      sync.Mutex
	entries map[string]*pendingRequest
}

func newPendingTable(c clock.Clock, timeout time.Duration) *pendingTable {
	return &pendingTable{
		clock:   c,
		timeout: timeout,
		entries: make(map[string]*pendingRequest),
	}
}

// register records an in-flight request and schedules its timeout
// eviction. The returned channel receives exactly one result.
func (t *pendingTable) register(id string) <-chan result {
	entry := &pendingRequest{
		id:        id,
		createdAt: t.clock.Now(),
		done:      make(chan result, 1),
	}

	t.mu.Lock()
	t.entries[id] = entry
	entry.timer = t.clock.AfterFunc(t.timeout, func() {
		t.evict(id)
	})
	t.mu.Unlock()

	return entry.done
}

// resolve settles the request with the peer's data. A no-op if the id
// is absent, which is required for correctness: the timeout and an
// arriving response can race.
func (t *pendingTable) resolve(id string, data json.RawMessage) {
	t.settle(id, result{data: data})
}

// reject settles the request with err. A no-op if the id is absent.
func (t *pendingTable) reject(id string, err error) {
	t.settle(id, result{err: err})
}

// evict removes a request that timed out, rejecting its caller.
func (t *pendingTable) evict(id string) {
	t.settle(id, result{err: ErrTimeout})
}

// rejectAll settles every in-flight request with err. Used when the
// receive buffer overflows and nothing in flight can be trusted.
func (t *pendingTable) rejectAll(err error) {
	t.mu.Lock()
	evicted := make([]*pendingRequest, 0, len(t.entries))
	for id, entry := range t.entries {
		evicted = append(evicted, entry)
		delete(t.entries, id)
	}
	t.mu.Unlock()

	for _, entry := range evicted {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		entry.done <- result{err: err}
	}
}

// oldest returns the id of the longest-waiting request. Identifiers
// sort lexicographically in submission order, so the smallest key is
// the oldest. This is the legacy correlation path for peers that do
// not echo request ids; it assumes strictly in-order responses.
func (t *pendingTable) oldest() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	oldest := ""
	for id := range t.entries {
		if oldest == "" || id < oldest {
			oldest = id
		}
	}

	return oldest, oldest != ""
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.entries)
}

func (t *pendingTable) settle(id string, res result) {
	t.mu.Lock()
	entry, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()

	if !ok {
		// Already settled or evicted.
		return
	}

	if entry.timer != nil {
		entry.timer.Stop()
	}

	entry.done <- res
}
