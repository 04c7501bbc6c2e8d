package deepbook

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/deepsentinel/internal/domain"
)

// ledger remembers settlement outcomes per opportunity so a repeated Settle
// call returns the original result instead of settling twice. While one
// caller settles an opportunity, others for the same ID wait on it.
type ledger struct {
	mu      sync.Mutex
	entries map[string]ledgerEntry
	pending map[string]chan struct{}
	ttl     time.Duration
	now     func() time.Time
}

type ledgerEntry struct {
	result domain.SettlementResult
	at     time.Time
}

func newLedger(ttl time.Duration, now func() time.Time) *ledger {
	return &ledger{
		entries: make(map[string]ledgerEntry),
		pending: make(map[string]chan struct{}),
		ttl:     ttl,
		now:     now,
	}
}

// lookupLocked returns the stored result for id if it has not expired.
func (l *ledger) lookupLocked(id string) (domain.SettlementResult, bool) {
	e, ok := l.entries[id]
	if !ok || l.now().Sub(e.at) >= l.ttl {
		return domain.SettlementResult{}, false
	}
	return e.result, true
}

// claim returns the stored result for id, or reports found=false and makes
// the caller the only settler of id until it calls finish. A caller that
// finds id in flight waits for it to finish.
func (l *ledger) claim(ctx context.Context, id string) (res domain.SettlementResult, found bool, err error) {
	for {
		l.mu.Lock()
		if res, ok := l.lookupLocked(id); ok {
			l.mu.Unlock()
			return res, true, nil
		}
		wait, busy := l.pending[id]
		if !busy {
			l.pending[id] = make(chan struct{})
			l.mu.Unlock()
			return domain.SettlementResult{}, false, nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return domain.SettlementResult{}, false, ctx.Err()
		case <-wait:
		}
	}
}

// finish releases a claim. The result is remembered only when keep is set;
// otherwise the next waiter settles id itself.
func (l *ledger) finish(id string, res domain.SettlementResult, keep bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if keep {
		l.entries[id] = ledgerEntry{result: res, at: l.now()}
	}
	if wait, ok := l.pending[id]; ok {
		close(wait)
		delete(l.pending, id)
	}
}

// prune drops expired entries.
func (l *ledger) prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	n := 0
	for id, e := range l.entries {
		if now.Sub(e.at) >= l.ttl {
			delete(l.entries, id)
			n++
		}
	}
	return n
}
