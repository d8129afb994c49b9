package rpc

import (
	"sync"
)

// Reply settles a pending call.
type Reply struct {
	Value any
	Err   error
}

// Pending maps correlation ids to waiting callers. It is safe for
// concurrent use.
type Pending struct {
	mu     sync.Mutex
	calls  map[uint64]chan Reply
	closed error
}

// NewPending creates an empty table.
func NewPending() *Pending {
	return &Pending{calls: make(map[uint64]chan Reply)}
}

// Open registers id and returns the channel its reply will arrive on.
// After Close it returns the close error.
func (p *Pending) Open(id uint64) (<-chan Reply, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed != nil {
		return nil, p.closed
	}
	ch := make(chan Reply, 1)
	p.calls[id] = ch
	return ch, nil
}

// Settle delivers r to the caller waiting on id. It reports false when no
// such call is pending (already settled, cancelled or unknown).
func (p *Pending) Settle(id uint64, r Reply) bool {
	p.mu.Lock()
	ch, ok := p.calls[id]
	if ok {
		delete(p.calls, id)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	ch <- r
	return true
}

// Cancel forgets id without delivering a reply.
func (p *Pending) Cancel(id uint64) {
	p.mu.Lock()
	delete(p.calls, id)
	p.mu.Unlock()
}

// Close rejects every pending call with err and makes future Opens fail.
// It returns the number of calls rejected. Only the first Close has an
// effect.
func (p *Pending) Close(err error) int {
	p.mu.Lock()
	if p.closed != nil {
		p.mu.Unlock()
		return 0
	}
	p.closed = err
	calls := p.calls
	p.calls = make(map[uint64]chan Reply)
	p.mu.Unlock()

	for _, ch := range calls {
		ch <- Reply{Err: err}
	}
	return len(calls)
}

// Len returns the number of pending calls.
func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
