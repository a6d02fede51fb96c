package gateway

import (
	"context"
	"fmt"
	"sync"
)

// Reply is a canned processor answer for InMemoryProcessor.
type Reply struct {
	Result Result
	Err    error
}

type holdStatus int

const (
	holdOpen holdStatus = iota
	holdCommitted
	holdCancelled
)

type hold struct {
	referenceID string
	amount      string
	status      holdStatus
}

// InMemoryProcessor emulates the processor ledger. A reference id can open
// at most one hold; repeats are answered with CodeDuplicateReference.
type InMemoryProcessor struct {
	mu      sync.Mutex
	seq     int
	holds   map[string]*hold
	refs    map[string]string
	scripts map[Operation][]Reply
	calls   map[Operation]int
}

// NewInMemoryProcessor constructs an empty ledger.
func NewInMemoryProcessor() *InMemoryProcessor {
	return &InMemoryProcessor{
		holds:   make(map[string]*hold),
		refs:    make(map[string]string),
		scripts: make(map[Operation][]Reply),
		calls:   make(map[Operation]int),
	}
}

// Script queues replies returned, in order, by the next calls of op.
func (p *InMemoryProcessor) Script(op Operation, replies ...Reply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts[op] = append(p.scripts[op], replies...)
}

// Calls returns how many times op was invoked.
func (p *InMemoryProcessor) Calls(op Operation) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

// OpenHolds returns the number of holds neither committed nor cancelled.
func (p *InMemoryProcessor) OpenHolds() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, h := range p.holds {
		if h.status == holdOpen {
			n++
		}
	}
	return n
}

func (p *InMemoryProcessor) Authorize(ctx context.Context, req AuthorizeRequest) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[OpAuthorize]++
	if reply, ok := p.next(OpAuthorize); ok {
		if reply.Err == nil && reply.Result.Success && reply.Result.TransactionID != "" {
			p.holds[reply.Result.TransactionID] = &hold{referenceID: req.ReferenceID, amount: req.Amount}
			p.refs[req.ReferenceID] = reply.Result.TransactionID
		}
		return reply.Result, reply.Err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, &TransportError{Op: OpAuthorize, Kind: KindTimeout, Err: err}
	}
	if _, dup := p.refs[req.ReferenceID]; dup {
		return Result{ResponseCode: CodeDuplicateReference, RawMessage: "duplicate reference id"}, nil
	}
	p.seq++
	txID := fmt.Sprintf("MEM-%06d", p.seq)
	p.holds[txID] = &hold{referenceID: req.ReferenceID, amount: req.Amount}
	p.refs[req.ReferenceID] = txID
	return Result{Success: true, TransactionID: txID, ResponseCode: CodeApproved}, nil
}

func (p *InMemoryProcessor) Commit(ctx context.Context, gatewayTransactionID, _ string) (Result, error) {
	return p.settle(ctx, OpCommit, gatewayTransactionID, holdCommitted)
}

func (p *InMemoryProcessor) Cancel(ctx context.Context, gatewayTransactionID, _ string) (Result, error) {
	return p.settle(ctx, OpCancel, gatewayTransactionID, holdCancelled)
}

func (p *InMemoryProcessor) settle(ctx context.Context, op Operation, txID string, to holdStatus) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[op]++
	if reply, ok := p.next(op); ok {
		if reply.Err == nil && reply.Result.Success {
			if h, found := p.holds[txID]; found {
				h.status = to
			}
		}
		return reply.Result, reply.Err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, &TransportError{Op: op, Kind: KindTimeout, Err: err}
	}
	h, ok := p.holds[txID]
	if !ok {
		return Result{ResponseCode: CodeTransactionNotFound, RawMessage: "transaction not found"}, nil
	}
	switch {
	case h.status == to:
		// Settling twice in the same direction is acknowledged.
	case h.status != holdOpen:
		return Result{ResponseCode: CodeTransactionNotFound, TransactionID: txID, RawMessage: "hold already settled"}, nil
	default:
		h.status = to
	}
	return Result{Success: true, TransactionID: txID, ResponseCode: CodeApproved}, nil
}

func (p *InMemoryProcessor) next(op Operation) (Reply, bool) {
	queue := p.scripts[op]
	if len(queue) == 0 {
		return Reply{}, false
	}
	p.scripts[op] = queue[1:]
	return queue[0], true
}
