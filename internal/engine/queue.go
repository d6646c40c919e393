package engine

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
)

// DepositItem is one in-flight payment watch. It lives on the deposit queue
// and is owned by the deposit monitor until it resolves into a registration
// outcome or a RefundItem.
type DepositItem struct {
	RequestID          string
	RequesterID        string
	ConversationID     string
	Name               string
	DerivationPath     string
	DepositAddress     common.Address
	Price              *big.Int
	DepositAttempt     int
	InstructionReplyID string
}

// RefundItem is one pending payout back to the funder of a deposit address.
type RefundItem struct {
	RequestID      string
	RequesterID    string
	DerivationPath string
	DepositAddress common.Address
}

// fifo is a mutex-guarded FIFO queue. Items pop from the head and re-enqueue
// at the tail; an optional gauge mirrors the depth.
type fifo[T any] struct {
	mu    sync.Mutex
	items []T
	depth prometheus.Gauge
}

func newFifo[T any](depth prometheus.Gauge) *fifo[T] {
	return &fifo[T]{depth: depth}
}

func (q *fifo[T]) Push(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	q.observe()
}

func (q *fifo[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	q.observe()
	return item, true
}

func (q *fifo[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *fifo[T]) observe() {
	if q.depth != nil {
		q.depth.Set(float64(len(q.items)))
	}
}
