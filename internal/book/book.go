package book

import (
	"sort"
	"sync"

	"github.com/Capstone-Design2/Backend/internal/domain"
)

// Book is the in-memory index of pending orders, keyed by instrument. It is
// a cache over the orders table: the engine scans it on every tick instead
// of querying SQLite, and rebuilds it from storage on startup. The orders
// table stays the source of truth; the book may briefly hold an order that
// already left PENDING, which the guarded status flip catches at fill time.
type Book struct {
	mu     sync.RWMutex
	orders map[string]map[string]domain.Order
}

// New creates an empty book.
func New() *Book {
	return &Book{orders: make(map[string]map[string]domain.Order)}
}

// Add indexes one pending order.
func (b *Book) Add(o domain.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.add(o)
}

func (b *Book) add(o domain.Order) {
	byID, ok := b.orders[o.InstrumentID]
	if !ok {
		byID = make(map[string]domain.Order)
		b.orders[o.InstrumentID] = byID
	}
	byID[o.OrderID] = o
}

// Remove evicts one order. Removing an order that is not indexed is a no-op,
// so fills and cancels can both evict without coordinating.
func (b *Book) Remove(instrumentID, orderID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	byID, ok := b.orders[instrumentID]
	if !ok {
		return
	}
	delete(byID, orderID)
	if len(byID) == 0 {
		delete(b.orders, instrumentID)
	}
}

// Pending returns a copy of the pending orders for one instrument, oldest
// first. Ties on creation time break by order ID, matching the scan order
// the storage layer uses.
func (b *Book) Pending(instrumentID string) []domain.Order {
	b.mu.RLock()
	byID := b.orders[instrumentID]
	result := make([]domain.Order, 0, len(byID))
	for _, o := range byID {
		result = append(result, o)
	}
	b.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		ti, tj := result[i].CreatedAt.UnixMicro(), result[j].CreatedAt.UnixMicro()
		if ti != tj {
			return ti < tj
		}
		return result[i].OrderID < result[j].OrderID
	})
	return result
}

// Rebuild replaces the whole index with the given orders.
func (b *Book) Rebuild(orders []domain.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.orders = make(map[string]map[string]domain.Order)
	for _, o := range orders {
		b.add(o)
	}
}

// Len returns the total number of indexed orders across all instruments.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, byID := range b.orders {
		n += len(byID)
	}
	return n
}
