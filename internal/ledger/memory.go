package ledger

import (
	"context"
	"sync"

	"github.com/Montivagant/rmsv3-sub002/internal/domain"
)

// MemoryLog is the in-memory Log adapter used for tests and local
// development. Events are held in append order; aggregate and type indexes
// point into the slice so filtered reads preserve global order.
type MemoryLog struct {
	mu          sync.RWMutex
	events      []domain.Event
	byAggregate map[string][]int
	byType      map[domain.EventType][]int
	idempotency map[string]IdempotencyRecord
}

// NewMemoryLog constructs an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		byAggregate: make(map[string][]int),
		byType:      make(map[domain.EventType][]int),
		idempotency: make(map[string]IdempotencyRecord),
	}
}

// PutEvent appends the event and, when present, its idempotency record.
func (l *MemoryLog) PutEvent(_ context.Context, event domain.Event, record *IdempotencyRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := len(l.events)
	l.events = append(l.events, event)
	l.byAggregate[event.Aggregate.ID] = append(l.byAggregate[event.Aggregate.ID], idx)
	l.byType[event.Type] = append(l.byType[event.Type], idx)
	if record != nil {
		l.idempotency[record.Key] = *record
	}
	return nil
}

// AllEvents returns a copy of the full sequence.
func (l *MemoryLog) AllEvents(_ context.Context) ([]domain.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Event, len(l.events))
	copy(out, l.events)
	return out, nil
}

// EventsByAggregate returns the aggregate's events in global order.
func (l *MemoryLog) EventsByAggregate(_ context.Context, aggregateID string) ([]domain.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	indexes := l.byAggregate[aggregateID]
	out := make([]domain.Event, 0, len(indexes))
	for _, idx := range indexes {
		out = append(out, l.events[idx])
	}
	return out, nil
}

// EventsByType returns all events of the given type in global order.
func (l *MemoryLog) EventsByType(_ context.Context, eventType domain.EventType) ([]domain.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	indexes := l.byType[eventType]
	out := make([]domain.Event, 0, len(indexes))
	for _, idx := range indexes {
		out = append(out, l.events[idx])
	}
	return out, nil
}

// IdempotencyRecord looks up the record stored for key.
func (l *MemoryLog) IdempotencyRecord(_ context.Context, key string) (IdempotencyRecord, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	record, ok := l.idempotency[key]
	return record, ok, nil
}

// LastSeq returns the highest assigned sequence number, zero when empty.
func (l *MemoryLog) LastSeq(_ context.Context) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.events) == 0 {
		return 0, nil
	}
	return l.events[len(l.events)-1].Seq, nil
}

// Reset drops all events and idempotency records.
func (l *MemoryLog) Reset(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = nil
	l.byAggregate = make(map[string][]int)
	l.byType = make(map[domain.EventType][]int)
	l.idempotency = make(map[string]IdempotencyRecord)
	return nil
}
