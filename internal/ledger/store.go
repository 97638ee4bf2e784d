// Package ledger implements the append-only transaction event store. Events
// are the only source of truth for the POS core: orders, payment status, and
// loyalty balances are projections folded from the sequence this package
// guards.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Montivagant/rmsv3-sub002/internal/domain"
	"github.com/Montivagant/rmsv3-sub002/internal/platform/canonical"
)

var (
	// ErrInvalidInput signals a malformed append (unknown type, nil payload,
	// payload/type mismatch). Nothing is mutated.
	ErrInvalidInput = errors.New("ledger: invalid input")
	// ErrIdempotencyConflict is returned when an idempotency key is replayed
	// with different parameters. The log is left unchanged; the caller must
	// treat this as a logic bug or a genuinely conflicting retry.
	ErrIdempotencyConflict = errors.New("ledger: idempotency conflict")
)

// IdempotencyRecord maps an idempotency key to the parameter hash it was
// accepted with and the event that append produced.
type IdempotencyRecord struct {
	Key        string
	ParamsHash string
	Event      domain.Event
}

// Log is the durable storage collaborator behind the store. Implementations
// must persist the event and its idempotency record atomically and return
// events ordered by Seq.
type Log interface {
	PutEvent(ctx context.Context, event domain.Event, record *IdempotencyRecord) error
	AllEvents(ctx context.Context) ([]domain.Event, error)
	EventsByAggregate(ctx context.Context, aggregateID string) ([]domain.Event, error)
	EventsByType(ctx context.Context, eventType domain.EventType) ([]domain.Event, error)
	IdempotencyRecord(ctx context.Context, key string) (IdempotencyRecord, bool, error)
	LastSeq(ctx context.Context) (int64, error)
	Reset(ctx context.Context) error
}

// Publisher is notified of every newly appended event, after it is durable.
// Publish failures never fail the append; they are logged and the ledger
// remains authoritative.
type Publisher interface {
	PublishEvent(ctx context.Context, event domain.Event) error
}

// AppendOptions carries the idempotency and indexing metadata for an append.
type AppendOptions struct {
	// Key identifies the logical operation across retries
	// (e.g. "ticket:42:finalize"). Empty disables deduplication.
	Key string
	// Params are hashed structurally; when nil the payload itself is hashed.
	Params any
	// Aggregate scopes the event for replay queries.
	Aggregate domain.AggregateRef
}

// AppendResult reports what Append did.
type AppendResult struct {
	Event   domain.Event
	IsNew   bool
	Deduped bool
}

// StoreDeps bundles the collaborators required to construct a Store.
type StoreDeps struct {
	Log         Log
	Publisher   Publisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

// Store assigns sequence numbers, enforces idempotency, and appends events to
// the underlying log. The idempotency check and the append form a single
// critical section: two concurrent appends for the same key cannot both
// observe "not yet present".
type Store struct {
	mu        sync.Mutex
	log       Log
	publisher Publisher
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)

	seqLoaded bool
	nextSeq   int64
}

// NewStore wires dependencies into a Store.
func NewStore(deps StoreDeps) (*Store, error) {
	if deps.Log == nil {
		return nil, errors.New("ledger store: log is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &Store{
		log:       deps.Log,
		publisher: deps.Publisher,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// Append records an event. With an idempotency key, a replay with identical
// params returns the previously stored event (Deduped=true, no seq consumed);
// a replay with different params fails with ErrIdempotencyConflict and the log
// is unchanged.
func (s *Store) Append(ctx context.Context, eventType domain.EventType, payload domain.Payload, opts AppendOptions) (AppendResult, error) {
	if payload == nil {
		return AppendResult{}, fmt.Errorf("%w: payload is required", ErrInvalidInput)
	}
	if payload.EventType() != eventType {
		return AppendResult{}, fmt.Errorf("%w: payload variant %s does not match event type %s", ErrInvalidInput, payload.EventType(), eventType)
	}
	aggregateID := strings.TrimSpace(opts.Aggregate.ID)
	if aggregateID == "" {
		return AppendResult{}, fmt.Errorf("%w: aggregate id is required", ErrInvalidInput)
	}

	key := strings.TrimSpace(opts.Key)
	var paramsHash string
	if key != "" {
		params := opts.Params
		if params == nil {
			params = payload
		}
		hash, err := canonical.Hash(params)
		if err != nil {
			return AppendResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		paramsHash = hash
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if key != "" {
		record, found, err := s.log.IdempotencyRecord(ctx, key)
		if err != nil {
			return AppendResult{}, err
		}
		if found {
			if record.ParamsHash != paramsHash {
				return AppendResult{}, fmt.Errorf("%w: key %s replayed with different params", ErrIdempotencyConflict, key)
			}
			return AppendResult{Event: record.Event, Deduped: true}, nil
		}
	}

	if err := s.ensureSeq(ctx); err != nil {
		return AppendResult{}, err
	}

	event := domain.Event{
		ID:   s.newID(),
		Seq:  s.nextSeq,
		Type: eventType,
		At:   s.clock(),
		Aggregate: domain.AggregateRef{
			ID:   aggregateID,
			Type: strings.TrimSpace(opts.Aggregate.Type),
		},
		Payload: payload,
	}

	var record *IdempotencyRecord
	if key != "" {
		record = &IdempotencyRecord{Key: key, ParamsHash: paramsHash, Event: event}
	}

	if err := s.log.PutEvent(ctx, event, record); err != nil {
		return AppendResult{}, fmt.Errorf("ledger: append seq %d: %w", event.Seq, err)
	}
	s.nextSeq++

	if s.publisher != nil {
		if err := s.publisher.PublishEvent(ctx, event); err != nil {
			s.logger(ctx, "ledger_publish_failed", map[string]any{
				"seq":   event.Seq,
				"type":  string(event.Type),
				"error": err.Error(),
			})
		}
	}

	return AppendResult{Event: event, IsNew: true}, nil
}

// Lookup returns the idempotency record stored under key, if any. Callers
// that attach side effects to an append can use it to detect a replay before
// running them.
func (s *Store) Lookup(ctx context.Context, key string) (IdempotencyRecord, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return IdempotencyRecord{}, false, fmt.Errorf("%w: idempotency key is required", ErrInvalidInput)
	}
	return s.log.IdempotencyRecord(ctx, key)
}

// Events returns every event in seq order.
func (s *Store) Events(ctx context.Context) ([]domain.Event, error) {
	return s.log.AllEvents(ctx)
}

// EventsByAggregate returns the aggregate's events preserving global order.
func (s *Store) EventsByAggregate(ctx context.Context, aggregateID string) ([]domain.Event, error) {
	return s.log.EventsByAggregate(ctx, strings.TrimSpace(aggregateID))
}

// EventsByType returns all events of one type in seq order.
func (s *Store) EventsByType(ctx context.Context, eventType domain.EventType) ([]domain.Event, error) {
	return s.log.EventsByType(ctx, eventType)
}

// Reset clears the log. Test-only escape hatch mirrored from the storage
// contract.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.log.Reset(ctx); err != nil {
		return err
	}
	s.seqLoaded = false
	s.nextSeq = 0
	return nil
}

func (s *Store) ensureSeq(ctx context.Context) error {
	if s.seqLoaded {
		return nil
	}
	last, err := s.log.LastSeq(ctx)
	if err != nil {
		return fmt.Errorf("ledger: load last seq: %w", err)
	}
	s.nextSeq = last + 1
	s.seqLoaded = true
	return nil
}
