package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/Montivagant/rmsv3-sub002/internal/domain"
	platformfs "github.com/Montivagant/rmsv3-sub002/internal/platform/firestore"
)

const (
	eventsCollection      = "ledger_events"
	idempotencyCollection = "ledger_idempotency"
)

type eventDocument struct {
	ID            string    `firestore:"id"`
	Seq           int64     `firestore:"seq"`
	Type          string    `firestore:"type"`
	At            time.Time `firestore:"at"`
	AggregateID   string    `firestore:"aggregateId"`
	AggregateType string    `firestore:"aggregateType"`
	Payload       string    `firestore:"payload"`
}

type idempotencyDocument struct {
	Key        string    `firestore:"key"`
	ParamsHash string    `firestore:"paramsHash"`
	EventSeq   int64     `firestore:"eventSeq"`
	Event      string    `firestore:"event"`
	CreatedAt  time.Time `firestore:"createdAt"`
}

type storedEvent struct {
	ID        string              `json:"id"`
	Seq       int64               `json:"seq"`
	Type      domain.EventType    `json:"type"`
	At        time.Time           `json:"at"`
	Aggregate domain.AggregateRef `json:"aggregate"`
	Payload   json.RawMessage     `json:"payload"`
}

// FirestoreLog is the durable Log adapter backed by Firestore. The event and
// its idempotency record are written in one transaction; document IDs are
// zero-padded sequence numbers so lexical order equals seq order.
type FirestoreLog struct {
	client *firestore.Client
}

// NewFirestoreLog constructs a Firestore-backed log.
func NewFirestoreLog(client *firestore.Client) (*FirestoreLog, error) {
	if client == nil {
		return nil, errors.New("firestore log: client is required")
	}
	return &FirestoreLog{client: client}, nil
}

// PutEvent implements the Log interface.
func (l *FirestoreLog) PutEvent(ctx context.Context, event domain.Event, record *IdempotencyRecord) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("firestore log: encode payload: %w", err)
	}

	eventDoc := eventDocument{
		ID:            event.ID,
		Seq:           event.Seq,
		Type:          string(event.Type),
		At:            event.At,
		AggregateID:   event.Aggregate.ID,
		AggregateType: event.Aggregate.Type,
		Payload:       string(payload),
	}
	eventRef := l.client.Collection(eventsCollection).Doc(seqDocID(event.Seq))

	var idemRef *firestore.DocumentRef
	var idemDoc idempotencyDocument
	if record != nil {
		encoded, err := encodeStoredEvent(record.Event)
		if err != nil {
			return err
		}
		idemDoc = idempotencyDocument{
			Key:        record.Key,
			ParamsHash: record.ParamsHash,
			EventSeq:   record.Event.Seq,
			Event:      encoded,
			CreatedAt:  event.At,
		}
		idemRef = l.client.Collection(idempotencyCollection).Doc(keyDocID(record.Key))
	}

	err = platformfs.RunTransaction(ctx, l.client, func(_ context.Context, tx *firestore.Transaction) error {
		if err := tx.Create(eventRef, eventDoc); err != nil {
			return err
		}
		if idemRef != nil {
			if err := tx.Create(idemRef, idemDoc); err != nil {
				return err
			}
		}
		return nil
	})
	var fsErr *platformfs.Error
	if errors.As(err, &fsErr) && fsErr.IsConflict() {
		return fmt.Errorf("firestore log: seq %d already written: %w", event.Seq, err)
	}
	return err
}

// AllEvents implements the Log interface.
func (l *FirestoreLog) AllEvents(ctx context.Context) ([]domain.Event, error) {
	query := l.client.Collection(eventsCollection).OrderBy("seq", firestore.Asc)
	return l.collect(ctx, query.Documents(ctx))
}

// EventsByAggregate implements the Log interface.
func (l *FirestoreLog) EventsByAggregate(ctx context.Context, aggregateID string) ([]domain.Event, error) {
	query := l.client.Collection(eventsCollection).
		Where("aggregateId", "==", aggregateID).
		OrderBy("seq", firestore.Asc)
	return l.collect(ctx, query.Documents(ctx))
}

// EventsByType implements the Log interface.
func (l *FirestoreLog) EventsByType(ctx context.Context, eventType domain.EventType) ([]domain.Event, error) {
	query := l.client.Collection(eventsCollection).
		Where("type", "==", string(eventType)).
		OrderBy("seq", firestore.Asc)
	return l.collect(ctx, query.Documents(ctx))
}

// IdempotencyRecord implements the Log interface.
func (l *FirestoreLog) IdempotencyRecord(ctx context.Context, key string) (IdempotencyRecord, bool, error) {
	snapshot, err := l.client.Collection(idempotencyCollection).Doc(keyDocID(key)).Get(ctx)
	if err != nil {
		wrapped := platformfs.WrapError("idempotency lookup", err)
		var fsErr *platformfs.Error
		if errors.As(wrapped, &fsErr) && fsErr.IsNotFound() {
			return IdempotencyRecord{}, false, nil
		}
		return IdempotencyRecord{}, false, fmt.Errorf("firestore log: get idempotency %s: %w", key, wrapped)
	}

	var doc idempotencyDocument
	if err := snapshot.DataTo(&doc); err != nil {
		return IdempotencyRecord{}, false, fmt.Errorf("firestore log: decode idempotency %s: %w", key, err)
	}
	event, err := decodeStoredEvent([]byte(doc.Event))
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return IdempotencyRecord{Key: doc.Key, ParamsHash: doc.ParamsHash, Event: event}, true, nil
}

// LastSeq implements the Log interface.
func (l *FirestoreLog) LastSeq(ctx context.Context) (int64, error) {
	iter := l.client.Collection(eventsCollection).
		OrderBy("seq", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snapshot, err := iter.Next()
	if err == iterator.Done {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("firestore log: last seq: %w", err)
	}
	var doc eventDocument
	if err := snapshot.DataTo(&doc); err != nil {
		return 0, fmt.Errorf("firestore log: decode last seq: %w", err)
	}
	return doc.Seq, nil
}

// Reset deletes every event and idempotency record. Intended for emulator
// backed tests only.
func (l *FirestoreLog) Reset(ctx context.Context) error {
	for _, name := range []string{eventsCollection, idempotencyCollection} {
		iter := l.client.Collection(name).Documents(ctx)
		for {
			snapshot, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				return fmt.Errorf("firestore log: reset %s: %w", name, err)
			}
			if _, err := snapshot.Ref.Delete(ctx); err != nil {
				return fmt.Errorf("firestore log: reset %s: %w", name, err)
			}
		}
		iter.Stop()
	}
	return nil
}

func (l *FirestoreLog) collect(ctx context.Context, iter *firestore.DocumentIterator) ([]domain.Event, error) {
	defer iter.Stop()

	var out []domain.Event
	for {
		snapshot, err := iter.Next()
		if err == iterator.Done {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("firestore log: iterate events: %w", err)
		}
		var doc eventDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("firestore log: decode event: %w", err)
		}
		payload, err := domain.DecodePayload(domain.EventType(doc.Type), []byte(doc.Payload))
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Event{
			ID:   doc.ID,
			Seq:  doc.Seq,
			Type: domain.EventType(doc.Type),
			At:   doc.At,
			Aggregate: domain.AggregateRef{
				ID:   doc.AggregateID,
				Type: doc.AggregateType,
			},
			Payload: payload,
		})
	}
}

func encodeStoredEvent(event domain.Event) (string, error) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return "", fmt.Errorf("firestore log: encode stored event: %w", err)
	}
	data, err := json.Marshal(storedEvent{
		ID:        event.ID,
		Seq:       event.Seq,
		Type:      event.Type,
		At:        event.At,
		Aggregate: event.Aggregate,
		Payload:   payload,
	})
	if err != nil {
		return "", fmt.Errorf("firestore log: encode stored event: %w", err)
	}
	return string(data), nil
}

func decodeStoredEvent(data []byte) (domain.Event, error) {
	var stored storedEvent
	if err := json.Unmarshal(data, &stored); err != nil {
		return domain.Event{}, fmt.Errorf("firestore log: decode stored event: %w", err)
	}
	payload, err := domain.DecodePayload(stored.Type, stored.Payload)
	if err != nil {
		return domain.Event{}, err
	}
	return domain.Event{
		ID:        stored.ID,
		Seq:       stored.Seq,
		Type:      stored.Type,
		At:        stored.At,
		Aggregate: stored.Aggregate,
		Payload:   payload,
	}, nil
}

func seqDocID(seq int64) string {
	return fmt.Sprintf("%020d", seq)
}

func keyDocID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
