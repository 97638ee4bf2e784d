package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

// Transactions retry up to five times on contention and never run longer
// than the cap; the ledger's append path depends on both bounds.
const (
	txMaxAttempts = 5
	txTimeCap     = 15 * time.Second
)

// TxFunc runs inside a Firestore transaction.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// RunTransaction executes fn within a bounded, retried transaction and
// classifies the outcome through WrapError.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc) error {
	if client == nil {
		return WrapError("transaction", errors.New("firestore: client is nil"))
	}
	if fn == nil {
		return WrapError("transaction", errors.New("firestore: transaction function is nil"))
	}

	txCtx := ctx
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > txTimeCap {
		var cancel context.CancelFunc
		txCtx, cancel = context.WithTimeout(ctx, txTimeCap)
		defer cancel()
	}

	err := client.RunTransaction(txCtx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(ctx, tx)
	}, firestore.MaxAttempts(txMaxAttempts))
	return WrapError("transaction", err)
}
