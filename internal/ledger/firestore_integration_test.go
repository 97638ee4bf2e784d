//go:build integration

package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/Montivagant/rmsv3-sub002/internal/domain"
	"github.com/Montivagant/rmsv3-sub002/internal/ledger"
	pconfig "github.com/Montivagant/rmsv3-sub002/internal/platform/config"
	pfirestore "github.com/Montivagant/rmsv3-sub002/internal/platform/firestore"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

func TestFirestoreLogIntegration(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	defer stopContainer(containerID)

	waitForEndpoint(t, endpoint, 30*time.Second)

	cfg := pconfig.FirestoreConfig{
		ProjectID:    "test-project",
		EmulatorHost: endpoint,
	}

	provider := pfirestore.NewProvider(cfg)
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("expected firestore client, got error: %v", err)
	}

	log, err := ledger.NewFirestoreLog(client)
	if err != nil {
		t.Fatalf("new firestore log: %v", err)
	}
	if err := log.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}

	store, err := ledger.NewStore(ledger.StoreDeps{Log: log})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	sale := domain.SaleRecorded{
		TicketID: "t-100",
		Lines:    []domain.SaleLine{{SKU: "espresso", Qty: 2, Price: 350, TaxRate: 0.14}},
		Totals:   domain.Totals{Subtotal: 700, Tax: 98, Total: 798},
	}
	opts := ledger.AppendOptions{
		Key:       "ticket:t-100:finalize",
		Aggregate: domain.AggregateRef{ID: "t-100", Type: "ticket"},
	}

	first, err := store.Append(ctx, domain.EventSaleRecorded, sale, opts)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if !first.IsNew || first.Event.Seq != 1 {
		t.Fatalf("expected new event at seq 1, got %+v", first)
	}

	// Replay with identical params returns the stored event without a new seq.
	replay, err := store.Append(ctx, domain.EventSaleRecorded, sale, opts)
	if err != nil {
		t.Fatalf("replay append: %v", err)
	}
	if !replay.Deduped || replay.Event.Seq != first.Event.Seq {
		t.Fatalf("expected dedupe at seq %d, got %+v", first.Event.Seq, replay)
	}

	// Same key, different params must conflict and leave the log unchanged.
	altered := sale
	altered.Totals.Total = 900
	if _, err := store.Append(ctx, domain.EventSaleRecorded, altered, opts); !errors.Is(err, ledger.ErrIdempotencyConflict) {
		t.Fatalf("expected idempotency conflict, got %v", err)
	}

	payment := domain.PaymentInitiated{
		TicketID: "t-100", Provider: "stripe", SessionID: "cs_1", Amount: 798, Currency: "USD",
	}
	if _, err := store.Append(ctx, domain.EventPaymentInitiated, payment, ledger.AppendOptions{
		Aggregate: domain.AggregateRef{ID: "t-100", Type: "ticket"},
	}); err != nil {
		t.Fatalf("append payment: %v", err)
	}

	events, err := log.AllEvents(ctx)
	if err != nil {
		t.Fatalf("all events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	for i, event := range events {
		if event.Seq != int64(i+1) {
			t.Fatalf("expected seq %d at position %d, got %d", i+1, i, event.Seq)
		}
	}
	rehydrated, ok := events[0].Payload.(*domain.SaleRecorded)
	if !ok {
		t.Fatalf("expected SaleRecorded payload, got %T", events[0].Payload)
	}
	if rehydrated.Totals.Total != 798 || len(rehydrated.Lines) != 1 {
		t.Fatalf("unexpected rehydrated sale: %+v", rehydrated)
	}

	byAggregate, err := log.EventsByAggregate(ctx, "t-100")
	if err != nil {
		t.Fatalf("events by aggregate: %v", err)
	}
	if len(byAggregate) != 2 {
		t.Fatalf("expected 2 ticket events, got %d", len(byAggregate))
	}

	// A fresh store over the same log resumes sequencing from durable state.
	resumed, err := ledger.NewStore(ledger.StoreDeps{Log: log})
	if err != nil {
		t.Fatalf("new resumed store: %v", err)
	}
	next, err := resumed.Append(ctx, domain.EventPaymentSucceeded, domain.PaymentSucceeded{
		TicketID: "t-100", Provider: "stripe", SessionID: "cs_1", Amount: 798, Currency: "USD",
	}, ledger.AppendOptions{Aggregate: domain.AggregateRef{ID: "t-100", Type: "ticket"}})
	if err != nil {
		t.Fatalf("append after resume: %v", err)
	}
	if next.Event.Seq != 3 {
		t.Fatalf("expected resumed store to continue at seq 3, got %d", next.Event.Seq)
	}

	record, found, err := log.IdempotencyRecord(ctx, "ticket:t-100:finalize")
	if err != nil {
		t.Fatalf("idempotency record: %v", err)
	}
	if !found || record.Event.Seq != 1 {
		t.Fatalf("expected record for seq 1, found=%v record=%+v", found, record)
	}
	if _, found, err := log.IdempotencyRecord(ctx, "ticket:missing:finalize"); err != nil || found {
		t.Fatalf("expected absent record without error, found=%v err=%v", found, err)
	}

	cancelCtx, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	if err := pfirestore.RunTransaction(cancelCtx, client, func(context.Context, *firestore.Transaction) error {
		return nil
	}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}

	cmd := exec.Command("docker", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	// Shorten the ID to match docker CLI behaviour for stop/remove commands.
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "docker", "stop", id)
	_ = cmd.Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		lastErr = err
		time.Sleep(250 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = errors.New("timeout waiting for endpoint")
	}
	t.Fatalf("emulator did not become ready: %v", lastErr)
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "info")
	if err := cmd.Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}
}
