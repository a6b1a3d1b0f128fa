package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ariefcatur/go-order-messaging/internal/metrics"
	"github.com/ariefcatur/go-order-messaging/internal/orders"
	"github.com/ariefcatur/go-order-messaging/internal/retry"
)

// acker records how each delivery was settled.
type acker struct {
	mu  sync.Mutex
	ops []string
}

func (a *acker) Ack(uint64, bool) error {
	a.record("ack")
	return nil
}

func (a *acker) Nack(_ uint64, _ bool, requeue bool) error {
	if requeue {
		a.record("requeue")
	} else {
		a.record("drop")
	}
	return nil
}

func (a *acker) Reject(_ uint64, requeue bool) error { return a.Nack(0, false, requeue) }

func (a *acker) record(op string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ops = append(a.ops, op)
}

func (a *acker) settled() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.ops...)
}

type processorFunc func(ctx context.Context, ev orders.OrderPlacedEvent) error

func (f processorFunc) Process(ctx context.Context, ev orders.OrderPlacedEvent) error { return f(ctx, ev) }

func validEvent() orders.OrderPlacedEvent {
	return orders.OrderPlacedEvent{
		OrderID:       uuid.MustParse("6f1c2a7e-2d1b-4c55-9a3e-0b7a4c0d9e11"),
		UserID:        "U1",
		ProductID:     "P1",
		Quantity:      2,
		PaymentMethod: orders.PaymentCreditCard,
		CreatedAt:     time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC),
	}
}

func delivery(t *testing.T, a *acker, msgID string, body any) amqp.Delivery {
	t.Helper()
	var b []byte
	switch v := body.(type) {
	case []byte:
		b = v
	default:
		var err error
		if b, err = json.Marshal(v); err != nil {
			t.Fatal(err)
		}
	}
	return amqp.Delivery{Acknowledger: a, MessageId: msgID, Body: b}
}

func newTestWorker(p Processor, opts ...Option) (*Worker, *retry.Tracker, *metrics.Collector, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	tr := retry.NewTracker(retry.DefaultMaxAttempts)
	m := metrics.New(prometheus.NewRegistry())
	return New(p, tr, m, zap.New(core), orders.QueueOrderPlaced, opts...), tr, m, logs
}

func TestHandleMalformedIsDroppedWithoutProcessing(t *testing.T) {
	called := false
	w, tr, _, logs := newTestWorker(processorFunc(func(context.Context, orders.OrderPlacedEvent) error {
		called = true
		return nil
	}))

	bodies := [][]byte{
		[]byte(`not json`),
		[]byte(`{"userId":"U1","productId":"P1","quantity":1,"paymentMethod":"CreditCard","createdAt":"2024-05-01T00:00:00Z"}`),
		[]byte(`{"orderId":"6f1c2a7e-2d1b-4c55-9a3e-0b7a4c0d9e11","userId":"U1","productId":"P1","quantity":0,"paymentMethod":"CreditCard","createdAt":"2024-05-01T00:00:00Z"}`),
		[]byte(`{"orderId":"6f1c2a7e-2d1b-4c55-9a3e-0b7a4c0d9e11","userId":"U1","productId":"P1","quantity":1,"paymentMethod":"Cash","createdAt":"2024-05-01T00:00:00Z"}`),
	}
	for _, b := range bodies {
		a := &acker{}
		w.Handle(context.Background(), delivery(t, a, "m1", b))
		if got := a.settled(); len(got) != 1 || got[0] != "drop" {
			t.Errorf("body %s settled as %v, want [drop]", b, got)
		}
	}
	if called {
		t.Error("processor invoked for malformed payload")
	}
	if tr.Len() != 0 {
		t.Error("malformed message tracked for retry")
	}
	if logs.FilterMessage("malformed message dropped").Len() != len(bodies) {
		t.Error("missing malformed log lines")
	}
}

func TestHandleSuccessAcksAndClearsTracker(t *testing.T) {
	w, tr, m, _ := newTestWorker(processorFunc(func(context.Context, orders.OrderPlacedEvent) error { return nil }))
	tr.RecordFailure("m1")

	a := &acker{}
	w.Handle(context.Background(), delivery(t, a, "m1", validEvent()))

	if got := a.settled(); len(got) != 1 || got[0] != "ack" {
		t.Errorf("settled = %v, want [ack]", got)
	}
	if tr.Attempts("m1") != 0 {
		t.Error("tracker entry not cleared on success")
	}
	if m.Processed() != 1 || m.LastActivity().IsZero() {
		t.Errorf("processed = %d", m.Processed())
	}
}

func TestHandleRoundTripIsByteIdentical(t *testing.T) {
	var got []orders.OrderPlacedEvent
	w, _, _, _ := newTestWorker(processorFunc(func(_ context.Context, ev orders.OrderPlacedEvent) error {
		got = append(got, ev)
		return nil
	}))
	ev := validEvent()
	body, _ := json.Marshal(ev)

	w.Handle(context.Background(), delivery(t, &acker{}, "m1", body))

	if len(got) != 1 {
		t.Fatalf("Process called %d times, want 1", len(got))
	}
	again, _ := json.Marshal(got[0])
	if string(again) != string(body) {
		t.Errorf("round trip changed payload:\n got %s\nwant %s", again, body)
	}
}

func TestHandleIgnoresUnknownFields(t *testing.T) {
	calls := 0
	w, _, _, _ := newTestWorker(processorFunc(func(context.Context, orders.OrderPlacedEvent) error {
		calls++
		return nil
	}))
	body := []byte(`{"orderId":"6f1c2a7e-2d1b-4c55-9a3e-0b7a4c0d9e11","userId":"U1","productId":"P1","quantity":1,"paymentMethod":"DebitCard","createdAt":"2024-05-01T00:00:00Z","channel":"web"}`)
	a := &acker{}
	w.Handle(context.Background(), delivery(t, a, "", body))
	if calls != 1 || a.settled()[0] != "ack" {
		t.Errorf("calls = %d, settled = %v", calls, a.settled())
	}
}

func TestHandleDeadLettersAfterMaxFailures(t *testing.T) {
	w, tr, _, logs := newTestWorker(processorFunc(func(context.Context, orders.OrderPlacedEvent) error {
		return errors.New("database unavailable")
	}))
	a := &acker{}
	for i := 0; i < retry.DefaultMaxAttempts; i++ {
		w.Handle(context.Background(), delivery(t, a, "m-42", validEvent()))
	}

	want := []string{"requeue", "requeue", "drop"}
	got := a.settled()
	if len(got) != len(want) {
		t.Fatalf("settled = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("settled = %v, want %v", got, want)
		}
	}
	if tr.Attempts("m-42") != 0 || tr.Len() != 0 {
		t.Error("tracker entry left after dead-lettering")
	}
	if logs.FilterMessage("retries exhausted, dead-lettering").Len() != 1 {
		t.Error("missing dead-letter log")
	}
}

func TestHandleFallsBackToOrderIDForTracking(t *testing.T) {
	w, tr, _, _ := newTestWorker(processorFunc(func(context.Context, orders.OrderPlacedEvent) error {
		return errors.New("fail")
	}))
	ev := validEvent()
	w.Handle(context.Background(), delivery(t, &acker{}, "", ev))
	if tr.Attempts(ev.OrderID.String()) != 1 {
		t.Errorf("attempts by order id = %d, want 1", tr.Attempts(ev.OrderID.String()))
	}
}

func TestHandleRecoversProcessorPanic(t *testing.T) {
	w, _, _, _ := newTestWorker(processorFunc(func(context.Context, orders.OrderPlacedEvent) error {
		panic("nil map")
	}))
	a := &acker{}
	w.Handle(context.Background(), delivery(t, a, "m1", validEvent()))
	if got := a.settled(); len(got) != 1 || got[0] != "requeue" {
		t.Errorf("settled = %v, want [requeue]", got)
	}
}

func TestRunWaitsForInFlightMessage(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var sawCancel bool
	w, _, _, _ := newTestWorker(processorFunc(func(ctx context.Context, _ orders.OrderPlacedEvent) error {
		close(started)
		<-release
		sawCancel = ctx.Err() != nil
		return nil
	}), WithGracePeriod(time.Minute))

	deliveries := make(chan amqp.Delivery, 1)
	a := &acker{}
	deliveries <- delivery(t, a, "m1", validEvent())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, deliveries) }()

	<-started
	cancel()
	select {
	case <-done:
		t.Fatal("Run returned before the in-flight message finished")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sawCancel {
		t.Error("in-flight message saw cancellation within the grace period")
	}
	if got := a.settled(); len(got) != 1 || got[0] != "ack" {
		t.Errorf("settled = %v, want [ack]", got)
	}
}

func TestRunAbortsAfterGracePeriod(t *testing.T) {
	w, _, _, logs := newTestWorker(processorFunc(func(ctx context.Context, _ orders.OrderPlacedEvent) error {
		<-ctx.Done()
		return ctx.Err()
	}), WithGracePeriod(10*time.Millisecond))

	deliveries := make(chan amqp.Delivery, 1)
	a := &acker{}
	deliveries <- delivery(t, a, "m1", validEvent())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, deliveries) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the grace period")
	}
	if got := a.settled(); len(got) != 1 || got[0] != "requeue" {
		t.Errorf("settled = %v, want [requeue]", got)
	}
	if logs.FilterMessage("grace period elapsed, aborting in-flight message").Len() != 1 {
		t.Error("missing abort log")
	}
}

func TestRunReportsClosedDeliveries(t *testing.T) {
	w, _, _, _ := newTestWorker(processorFunc(func(context.Context, orders.OrderPlacedEvent) error { return nil }))
	deliveries := make(chan amqp.Delivery)
	close(deliveries)
	if err := w.Run(context.Background(), deliveries); !errors.Is(err, ErrDeliveriesClosed) {
		t.Errorf("err = %v, want ErrDeliveriesClosed", err)
	}
}

func TestRunLogsHeartbeat(t *testing.T) {
	w, _, _, logs := newTestWorker(processorFunc(func(context.Context, orders.OrderPlacedEvent) error { return nil }),
		WithHeartbeat(5*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	if err := w.Run(ctx, make(chan amqp.Delivery)); err != nil {
		t.Fatal(err)
	}
	if logs.FilterMessage("worker heartbeat").Len() == 0 {
		t.Error("no heartbeat logged")
	}
}
