package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

type fakeAck struct {
	mu       sync.Mutex
	acked    []uint64
	nacked   []uint64
	requeued []bool
}

func (f *fakeAck) Ack(tag uint64, multiple bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, tag)
	return nil
}

func (f *fakeAck) Nack(tag uint64, multiple, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacked = append(f.nacked, tag)
	f.requeued = append(f.requeued, requeue)
	return nil
}

func (f *fakeAck) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

func TestDrain_AckAndNack(t *testing.T) {
	ack := &fakeAck{}
	deliveries := make(chan amqp.Delivery, 2)
	deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte("good")}
	deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: []byte("bad")}
	close(deliveries)

	var seen []string
	h := func(_ context.Context, body []byte) error {
		seen = append(seen, string(body))
		if string(body) == "bad" {
			return errors.New("upload failed")
		}
		return nil
	}

	err := Drain(context.Background(), deliveries, h, zerolog.Nop())
	if err == nil {
		t.Error("expected error when delivery channel closes")
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 handled messages, got %v", seen)
	}
	if len(ack.acked) != 1 || ack.acked[0] != 1 {
		t.Errorf("acked = %v", ack.acked)
	}
	if len(ack.nacked) != 1 || ack.nacked[0] != 2 {
		t.Errorf("nacked = %v", ack.nacked)
	}
	if ack.requeued[0] {
		t.Error("failed message must not be requeued")
	}
}

func TestDrain_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	deliveries := make(chan amqp.Delivery)
	done := make(chan error, 1)
	go func() {
		done <- Drain(ctx, deliveries, func(context.Context, []byte) error { return nil }, zerolog.Nop())
	}()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil on cancel, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Drain did not return after cancel")
	}
}
