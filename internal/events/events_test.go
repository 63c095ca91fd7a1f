package events

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestMemoryPublisherKeepsLatest(t *testing.T) {
	t.Parallel()

	mem := NewMemory(2)
	ctx := context.Background()
	for _, typ := range []Type{TypeAgentCreated, TypeWalletIssued, TypeTransferSubmitted} {
		if err := mem.Publish(ctx, New(typ, "agent-1", "solana-devnet", nil)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	got := mem.Events()
	if len(got) != 2 || got[0].Type != TypeWalletIssued || got[1].Type != TypeTransferSubmitted {
		t.Fatalf("unexpected events %+v", got)
	}
	if len(mem.OfType(TypeAgentCreated)) != 0 {
		t.Fatal("oldest event should have been evicted")
	}
}

func TestMemoryPublisherHonoursContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewMemory(0).Publish(ctx, New(TypeAgentCreated, "a", "", nil)); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestNewAssignsIdentity(t *testing.T) {
	t.Parallel()

	a := New(TypeTransferFailed, "a", "evm", map[string]string{"code": "SUBMISSION_FAILED"})
	b := New(TypeTransferFailed, "a", "evm", nil)
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected unique ids, got %q and %q", a.ID, b.ID)
	}
	if a.OccurredAt.IsZero() || a.OccurredAt.Location() != time.UTC {
		t.Fatalf("expected UTC timestamp, got %v", a.OccurredAt)
	}
}

func TestNoopPublisher(t *testing.T) {
	t.Parallel()

	var p Publisher = Noop{}
	if err := p.Publish(context.Background(), Event{}); err != nil {
		t.Fatalf("noop publish: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("noop close: %v", err)
	}
}

func TestNewRabbitMQRequiresURL(t *testing.T) {
	t.Parallel()

	if _, err := NewRabbitMQ(RabbitMQConfig{}); err == nil {
		t.Fatal("expected error for empty URL")
	}
}

func TestRabbitMQPublishesRoutedJSON(t *testing.T) {
	url := os.Getenv("AGENTVAULT_TEST_AMQP")
	if url == "" {
		t.Skip("AGENTVAULT_TEST_AMQP not set")
	}

	exchange := "agentvault.test." + New(TypeAgentCreated, "", "", nil).ID
	pub, err := NewRabbitMQ(RabbitMQConfig{URL: url, Exchange: exchange})
	if err != nil {
		t.Fatalf("new rabbitmq: %v", err)
	}
	defer pub.Close()

	conn, err := amqp.Dial(url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		t.Fatalf("channel: %v", err)
	}
	defer ch.Close()
	defer ch.ExchangeDelete(exchange, false, false)

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		t.Fatalf("declare queue: %v", err)
	}
	if err := ch.QueueBind(q.Name, "transfer.*", exchange, false, nil); err != nil {
		t.Fatalf("bind: %v", err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	want := New(TypeTransferSubmitted, "agent-1", "solana-devnet", map[string]string{"signature": "sig"})
	if err := pub.Publish(ctx, want); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-deliveries:
		if msg.RoutingKey != string(TypeTransferSubmitted) || msg.DeliveryMode != amqp.Persistent {
			t.Fatalf("unexpected delivery %+v", msg)
		}
		var got Event
		if err := json.Unmarshal(msg.Body, &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.ID != want.ID || got.Attributes["signature"] != "sig" {
			t.Fatalf("unexpected event %+v", got)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for delivery")
	}
}
