package workers_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"agora/contexts/governance/poll-engine/adapters/memory"
	"agora/contexts/governance/poll-engine/application/workers"
	"agora/contexts/governance/poll-engine/ports"
)

type capturingPublisher struct {
	published []publishedEvent
	failWith  error
}

type publishedEvent struct {
	topic string
	event ports.EventEnvelope
}

func (p *capturingPublisher) Publish(_ context.Context, topic string, event ports.EventEnvelope) error {
	if p.failWith != nil {
		return p.failWith
	}
	p.published = append(p.published, publishedEvent{topic: topic, event: event})
	return nil
}

func appendEnvelope(t *testing.T, store *memory.Store, eventType string, pollID string) {
	t.Helper()
	eventID, err := store.NewID(context.Background())
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	data, _ := json.Marshal(map[string]any{"poll_id": pollID})
	envelope := ports.EventEnvelope{
		EventID:          eventID,
		EventType:        eventType,
		OccurredAt:       store.Now(),
		SourceService:    "poll-engine",
		TraceID:          eventID,
		SchemaVersion:    1,
		PartitionKeyPath: "poll_id",
		PartitionKey:     pollID,
		Data:             data,
	}
	if err := store.AppendOutbox(context.Background(), envelope); err != nil {
		t.Fatalf("append outbox: %v", err)
	}
}

func TestOutboxRelayPublishesAndMarks(t *testing.T) {
	store := memory.NewStore(nil)
	publisher := &capturingPublisher{}
	relay := workers.OutboxRelay{Outbox: store, Publisher: publisher, Clock: store}
	ctx := context.Background()

	appendEnvelope(t, store, "poll.created", "poll-1")
	appendEnvelope(t, store, "vote.cast", "poll-1")

	if err := relay.RunOnce(ctx); err != nil {
		t.Fatalf("relay failed: %v", err)
	}
	if len(publisher.published) != 2 {
		t.Fatalf("expected 2 published events, got %d", len(publisher.published))
	}
	if publisher.published[0].topic != "poll.created" || publisher.published[1].topic != "vote.cast" {
		t.Fatalf("events published to wrong topics: %+v", publisher.published)
	}
	if publisher.published[0].event.PartitionKey != "poll-1" {
		t.Fatalf("envelope lost its partition key: %+v", publisher.published[0].event)
	}

	pending, err := store.ListPendingOutbox(ctx, 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("published rows still pending: %d", len(pending))
	}

	// Nothing left: a second cycle is a no-op.
	if err := relay.RunOnce(ctx); err != nil {
		t.Fatalf("idle relay failed: %v", err)
	}
	if len(publisher.published) != 2 {
		t.Fatalf("idle cycle republished events: %d", len(publisher.published))
	}
}

func TestOutboxRelayKeepsRowsOnPublishFailure(t *testing.T) {
	store := memory.NewStore(nil)
	publisher := &capturingPublisher{failWith: errors.New("broker unreachable")}
	relay := workers.OutboxRelay{Outbox: store, Publisher: publisher, Clock: store}
	ctx := context.Background()

	appendEnvelope(t, store, "poll.ended", "poll-2")

	if err := relay.RunOnce(ctx); err == nil {
		t.Fatal("expected relay to report the publish failure")
	}
	pending, _ := store.ListPendingOutbox(ctx, 10)
	if len(pending) != 1 {
		t.Fatalf("failed row must stay pending, got %d rows", len(pending))
	}

	// Broker recovers, the same row goes out.
	publisher.failWith = nil
	if err := relay.RunOnce(ctx); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if len(publisher.published) != 1 || publisher.published[0].topic != "poll.ended" {
		t.Fatalf("row not republished after recovery: %+v", publisher.published)
	}
	pending, _ = store.ListPendingOutbox(ctx, 10)
	if len(pending) != 0 {
		t.Fatalf("republished row still pending: %d", len(pending))
	}
}
