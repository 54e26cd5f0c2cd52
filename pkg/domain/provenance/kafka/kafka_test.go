package kafka_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/opst/orchestration/pkg/domain"
	xerr "github.com/opst/orchestration/pkg/domain/errors"
	"github.com/opst/orchestration/pkg/domain/provenance"
	pkafka "github.com/opst/orchestration/pkg/domain/provenance/kafka"
	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	err      error
	messages []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func event() provenance.Event {
	builder := provenance.NewBuilder(domain.Agent{ID: "service", Type: domain.Software})
	return builder.Create(domain.Resource{
		ID: "20.5000.1025/XYZ", Kind: domain.AnnotationService, Version: 1, Status: domain.Active,
		Created: time.Unix(0, 0).UTC(), Modified: time.Unix(0, 0).UTC(),
		Attributes: &domain.AnnotationServiceAttributes{Name: "mas", ContainerImage: "mas", ContainerTag: "v1", MaxReplicas: 1},
	}, domain.Agent{ID: "alice", Type: domain.Person})
}

func TestPublish(t *testing.T) {
	t.Run("it writes the event keyed by its routing key", func(t *testing.T) {
		w := &fakeWriter{}
		testee := pkafka.New(w, "provenance-exchange", "create-update-tombstone-event")

		e := event()
		if err := testee.Publish(context.Background(), e); err != nil {
			t.Fatal(err)
		}
		if len(w.messages) != 1 {
			t.Fatalf("unexpected messages: %d", len(w.messages))
		}
		msg := w.messages[0]
		routingKey := "create-update-tombstone-event.machine-annotation-service"
		if msg.Topic != "provenance-exchange" || string(msg.Key) != routingKey {
			t.Errorf("unexpected destination: %s %s", msg.Topic, msg.Key)
		}
		headers := map[string]string{}
		for _, h := range msg.Headers {
			headers[h.Key] = string(h.Value)
		}
		if headers[pkafka.HeaderRoutingKey] != routingKey {
			t.Errorf("unexpected headers: %v", headers)
		}

		doc := map[string]any{}
		if err := json.Unmarshal(msg.Value, &doc); err != nil {
			t.Fatal(err)
		}
		if doc["id"] != e.ID || doc["type"] != provenance.EventType {
			t.Errorf("unexpected document: %v", doc)
		}
	})

	t.Run("a broker failure is a publish failure", func(t *testing.T) {
		cause := errors.New("leader not available")
		testee := pkafka.New(&fakeWriter{err: cause}, "provenance-exchange", "")

		err := testee.Publish(context.Background(), event())
		if !errors.Is(err, xerr.ErrPublishFailure) || !errors.Is(err, cause) {
			t.Errorf("unexpected error: %v", err)
		}
		if pe, ok := xerr.AsPublishError(err); !ok || pe.RoutingKey != "machine-annotation-service" {
			t.Errorf("unexpected error: %v", err)
		}
	})
}
