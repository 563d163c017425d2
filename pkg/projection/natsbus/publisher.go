// Package natsbus adapts a NATS connection into a store.ProjectionHandler:
// the commit-time side effect (spec.md §4.2/§6) that publishes newly
// committed events for external read-model consumers.
package natsbus

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bryannaegele/maestro/pkg/domain"
)

// Publisher publishes committed events to subjects of the form
// "<module>.events.<type tag>". It runs synchronously inside the store's
// commit transaction — a publish failure fails the whole commit, exactly
// like any other ProjectionHandler.
type Publisher struct {
	conn   *nats.Conn
	module string
}

// New builds a Publisher that publishes through conn under subjects scoped
// by module.
func New(conn *nats.Conn, module string) *Publisher {
	return &Publisher{conn: conn, module: module}
}

// Handle implements store.ProjectionHandler.
func (p *Publisher) Handle(ctx context.Context, events []domain.Event) error {
	if p.conn == nil {
		return fmt.Errorf("natsbus: no connection configured")
	}
	for _, evt := range events {
		payload, err := encodeEvent(evt)
		if err != nil {
			return fmt.Errorf("natsbus: encode event %s: %w", evt.ID, err)
		}
		subject := fmt.Sprintf("%s.events.%s", p.module, evt.Type)
		if err := p.conn.Publish(subject, payload); err != nil {
			return fmt.Errorf("natsbus: publish to %s: %w", subject, err)
		}
	}
	return nil
}

// encodeEvent renders evt as a protobuf-serialized envelope struct, the
// same opaque-payload style the domain model uses for commands and events
// themselves rather than introducing a second wire format.
func encodeEvent(evt domain.Event) ([]byte, error) {
	envelope, err := structpb.NewStruct(map[string]any{
		"id":           evt.ID,
		"aggregate_id": evt.AggregateID,
		"sequence":     float64(evt.Sequence),
		"type":         evt.Type,
		"timestamp":    evt.Timestamp.String(),
	})
	if err != nil {
		return nil, err
	}
	if evt.Data != nil {
		envelope.Fields["data"] = structpb.NewStructValue(evt.Data)
	}
	return proto.Marshal(envelope)
}
